// ABOUTME: Role store methods for authorization
// ABOUTME: Roles decide the privilege level a handshake grants to a principal

package store

import (
	"context"
	"fmt"
	"time"
)

// AddRole grants role to a principal. Granting an existing role succeeds silently.
func (s *SQLiteStore) AddRole(ctx context.Context, principalID string, role RoleName) error {
	if !validRole(role) {
		return fmt.Errorf("invalid role %q", role)
	}

	query := `
		INSERT OR IGNORE INTO roles (principal_id, role, created_at)
		VALUES (?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, principalID, role, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("adding role: %w", err)
	}

	s.logger.Debug("added role", "principal_id", principalID, "role", role)
	return nil
}

// RemoveRole revokes role from a principal. Removing a missing role succeeds silently.
func (s *SQLiteStore) RemoveRole(ctx context.Context, principalID string, role RoleName) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE principal_id = ? AND role = ?`, principalID, role)
	if err != nil {
		return fmt.Errorf("removing role: %w", err)
	}

	s.logger.Debug("removed role", "principal_id", principalID, "role", role)
	return nil
}

// ListRoles returns the roles of a principal in name order, or an empty slice.
func (s *SQLiteStore) ListRoles(ctx context.Context, principalID string) ([]RoleName, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT role FROM roles WHERE principal_id = ? ORDER BY role`, principalID)
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	defer rows.Close()

	roles := []RoleName{}
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("scanning role: %w", err)
		}
		roles = append(roles, RoleName(role))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating roles: %w", err)
	}
	return roles, nil
}
