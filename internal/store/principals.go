// ABOUTME: Principal entity store methods
// ABOUTME: Lookup by ID, SSH key fingerprint or display name, plus status updates

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const principalColumns = `principal_id, type, pubkey_fingerprint, display_name, status, created_at`

// CreatePrincipal inserts a principal. Returns ErrDuplicatePrincipal if the
// ID, fingerprint or display name is taken.
func (s *SQLiteStore) CreatePrincipal(ctx context.Context, p *Principal) error {
	if !validStatus(p.Status) {
		return fmt.Errorf("invalid principal status %q", p.Status)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO principals (` + principalColumns + `) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		p.ID,
		p.Type,
		nullString(p.PubkeyFP),
		p.DisplayName,
		p.Status,
		p.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", ErrDuplicatePrincipal, err)
		}
		return fmt.Errorf("inserting principal: %w", err)
	}

	s.logger.Debug("created principal", "principal_id", p.ID, "type", p.Type, "name", p.DisplayName)
	return nil
}

// GetPrincipal retrieves a principal by ID.
func (s *SQLiteStore) GetPrincipal(ctx context.Context, id string) (*Principal, error) {
	return s.getPrincipal(ctx, `principal_id = ?`, id)
}

// GetPrincipalByPubkey retrieves a principal by SSH key fingerprint.
func (s *SQLiteStore) GetPrincipalByPubkey(ctx context.Context, fingerprint string) (*Principal, error) {
	if fingerprint == "" {
		return nil, ErrPrincipalNotFound
	}
	return s.getPrincipal(ctx, `pubkey_fingerprint = ?`, fingerprint)
}

// GetPrincipalByName retrieves a principal by display name.
func (s *SQLiteStore) GetPrincipalByName(ctx context.Context, name string) (*Principal, error) {
	return s.getPrincipal(ctx, `display_name = ?`, name)
}

func (s *SQLiteStore) getPrincipal(ctx context.Context, where string, arg any) (*Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE ` + where
	p, err := scanPrincipal(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPrincipalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying principal: %w", err)
	}
	return p, nil
}

// UpdatePrincipalStatus changes a principal's status.
func (s *SQLiteStore) UpdatePrincipalStatus(ctx context.Context, id string, status PrincipalStatus) error {
	if !validStatus(status) {
		return fmt.Errorf("invalid principal status %q", status)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE principals SET status = ? WHERE principal_id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("updating principal status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrPrincipalNotFound
	}

	s.logger.Debug("updated principal status", "principal_id", id, "status", status)
	return nil
}

// ListPrincipals returns all principals ordered by creation time.
func (s *SQLiteStore) ListPrincipals(ctx context.Context) ([]*Principal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+principalColumns+` FROM principals ORDER BY created_at, principal_id`)
	if err != nil {
		return nil, fmt.Errorf("listing principals: %w", err)
	}
	defer rows.Close()

	principals := []*Principal{}
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning principal: %w", err)
		}
		principals = append(principals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating principals: %w", err)
	}
	return principals, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(row rowScanner) (*Principal, error) {
	var (
		p         Principal
		pubkey    sql.NullString
		createdAt string
	)
	if err := row.Scan(&p.ID, &p.Type, &pubkey, &p.DisplayName, &p.Status, &createdAt); err != nil {
		return nil, err
	}
	p.PubkeyFP = pubkey.String

	var err error
	p.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &p, nil
}
