// ABOUTME: Handshake audit log store methods
// ABOUTME: Records who authenticated with which scheme, from where, and how it ended

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AppendHandshake appends a record. ID and FinishedAt are generated if unset.
func (s *SQLiteStore) AppendHandshake(ctx context.Context, r *HandshakeRecord) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now().UTC()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = r.FinishedAt
	}

	query := `
		INSERT INTO handshakes (handshake_id, session_id, scheme, proxy_principal_id, client_principal_id,
			level, outcome, error, peer_addr, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID,
		r.SessionID,
		r.Scheme,
		nullString(r.ProxyPrincipalID),
		nullString(r.ClientPrincipalID),
		r.Level,
		r.Outcome,
		nullString(r.Error),
		nullString(r.PeerAddr),
		r.StartedAt.UTC().Format(time.RFC3339Nano),
		r.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting handshake record: %w", err)
	}

	s.logger.Debug("recorded handshake",
		"id", r.ID,
		"session_id", r.SessionID,
		"scheme", r.Scheme,
		"outcome", r.Outcome,
	)
	return nil
}

// ListHandshakes returns records matching f, newest first.
func (s *SQLiteStore) ListHandshakes(ctx context.Context, f HandshakeFilter) ([]HandshakeRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Scheme != "" {
		where = append(where, "scheme = ?")
		args = append(args, f.Scheme)
	}
	if f.PrincipalID != "" {
		where = append(where, "(proxy_principal_id = ? OR client_principal_id = ?)")
		args = append(args, f.PrincipalID, f.PrincipalID)
	}
	if f.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, f.Outcome)
	}

	query := `
		SELECT handshake_id, session_id, scheme, proxy_principal_id, client_principal_id,
			level, outcome, error, peer_addr, started_at, finished_at
		FROM handshakes`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, handshake_id LIMIT ?"
	args = append(args, normalizeLimit(f.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing handshakes: %w", err)
	}
	defer rows.Close()

	records := []HandshakeRecord{}
	for rows.Next() {
		var (
			r                            HandshakeRecord
			proxy, client, errText, peer sql.NullString
			startedAt, finishedAt        string
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Scheme, &proxy, &client,
			&r.Level, &r.Outcome, &errText, &peer, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scanning handshake: %w", err)
		}
		r.ProxyPrincipalID = proxy.String
		r.ClientPrincipalID = client.String
		r.Error = errText.String
		r.PeerAddr = peer.String
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, fmt.Errorf("parsing started_at: %w", err)
		}
		if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt); err != nil {
			return nil, fmt.Errorf("parsing finished_at: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating handshakes: %w", err)
	}
	return records, nil
}
