// ABOUTME: Tests for the handshake audit log
// ABOUTME: Covers generated fields, filtering, ordering and limits

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshakes_AppendAndList(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

		records := []*HandshakeRecord{
			{SessionID: "s1", Scheme: "ssh", ProxyPrincipalID: "p1", ClientPrincipalID: "p1", Level: "user", Outcome: OutcomeAuthorized, PeerAddr: "10.0.0.1:1", StartedAt: base},
			{SessionID: "s2", Scheme: "token", Level: "none", Outcome: OutcomeFailed, Error: "invalid token", StartedAt: base.Add(time.Minute)},
			{SessionID: "s3", Scheme: "ssh", ProxyPrincipalID: "admin", ClientPrincipalID: "p1", Level: "user", Outcome: OutcomeAuthorized, StartedAt: base.Add(2 * time.Minute)},
		}
		for _, r := range records {
			require.NoError(t, s.AppendHandshake(ctx, r))
			assert.NotEmpty(t, r.ID)
			assert.False(t, r.FinishedAt.IsZero())
		}

		all, err := s.ListHandshakes(ctx, HandshakeFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "s3", all[0].SessionID)
		assert.Equal(t, "s1", all[2].SessionID)
		assert.Equal(t, "10.0.0.1:1", all[2].PeerAddr)

		ssh, err := s.ListHandshakes(ctx, HandshakeFilter{Scheme: "ssh"})
		require.NoError(t, err)
		assert.Len(t, ssh, 2)

		byPrincipal, err := s.ListHandshakes(ctx, HandshakeFilter{PrincipalID: "p1"})
		require.NoError(t, err)
		assert.Len(t, byPrincipal, 2)

		failed, err := s.ListHandshakes(ctx, HandshakeFilter{Outcome: OutcomeFailed})
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, "invalid token", failed[0].Error)
		assert.Empty(t, failed[0].ProxyPrincipalID)
	})
}

func TestHandshakes_Limit(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		for i := 0; i < 5; i++ {
			require.NoError(t, s.AppendHandshake(ctx, &HandshakeRecord{
				SessionID: fmt.Sprintf("s%d", i),
				Scheme:    "template",
				Level:     "none",
				Outcome:   OutcomeUnauthorized,
				StartedAt: base.Add(time.Duration(i) * time.Second),
			}))
		}

		got, err := s.ListHandshakes(ctx, HandshakeFilter{Limit: 2})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "s4", got[0].SessionID)
	})
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, 100, normalizeLimit(0))
	assert.Equal(t, 1000, normalizeLimit(5000))
	assert.Equal(t, 7, normalizeLimit(7))
}
