// ABOUTME: Tests for the bearer token scheme
// ABOUTME: Loopback handshakes covering valid, expired, forged and unknown-subject tokens

package token

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-authflow/internal/auth"
	"github.com/2389/coven-authflow/internal/envelope"
	"github.com/2389/coven-authflow/internal/flow"
	"github.com/2389/coven-authflow/internal/flow/flowtest"
	"github.com/2389/coven-authflow/internal/store"
)

var secret = []byte("token-scheme-test-secret-32bytes")

type fixture struct {
	store      *store.MockStore
	verifier   *auth.JWTVerifier
	authorizer *auth.Authorizer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMockStore()
	return &fixture{
		store:      s,
		verifier:   auth.NewJWTVerifier(secret),
		authorizer: auth.NewAuthorizer(s, s, auth.WithAuthorizerLogger(flowtest.Logger())),
	}
}

func (f *fixture) addPrincipal(t *testing.T, id, name string, status store.PrincipalStatus, roles ...store.RoleName) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.CreatePrincipal(ctx, &store.Principal{
		ID:          id,
		Type:        store.PrincipalTypeClient,
		DisplayName: name,
		Status:      status,
	}))
	for _, r := range roles {
		require.NoError(t, f.store.AddRole(ctx, id, r))
	}
}

func (f *fixture) token(t *testing.T, principalID string, ttl time.Duration) string {
	t.Helper()
	tok, err := f.verifier.Generate(principalID, ttl)
	require.NoError(t, err)
	return tok
}

func (f *fixture) plugin(t *testing.T, tok, clientUser string) *flow.Plugin {
	t.Helper()
	p, err := Factory(Options{
		Token:      tok,
		ClientUser: clientUser,
		Verifier:   f.verifier,
		Authorizer: f.authorizer,
	})(Scheme, flowtest.Logger())
	require.NoError(t, err)
	return p
}

func TestToken_Handshake(t *testing.T) {
	f := newFixture(t)
	f.addPrincipal(t, "p1", "alice", store.PrincipalStatusApproved, store.RoleAdmin)

	client, server, resp, err := flowtest.Handshake(context.Background(), f.plugin(t, f.token(t, "p1", time.Hour), ""), nil)
	require.NoError(t, err)

	assert.True(t, client.Authenticated())
	assert.Equal(t, Scheme, server.Scheme())
	assert.Equal(t, flow.LevelAdmin, server.ProxyUser().Level)
	assert.Equal(t, "p1", resp[KeyPrincipalID])
	assert.Equal(t, "admin", resp[KeyLevel])
	assert.NotContains(t, resp, KeyToken)
}

func TestToken_Rejections(t *testing.T) {
	f := newFixture(t)
	f.addPrincipal(t, "p1", "alice", store.PrincipalStatusApproved)
	f.addPrincipal(t, "p2", "mallory", store.PrincipalStatusRevoked)

	forged, err := auth.NewJWTVerifier([]byte("a-completely-different-secret!!!")).Generate("p1", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"expired", f.token(t, "p1", -time.Minute)},
		{"forged", forged},
		{"unknown subject", f.token(t, "ghost", time.Hour)},
		{"revoked principal", f.token(t, "p2", time.Hour)},
		{"garbage", "not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, server, _, err := flowtest.Handshake(context.Background(), f.plugin(t, tt.token, ""), nil)
			assert.ErrorIs(t, err, flow.ErrRemoteOperation)
			assert.False(t, client.Authenticated())
			assert.False(t, server.Authorized())
		})
	}
}

func TestToken_NoToken(t *testing.T) {
	f := newFixture(t)

	_, _, _, err := flowtest.Handshake(context.Background(), f.plugin(t, "", ""), nil)
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestToken_AdminProxy(t *testing.T) {
	f := newFixture(t)
	f.addPrincipal(t, "admin", "root", store.PrincipalStatusApproved, store.RoleOwner)
	f.addPrincipal(t, "bob", "bob", store.PrincipalStatusApproved)

	initial := envelope.New()
	initial.Set(KeyClientUser, "bob")

	_, server, resp, err := flowtest.Handshake(context.Background(), f.plugin(t, f.token(t, "admin", time.Hour), ""), initial)
	require.NoError(t, err)
	assert.Equal(t, "bob", server.ClientUser().PrincipalID)
	assert.Equal(t, "bob", resp[KeyActingAs])
}

func TestToken_MissingTokenOnServer(t *testing.T) {
	f := newFixture(t)
	r := flow.NewResponder(f.plugin(t, "", ""), flowtest.Logger())

	conn := flow.NewServerConn("")
	conn.SetScheme(Scheme)

	_, err := r.Dispatch(context.Background(), conn, OpAgentVerify, envelope.New())
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestToken_VerifyWithoutStart(t *testing.T) {
	f := newFixture(t)
	f.addPrincipal(t, "admin", "root", store.PrincipalStatusApproved, store.RoleOwner)
	r := flow.NewResponder(f.plugin(t, "", ""), flowtest.Logger())

	req := envelope.New()
	req.Set(KeyToken, f.token(t, "admin", time.Hour))

	conn := flow.NewServerConn("")
	_, err := r.Dispatch(context.Background(), conn, OpAgentVerify, req)
	assert.ErrorIs(t, err, flow.ErrSchemeNotStarted)
	assert.False(t, conn.Authorized())
	assert.Equal(t, "", conn.Scheme())

	conn.SetScheme("template")
	_, err = r.Dispatch(context.Background(), conn, OpAgentVerify, req)
	assert.ErrorIs(t, err, flow.ErrSchemeNotStarted)
	assert.False(t, conn.Authorized())

	_, err = r.Dispatch(context.Background(), conn, OpAgentStart, envelope.New())
	require.NoError(t, err)
	_, err = r.Dispatch(context.Background(), conn, OpAgentVerify, req)
	require.NoError(t, err)
	assert.Equal(t, flow.LevelAdmin, conn.ProxyUser().Level)
}

func TestToken_ClientOnlyBuild(t *testing.T) {
	p, err := Factory(Options{Token: "x"})(Scheme, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, p.ServerOperations().Len())
}
