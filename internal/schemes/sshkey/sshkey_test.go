// ABOUTME: Tests for the ssh key scheme
// ABOUTME: Loopback handshakes covering success, denial, proxying and challenge misuse

package sshkey

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/2389/coven-authflow/internal/auth"
	"github.com/2389/coven-authflow/internal/envelope"
	"github.com/2389/coven-authflow/internal/flow"
	"github.com/2389/coven-authflow/internal/flow/flowtest"
	"github.com/2389/coven-authflow/internal/replay"
	"github.com/2389/coven-authflow/internal/store"
)

type fixture struct {
	store      *store.MockStore
	verifier   *auth.SSHVerifier
	authorizer *auth.Authorizer
}

func newFixture(t *testing.T, authOpts ...auth.AuthorizerOption) *fixture {
	t.Helper()
	cache := replay.NewMemory(time.Hour, 100)
	t.Cleanup(cache.Close)

	s := store.NewMockStore()
	authOpts = append(authOpts, auth.WithAuthorizerLogger(flowtest.Logger()))
	return &fixture{
		store:      s,
		verifier:   auth.NewSSHVerifier(cache),
		authorizer: auth.NewAuthorizer(s, s, authOpts...),
	}
}

func newSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return signer
}

func (f *fixture) addPrincipal(t *testing.T, id, name string, signer ssh.Signer, status store.PrincipalStatus, roles ...store.RoleName) {
	t.Helper()
	ctx := context.Background()
	p := &store.Principal{
		ID:          id,
		Type:        store.PrincipalTypeUser,
		DisplayName: name,
		Status:      status,
	}
	if signer != nil {
		p.PubkeyFP = auth.ComputeFingerprint(signer.PublicKey())
	}
	require.NoError(t, f.store.CreatePrincipal(ctx, p))
	for _, r := range roles {
		require.NoError(t, f.store.AddRole(ctx, id, r))
	}
}

func (f *fixture) plugin(t *testing.T, signer ssh.Signer, clientUser string) *flow.Plugin {
	t.Helper()
	p, err := Factory(Options{
		Signer:     signer,
		ClientUser: clientUser,
		Verifier:   f.verifier,
		Authorizer: f.authorizer,
	})(Scheme, flowtest.Logger())
	require.NoError(t, err)
	return p
}

func TestSSH_Handshake(t *testing.T) {
	f := newFixture(t)
	signer := newSigner(t)
	f.addPrincipal(t, "p1", "alice", signer, store.PrincipalStatusApproved, store.RoleMember)

	client, server, resp, err := flowtest.Handshake(context.Background(), f.plugin(t, signer, ""), nil)
	require.NoError(t, err)

	assert.True(t, client.Authenticated())
	assert.True(t, resp.Complete())
	assert.Equal(t, "p1", resp[KeyPrincipalID])
	assert.Equal(t, "user", resp[KeyLevel])

	assert.Equal(t, Scheme, server.Scheme())
	assert.True(t, server.Authorized())
	assert.Equal(t, "alice", server.ClientUser().Name)

	_, outstanding := server.Value(valueNonce)
	assert.False(t, outstanding)
}

func TestSSH_UnknownKeyRejected(t *testing.T) {
	f := newFixture(t)

	client, server, _, err := flowtest.Handshake(context.Background(), f.plugin(t, newSigner(t), ""), nil)
	assert.ErrorIs(t, err, flow.ErrRemoteOperation)
	assert.False(t, client.Authenticated())
	assert.False(t, server.Authorized())
}

func TestSSH_AutoRegistration(t *testing.T) {
	f := newFixture(t)
	f.authorizer = auth.NewAuthorizer(f.store, f.store,
		auth.WithAutoRegistration(auth.AutoRegisterApproved, f.store),
		auth.WithAuthorizerLogger(flowtest.Logger()))
	signer := newSigner(t)

	client, server, _, err := flowtest.Handshake(context.Background(), f.plugin(t, signer, ""), nil)
	require.NoError(t, err)
	assert.True(t, client.Authenticated())
	assert.True(t, server.Authorized())

	p, err := f.store.GetPrincipalByPubkey(context.Background(), auth.ComputeFingerprint(signer.PublicKey()))
	require.NoError(t, err)
	assert.Equal(t, p.ID, server.ProxyUser().PrincipalID)
}

func TestSSH_RevokedPrincipalRejected(t *testing.T) {
	f := newFixture(t)
	signer := newSigner(t)
	f.addPrincipal(t, "p1", "alice", signer, store.PrincipalStatusRevoked)

	client, server, _, err := flowtest.Handshake(context.Background(), f.plugin(t, signer, ""), nil)
	assert.ErrorIs(t, err, flow.ErrRemoteOperation)
	assert.False(t, client.Authenticated())
	assert.False(t, server.Authorized())
}

func TestSSH_AdminProxy(t *testing.T) {
	f := newFixture(t)
	signer := newSigner(t)
	f.addPrincipal(t, "admin", "root", signer, store.PrincipalStatusApproved, store.RoleAdmin)
	f.addPrincipal(t, "bob", "bob", nil, store.PrincipalStatusApproved, store.RoleMember)

	_, server, resp, err := flowtest.Handshake(context.Background(), f.plugin(t, signer, "bob"), nil)
	require.NoError(t, err)

	assert.Equal(t, "admin", server.ProxyUser().PrincipalID)
	assert.Equal(t, "bob", server.ClientUser().PrincipalID)
	assert.Equal(t, "bob", resp[KeyActingAs])
	assert.Equal(t, "user", resp[KeyLevel])
}

func TestSSH_ClientUserFromInitialEnvelope(t *testing.T) {
	f := newFixture(t)
	signer := newSigner(t)
	f.addPrincipal(t, "admin", "root", signer, store.PrincipalStatusApproved, store.RoleOwner)
	f.addPrincipal(t, "bob", "bob", nil, store.PrincipalStatusApproved)

	initial := envelope.New()
	initial.Set(KeyClientUser, "bob")

	_, server, _, err := flowtest.Handshake(context.Background(), f.plugin(t, signer, ""), initial)
	require.NoError(t, err)
	assert.Equal(t, "bob", server.ClientUser().PrincipalID)
}

func TestSSH_NonAdminProxyRejected(t *testing.T) {
	f := newFixture(t)
	signer := newSigner(t)
	f.addPrincipal(t, "alice", "alice", signer, store.PrincipalStatusApproved, store.RoleMember)
	f.addPrincipal(t, "bob", "bob", nil, store.PrincipalStatusApproved)

	client, server, _, err := flowtest.Handshake(context.Background(), f.plugin(t, signer, "bob"), nil)
	assert.ErrorIs(t, err, flow.ErrRemoteOperation)
	assert.False(t, client.Authenticated())
	assert.False(t, server.Authorized())
}

func TestSSH_NoSigner(t *testing.T) {
	f := newFixture(t)

	client, _, _, err := flowtest.Handshake(context.Background(), f.plugin(t, nil, ""), nil)
	assert.ErrorIs(t, err, ErrNoSigner)
	assert.False(t, client.Authenticated())
}

func TestSSH_ClientOnlyBuild(t *testing.T) {
	p, err := Factory(Options{Signer: newSigner(t)})(Scheme, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, p.ServerOperations().Len())
	assert.True(t, p.ClientOperations().Has(flow.EntryOperation))
	assert.True(t, p.ClientOperations().Has(OpClientSign))
}

// signedRequest issues a challenge on conn and returns a valid verify request.
func signedRequest(t *testing.T, r *flow.Responder, conn *flow.ServerConn, signer ssh.Signer) envelope.Envelope {
	t.Helper()
	ctx := context.Background()

	challenge, err := r.Dispatch(ctx, conn, OpAgentStart, envelope.New())
	require.NoError(t, err)
	nonce, _ := challenge.String(KeyNonce)
	ts, _ := challenge.Int64(KeyTimestamp)

	sig, err := auth.SignChallenge(signer, ts, nonce)
	require.NoError(t, err)

	req := envelope.New()
	req.Set(KeyNonce, nonce)
	req.Set(KeyTimestamp, ts)
	req.Set(KeyPubkey, string(ssh.MarshalAuthorizedKey(signer.PublicKey())))
	req.Set(KeySignature, sig)
	return req
}

func TestSSH_VerifyWithoutChallenge(t *testing.T) {
	f := newFixture(t)
	r := flow.NewResponder(f.plugin(t, nil, ""), flowtest.Logger())

	_, err := r.Dispatch(context.Background(), flow.NewServerConn(""), OpAgentVerify, envelope.New())
	assert.ErrorIs(t, err, ErrNoChallenge)
}

func TestSSH_ChallengeIsSingleUse(t *testing.T) {
	f := newFixture(t)
	signer := newSigner(t)
	f.addPrincipal(t, "p1", "alice", signer, store.PrincipalStatusApproved)
	r := flow.NewResponder(f.plugin(t, signer, ""), flowtest.Logger())
	conn := flow.NewServerConn("")

	req := signedRequest(t, r, conn, signer)
	_, err := r.Dispatch(context.Background(), conn, OpAgentVerify, req)
	require.NoError(t, err)

	_, err = r.Dispatch(context.Background(), conn, OpAgentVerify, req)
	assert.ErrorIs(t, err, ErrNoChallenge)
}

func TestSSH_ReplayAcrossConnections(t *testing.T) {
	f := newFixture(t)
	signer := newSigner(t)
	f.addPrincipal(t, "p1", "alice", signer, store.PrincipalStatusApproved)
	r := flow.NewResponder(f.plugin(t, signer, ""), flowtest.Logger())

	first := flow.NewServerConn("")
	req := signedRequest(t, r, first, signer)
	_, err := r.Dispatch(context.Background(), first, OpAgentVerify, req)
	require.NoError(t, err)

	// A second connection that somehow holds the same challenge is still
	// rejected by the replay cache.
	second := flow.NewServerConn("")
	second.SetValue(valueNonce, req[KeyNonce])
	second.SetValue(valueTimestamp, req[KeyTimestamp])
	_, err = r.Dispatch(context.Background(), second, OpAgentVerify, req)
	assert.ErrorIs(t, err, auth.ErrChallengeReplayed)
	assert.False(t, second.Authorized())
}

func TestSSH_ChallengeMismatch(t *testing.T) {
	f := newFixture(t)
	signer := newSigner(t)
	f.addPrincipal(t, "p1", "alice", signer, store.PrincipalStatusApproved)
	r := flow.NewResponder(f.plugin(t, signer, ""), flowtest.Logger())
	conn := flow.NewServerConn("")

	req := signedRequest(t, r, conn, signer)
	req.Set(KeyNonce, "forged")

	_, err := r.Dispatch(context.Background(), conn, OpAgentVerify, req)
	assert.ErrorIs(t, err, ErrChallengeMismatch)
	assert.False(t, conn.Authorized())
}

func TestSSH_MissingFields(t *testing.T) {
	f := newFixture(t)
	signer := newSigner(t)
	r := flow.NewResponder(f.plugin(t, signer, ""), flowtest.Logger())

	for _, key := range []string{KeyNonce, KeyTimestamp, KeyPubkey, KeySignature} {
		t.Run(key, func(t *testing.T) {
			conn := flow.NewServerConn("")
			req := signedRequest(t, r, conn, signer)
			req.Delete(key)

			_, err := r.Dispatch(context.Background(), conn, OpAgentVerify, req)
			assert.ErrorIs(t, err, ErrMissingField)
		})
	}
}
