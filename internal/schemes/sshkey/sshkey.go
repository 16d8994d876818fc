// ABOUTME: SSH key challenge-response scheme
// ABOUTME: Server issues a nonce, client signs it, server verifies and authorizes the key's principal

// Package sshkey implements the "ssh" scheme: the server issues a
// timestamped nonce, the client signs "timestamp|nonce" with its SSH key and
// the server maps the key fingerprint to a principal.
package sshkey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"github.com/2389/coven-authflow/internal/auth"
	"github.com/2389/coven-authflow/internal/envelope"
	"github.com/2389/coven-authflow/internal/flow"
)

// Scheme is the scheme identity.
const Scheme = "ssh"

// Operation names.
const (
	OpAgentStart  = "auth_agent_start"
	OpClientSign  = "auth_client_sign"
	OpAgentVerify = "auth_agent_verify"
)

// Envelope keys.
const (
	KeyNonce       = "nonce"
	KeyTimestamp   = "timestamp"
	KeyPubkey      = "pubkey"
	KeySignature   = "signature"
	KeyClientUser  = flow.KeyClientUser
	KeyPrincipalID = flow.KeyPrincipalID
	KeyActingAs    = flow.KeyActingAs
	KeyLevel       = flow.KeyLevel
)

// ServerConn value keys for the issued challenge.
const (
	valueNonce     = "ssh.nonce"
	valueTimestamp = "ssh.timestamp"
)

var (
	// ErrNoSigner indicates the client was built without a key.
	ErrNoSigner = errors.New("no ssh signer configured")

	// ErrNoChallenge indicates verification was requested before a challenge was issued.
	ErrNoChallenge = errors.New("no outstanding challenge")

	// ErrChallengeMismatch indicates the client signed something the server did not issue.
	ErrChallengeMismatch = errors.New("signed challenge does not match issued challenge")

	// ErrMissingField indicates a required envelope field is absent or mistyped.
	ErrMissingField = errors.New("missing field")
)

// Options configures the scheme. Client fields are used by client operations;
// server operations are registered only when both Verifier and Authorizer are set.
type Options struct {
	Signer     ssh.Signer
	ClientUser string

	Verifier   *auth.SSHVerifier
	Authorizer *auth.Authorizer
}

// Factory returns a flow.Factory building the ssh scheme with opts.
func Factory(opts Options) flow.Factory {
	return func(scheme string, logger *slog.Logger) (*flow.Plugin, error) {
		if logger == nil {
			logger = slog.Default()
		}

		b := flow.NewBuilder(scheme).
			Client(flow.EntryOperation, flow.Forward(OpAgentStart, OpClientSign)).
			Client(OpClientSign, clientSign(opts.Signer, opts.ClientUser)).
			Client(flow.AuthenticatedOperation, flow.Authenticated)

		if opts.Verifier != nil && opts.Authorizer != nil {
			b.Server(OpAgentStart, agentStart(scheme, time.Now)).
				Server(OpAgentVerify, agentVerify(opts.Verifier, opts.Authorizer, logger))
		}

		return b.Build()
	}
}

func clientSign(signer ssh.Signer, clientUser string) flow.OperationFunc[*flow.ClientConn] {
	return func(ctx context.Context, conn *flow.ClientConn, req envelope.Envelope) (envelope.Envelope, error) {
		if signer == nil {
			return nil, ErrNoSigner
		}

		nonce, ok := req.String(KeyNonce)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, KeyNonce)
		}
		ts, ok := req.Int64(KeyTimestamp)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, KeyTimestamp)
		}

		sig, err := auth.SignChallenge(signer, ts, nonce)
		if err != nil {
			return nil, err
		}

		out := envelope.New()
		out.Set(KeyNonce, nonce)
		out.Set(KeyTimestamp, ts)
		out.Set(KeyPubkey, strings.TrimSpace(string(ssh.MarshalAuthorizedKey(signer.PublicKey()))))
		out.Set(KeySignature, sig)
		if u, ok := req.String(KeyClientUser); ok && u != "" {
			clientUser = u
		}
		if clientUser != "" {
			out.Set(KeyClientUser, clientUser)
		}

		resp, err := flow.Request(ctx, conn, OpAgentVerify, out)
		if err != nil {
			return nil, err
		}
		resp.Set(envelope.KeyNextOperation, flow.AuthenticatedOperation)
		return resp, nil
	}
}

// agentStart records the scheme and issues a fresh challenge. A second start
// on the same connection replaces the outstanding challenge.
func agentStart(scheme string, now func() time.Time) flow.OperationFunc[*flow.ServerConn] {
	return func(_ context.Context, conn *flow.ServerConn, req envelope.Envelope) (envelope.Envelope, error) {
		conn.SetScheme(scheme)

		nonce := uuid.NewString()
		ts := now().Unix()
		conn.SetValue(valueNonce, nonce)
		conn.SetValue(valueTimestamp, ts)

		resp := req.Clone()
		resp.Set(KeyNonce, nonce)
		resp.Set(KeyTimestamp, ts)
		return resp, nil
	}
}

func agentVerify(verifier *auth.SSHVerifier, authorizer *auth.Authorizer, logger *slog.Logger) flow.OperationFunc[*flow.ServerConn] {
	return func(ctx context.Context, conn *flow.ServerConn, req envelope.Envelope) (envelope.Envelope, error) {
		challenge, err := takeChallenge(conn)
		if err != nil {
			return nil, err
		}

		var presented auth.SSHChallenge
		var ok bool
		if presented.Nonce, ok = req.String(KeyNonce); !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, KeyNonce)
		}
		if presented.Timestamp, ok = req.Int64(KeyTimestamp); !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, KeyTimestamp)
		}
		if presented.Pubkey, ok = req.String(KeyPubkey); !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, KeyPubkey)
		}
		if presented.Signature, ok = req.String(KeySignature); !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, KeySignature)
		}
		if presented.Nonce != challenge.Nonce || presented.Timestamp != challenge.Timestamp {
			return nil, ErrChallengeMismatch
		}

		fp, err := verifier.Verify(ctx, &presented)
		if err != nil {
			logger.Warn("auth failure", "reason", "ssh_verify", "peer_addr", conn.PeerAddr(), "error", err)
			return nil, err
		}

		principal, err := authorizer.PrincipalByFingerprint(ctx, fp)
		if err != nil {
			logger.Warn("auth failure", "reason", "unknown_key", "fingerprint", fp, "peer_addr", conn.PeerAddr())
			return nil, err
		}

		clientUser, _ := req.String(KeyClientUser)
		if err := authorizer.Authorize(ctx, conn, principal, clientUser); err != nil {
			return nil, err
		}

		proxy, client := conn.ProxyUser(), conn.ClientUser()
		logger.Info("ssh key authenticated",
			"principal_id", proxy.PrincipalID,
			"acting_as", client.PrincipalID,
			"level", client.Level.String(),
		)

		resp := envelope.New()
		resp.Set(KeyPrincipalID, proxy.PrincipalID)
		resp.Set(KeyActingAs, client.Name)
		resp.Set(KeyLevel, client.Level.String())
		return resp, nil
	}
}

// takeChallenge removes and returns the outstanding challenge so each one can
// be answered at most once per connection.
func takeChallenge(conn *flow.ServerConn) (auth.SSHChallenge, error) {
	nonceVal, ok := conn.Value(valueNonce)
	if !ok {
		return auth.SSHChallenge{}, ErrNoChallenge
	}
	tsVal, _ := conn.Value(valueTimestamp)
	conn.DeleteValue(valueNonce)
	conn.DeleteValue(valueTimestamp)

	nonce, _ := nonceVal.(string)
	ts, _ := tsVal.(int64)
	return auth.SSHChallenge{Nonce: nonce, Timestamp: ts}, nil
}
