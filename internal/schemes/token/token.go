// ABOUTME: Bearer token scheme
// ABOUTME: Client presents a JWT, server verifies it and authorizes the principal named by sub

// Package token implements the "token" scheme.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/coven-authflow/internal/auth"
	"github.com/2389/coven-authflow/internal/envelope"
	"github.com/2389/coven-authflow/internal/flow"
)

// Scheme is the scheme identity.
const Scheme = "token"

// Operation names.
const (
	OpAgentStart    = "auth_agent_start"
	OpClientPresent = "auth_client_present"
	OpAgentVerify   = "auth_agent_verify"
)

// Envelope keys.
const (
	KeyToken       = "token"
	KeyClientUser  = flow.KeyClientUser
	KeyPrincipalID = flow.KeyPrincipalID
	KeyActingAs    = flow.KeyActingAs
	KeyLevel       = flow.KeyLevel
)

var (
	// ErrNoToken indicates the client has no token to present.
	ErrNoToken = errors.New("no token configured")

	// ErrMissingToken indicates the verify request carried no token.
	ErrMissingToken = errors.New("missing token")
)

// Options configures the scheme. Server operations are registered only when
// both Verifier and Authorizer are set.
type Options struct {
	Token      string
	ClientUser string

	Verifier   auth.TokenVerifier
	Authorizer *auth.Authorizer
}

// Factory returns a flow.Factory building the token scheme with opts.
func Factory(opts Options) flow.Factory {
	return func(scheme string, logger *slog.Logger) (*flow.Plugin, error) {
		if logger == nil {
			logger = slog.Default()
		}

		b := flow.NewBuilder(scheme).
			Client(flow.EntryOperation, flow.Forward(OpAgentStart, OpClientPresent)).
			Client(OpClientPresent, clientPresent(opts.Token, opts.ClientUser)).
			Client(flow.AuthenticatedOperation, flow.Authenticated)

		if opts.Verifier != nil && opts.Authorizer != nil {
			b.Server(OpAgentStart, flow.RecordScheme(scheme)).
				Server(OpAgentVerify, agentVerify(scheme, opts.Verifier, opts.Authorizer, logger))
		}

		return b.Build()
	}
}

func clientPresent(token, clientUser string) flow.OperationFunc[*flow.ClientConn] {
	return func(ctx context.Context, conn *flow.ClientConn, req envelope.Envelope) (envelope.Envelope, error) {
		if token == "" {
			return nil, ErrNoToken
		}

		out := envelope.New()
		out.Set(KeyToken, token)
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

// agentVerify only runs after auth_agent_start recorded the scheme on conn.
func agentVerify(scheme string, verifier auth.TokenVerifier, authorizer *auth.Authorizer, logger *slog.Logger) flow.OperationFunc[*flow.ServerConn] {
	return func(ctx context.Context, conn *flow.ServerConn, req envelope.Envelope) (envelope.Envelope, error) {
		if err := flow.RequireScheme(conn, scheme); err != nil {
			return nil, err
		}

		tok, ok := req.String(KeyToken)
		if !ok || tok == "" {
			return nil, ErrMissingToken
		}

		principalID, err := verifier.Verify(tok)
		if err != nil {
			logger.Warn("auth failure", "reason", "invalid_token", "peer_addr", conn.PeerAddr(), "error", err)
			return nil, err
		}

		principal, err := authorizer.PrincipalByID(ctx, principalID)
		if err != nil {
			return nil, fmt.Errorf("resolving token subject: %w", err)
		}

		clientUser, _ := req.String(KeyClientUser)
		if err := authorizer.Authorize(ctx, conn, principal, clientUser); err != nil {
			return nil, err
		}

		proxy, client := conn.ProxyUser(), conn.ClientUser()
		logger.Info("token authenticated",
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
