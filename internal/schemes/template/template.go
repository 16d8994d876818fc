// ABOUTME: Template scheme demonstrating the two-round-trip handshake shape
// ABOUTME: Carries no credentials and grants no authorization

// Package template is the reference scheme new plugins are copied from. It
// walks the full client/server alternation without checking anything.
package template

import (
	"context"
	"log/slog"

	"github.com/2389/coven-authflow/internal/envelope"
	"github.com/2389/coven-authflow/internal/flow"
)

// Scheme is the scheme identity.
const Scheme = "template"

// Operation names beyond the shared entry and terminal operations.
const (
	OpAgentStart      = "auth_agent_start"
	OpClientOperation = "auth_client_operation"
	OpAgentOperation  = "auth_agent_operation"
)

// New is a flow.Factory for the template scheme.
func New(scheme string, logger *slog.Logger) (*flow.Plugin, error) {
	if logger == nil {
		logger = slog.Default()
	}

	return flow.NewBuilder(scheme).
		Client(flow.EntryOperation, flow.Forward(OpAgentStart, OpClientOperation)).
		Client(OpClientOperation, flow.Forward(OpAgentOperation, flow.AuthenticatedOperation)).
		Client(flow.AuthenticatedOperation, flow.Authenticated).
		Server(OpAgentStart, flow.RecordScheme(scheme)).
		Server(OpAgentOperation, agentOperation(logger)).
		Build()
}

// agentOperation echoes the request back. A real scheme checks credentials
// and calls ServerConn.Authorize here.
func agentOperation(logger *slog.Logger) flow.OperationFunc[*flow.ServerConn] {
	return func(_ context.Context, conn *flow.ServerConn, req envelope.Envelope) (envelope.Envelope, error) {
		logger.Debug("template operation", "peer_addr", conn.PeerAddr(), "keys", len(req))
		return req.Clone(), nil
	}
}
