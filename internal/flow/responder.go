// ABOUTME: Server flow responder running one requested server operation per call
// ABOUTME: Purely reactive; rolls back authorization records when an operation fails

package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/coven-authflow/internal/envelope"
)

// Responder executes server operations of one plugin. It keeps no handshake
// state; ordering between server steps is carried by the envelope or by
// values on the ServerConn.
type Responder struct {
	plugin *Plugin
	logger *slog.Logger
}

// NewResponder creates a responder for plugin.
func NewResponder(plugin *Plugin, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{
		plugin: plugin,
		logger: logger.With("component", "responder", "scheme", plugin.Scheme()),
	}
}

// Scheme returns the scheme served by this responder.
func (r *Responder) Scheme() string {
	return r.plugin.Scheme()
}

// Dispatch resolves and runs exactly one server operation.
// Returns ErrUnknownOperation if operation is not registered. If the
// operation fails, authorization records on conn are restored to their values
// before the call.
func (r *Responder) Dispatch(ctx context.Context, conn *ServerConn, operation string, req envelope.Envelope) (envelope.Envelope, error) {
	op, err := r.plugin.server.Resolve(operation)
	if err != nil {
		r.logger.Warn("unknown server operation", "operation", operation, "peer_addr", conn.PeerAddr())
		return nil, err
	}

	saved := conn.snapshotAuth()
	resp, err := op.Invoke(ctx, conn, req.Clone())
	if err != nil {
		conn.restoreAuth(saved)
		r.logger.Warn("server operation failed", "operation", operation, "peer_addr", conn.PeerAddr(), "error", err)
		return nil, fmt.Errorf("operation %s: %w", operation, err)
	}
	if resp == nil {
		resp = envelope.New()
	}

	r.logger.Debug("server operation complete", "operation", operation, "authorized", conn.Authorized())
	return resp, nil
}
