// ABOUTME: In-process transport for exercising plugins without a network
// ABOUTME: Round-trips envelopes through the wire form like the gRPC transport does

// Package flowtest connects a client connection directly to a responder.
package flowtest

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/2389/coven-authflow/internal/envelope"
	"github.com/2389/coven-authflow/internal/flow"
)

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Loopback returns a Caller that dispatches each request to r on conn. Both
// directions are converted to the wire form and back, so values arrive typed
// as they would from a remote peer.
func Loopback(r *flow.Responder, conn *flow.ServerConn) flow.Caller {
	return flow.CallerFunc(func(ctx context.Context, req envelope.Envelope) (envelope.Envelope, error) {
		op, err := req.NextOperation()
		if err != nil {
			return nil, &flow.TransportError{Operation: "", Err: err}
		}

		in, err := wire(req)
		if err != nil {
			return nil, &flow.TransportError{Operation: op, Err: err}
		}

		resp, err := r.Dispatch(ctx, conn, op, in)
		if err != nil {
			return nil, &flow.RemoteOperationError{
				Operation: op,
				Code:      "Aborted",
				Message:   err.Error(),
				Unknown:   errors.Is(err, flow.ErrUnknownOperation),
			}
		}

		out, err := wire(resp)
		if err != nil {
			return nil, &flow.TransportError{Operation: op, Err: err}
		}
		return out, nil
	})
}

// Handshake runs a full client handshake for plugin against a fresh server
// connection and returns both sides' state.
func Handshake(ctx context.Context, plugin *flow.Plugin, initial envelope.Envelope) (*flow.ClientConn, *flow.ServerConn, envelope.Envelope, error) {
	server := flow.NewServerConn("loopback")
	client := flow.NewClientConn(plugin.Scheme(), Loopback(flow.NewResponder(plugin, Logger()), server))

	resp, err := flow.NewDriver(plugin, flow.WithLogger(Logger())).Run(ctx, client, initial)
	return client, server, resp, err
}

func wire(e envelope.Envelope) (envelope.Envelope, error) {
	s, err := e.ToProto()
	if err != nil {
		return nil, err
	}
	return envelope.FromProto(s), nil
}
