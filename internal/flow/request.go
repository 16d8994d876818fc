// ABOUTME: Transport Call primitive used by client operations to run a server operation
// ABOUTME: Sets the flow-control key to the server operation and normalizes failures

package flow

import (
	"context"
	"errors"

	"github.com/2389/coven-authflow/internal/envelope"
)

var errNoCaller = errors.New("connection has no transport")

// Caller sends an envelope to the peer and returns the peer's response. The
// server operation to run is named by the envelope's flow-control key.
// Implementations report failures as *TransportError or *RemoteOperationError.
type Caller interface {
	Call(ctx context.Context, req envelope.Envelope) (envelope.Envelope, error)
}

// CallerFunc adapts a function to the Caller interface.
type CallerFunc func(ctx context.Context, req envelope.Envelope) (envelope.Envelope, error)

// Call calls f.
func (f CallerFunc) Call(ctx context.Context, req envelope.Envelope) (envelope.Envelope, error) {
	return f(ctx, req)
}

// Request runs the server operation named operation with req and returns its
// response. req itself is not modified. Errors are always *TransportError or
// *RemoteOperationError; anything else the caller returns is treated as a
// transport failure.
func Request(ctx context.Context, conn *ClientConn, operation string, req envelope.Envelope) (envelope.Envelope, error) {
	if conn == nil || conn.caller == nil {
		return nil, &TransportError{Operation: operation, Err: errNoCaller}
	}

	resp, err := conn.caller.Call(ctx, req.WithNextOperation(operation))
	if err != nil {
		var remote *RemoteOperationError
		var transport *TransportError
		if errors.As(err, &remote) || errors.As(err, &transport) {
			return nil, err
		}
		return nil, &TransportError{Operation: operation, Err: err}
	}
	if resp == nil {
		resp = envelope.New()
	}
	return resp, nil
}
