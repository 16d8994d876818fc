// ABOUTME: Shared test helpers for the flow package
// ABOUTME: In-process loopback caller and a recording wrapper around operations

package flow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/2389/coven-authflow/internal/envelope"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// loopback delivers requests straight to a responder, translating failures
// the way a real transport would.
func loopback(r *Responder, conn *ServerConn) Caller {
	return CallerFunc(func(ctx context.Context, req envelope.Envelope) (envelope.Envelope, error) {
		op, err := req.NextOperation()
		if err != nil {
			return nil, &TransportError{Operation: "?", Err: err}
		}
		resp, err := r.Dispatch(ctx, conn, op, req)
		if err != nil {
			return nil, &RemoteOperationError{
				Operation: op,
				Code:      "Aborted",
				Message:   err.Error(),
				Unknown:   errors.Is(err, ErrUnknownOperation),
			}
		}
		return resp, nil
	})
}

// recorder tracks the order client operations are invoked in.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) wrap(name string, fn OperationFunc[*ClientConn]) (string, OperationFunc[*ClientConn]) {
	return name, func(ctx context.Context, conn *ClientConn, req envelope.Envelope) (envelope.Envelope, error) {
		r.mu.Lock()
		r.calls = append(r.calls, name)
		r.mu.Unlock()
		return fn(ctx, conn, req)
	}
}

func (r *recorder) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// scenarioPlugin builds the two-server-step, three-client-step flow.
func scenarioPlugin(t *testing.T, rec *recorder) *Plugin {
	t.Helper()
	p, err := NewBuilder("scenario").
		Client(rec.wrap(EntryOperation, Forward("auth_agent_start", "op2"))).
		Client(rec.wrap("op2", Forward("auth_agent_operation", AuthenticatedOperation))).
		Client(rec.wrap(AuthenticatedOperation, Authenticated)).
		Server("auth_agent_start", RecordScheme("scenario")).
		Server("auth_agent_operation", func(_ context.Context, _ *ServerConn, req envelope.Envelope) (envelope.Envelope, error) {
			return req, nil
		}).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return p
}
