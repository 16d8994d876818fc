// ABOUTME: Client flow driver executing the chain of client operations
// ABOUTME: Follows next_operation until flow_complete, with a step ceiling and cancellation between steps

package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/coven-authflow/internal/envelope"
)

// DefaultMaxSteps bounds the number of client operations in one handshake.
const DefaultMaxSteps = 32

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithMaxSteps sets the step ceiling. Values below 1 are ignored.
func WithMaxSteps(n int) DriverOption {
	return func(d *Driver) {
		if n > 0 {
			d.maxSteps = n
		}
	}
}

// WithLogger sets the driver's logger.
func WithLogger(logger *slog.Logger) DriverOption {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// Driver runs the client side of a handshake for one plugin. A Driver holds
// no per-handshake state and may run concurrent handshakes on distinct
// connections.
type Driver struct {
	plugin   *Plugin
	logger   *slog.Logger
	maxSteps int
}

// NewDriver creates a driver for plugin.
func NewDriver(plugin *Plugin, opts ...DriverOption) *Driver {
	d := &Driver{
		plugin:   plugin,
		logger:   slog.Default(),
		maxSteps: DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "driver", "scheme", plugin.Scheme())
	return d
}

// Run executes the handshake starting at EntryOperation with a copy of
// initial, and returns the envelope produced by the terminal operation.
//
// Any failure aborts the handshake and leaves conn unauthenticated. The
// context is checked between steps only; a running step is never interrupted
// by the driver.
func (d *Driver) Run(ctx context.Context, conn *ClientConn, initial envelope.Envelope) (_ envelope.Envelope, err error) {
	defer func() {
		if err != nil {
			conn.resetAuthenticated()
			d.logger.Warn("handshake failed", "error", err)
		}
	}()

	env := initial.Clone()
	env.Delete(envelope.KeyNextOperation)
	current := EntryOperation

	for step := 1; ; step++ {
		if step > d.maxSteps {
			return nil, fmt.Errorf("%w: no %s after %d steps (next was %q)",
				ErrHandshakeLoopDetected, envelope.FlowComplete, d.maxSteps, current)
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("handshake cancelled before %s: %w", current, err)
		}

		op, err := d.plugin.client.Resolve(current)
		if err != nil {
			return nil, err
		}

		d.logger.Debug("handshake step", "step", step, "operation", current)
		out, err := op.Invoke(ctx, conn, env)
		if err != nil {
			return nil, fmt.Errorf("operation %s: %w", current, err)
		}
		if out == nil {
			return nil, fmt.Errorf("%w: %s returned no envelope", ErrMalformedHandshakeResponse, current)
		}

		next, err := out.NextOperation()
		if err != nil {
			return nil, fmt.Errorf("%w: after %s: %w", ErrMalformedHandshakeResponse, current, err)
		}

		if next == envelope.FlowComplete {
			if !conn.Authenticated() {
				d.logger.Warn("handshake completed without terminal operation setting authenticated", "operation", current)
			}
			d.logger.Info("handshake complete", "steps", step)
			return out, nil
		}

		env = out
		current = next
	}
}
