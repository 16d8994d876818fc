// ABOUTME: Operation table mapping operation names to callables for one side of a handshake
// ABOUTME: Rejects duplicate names, becomes read-only once sealed at plugin construction

package flow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/2389/coven-authflow/internal/envelope"
)

// Operation is a single handshake step run against connection state C.
type Operation[C any] interface {
	Invoke(ctx context.Context, conn C, req envelope.Envelope) (envelope.Envelope, error)
}

// OperationFunc adapts a function to the Operation interface.
type OperationFunc[C any] func(ctx context.Context, conn C, req envelope.Envelope) (envelope.Envelope, error)

// Invoke calls f.
func (f OperationFunc[C]) Invoke(ctx context.Context, conn C, req envelope.Envelope) (envelope.Envelope, error) {
	return f(ctx, conn, req)
}

// Table maps operation names to operations. Registration is only allowed
// until Seal is called; after that the table is immutable and safe for
// concurrent use without locking.
type Table[C any] struct {
	mu     sync.RWMutex
	ops    map[string]Operation[C]
	sealed atomic.Bool
}

// NewTable creates an empty, unsealed table.
func NewTable[C any]() *Table[C] {
	return &Table[C]{ops: make(map[string]Operation[C])}
}

// Register adds op under name.
// Returns ErrDuplicateOperation if name exists, ErrTableSealed after Seal.
func (t *Table[C]) Register(name string, op Operation[C]) error {
	if name == "" {
		return fmt.Errorf("registering operation: empty name")
	}
	if op == nil {
		return fmt.Errorf("registering operation %q: nil operation", name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sealed.Load() {
		return fmt.Errorf("%w: cannot register %q", ErrTableSealed, name)
	}
	if _, exists := t.ops[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateOperation, name)
	}
	t.ops[name] = op
	return nil
}

// Resolve returns the operation registered under name.
func (t *Table[C]) Resolve(name string) (Operation[C], error) {
	if !t.sealed.Load() {
		t.mu.RLock()
		defer t.mu.RUnlock()
	}
	op, ok := t.ops[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, name)
	}
	return op, nil
}

// Has reports whether name is registered.
func (t *Table[C]) Has(name string) bool {
	_, err := t.Resolve(name)
	return err == nil
}

// Names returns the registered operation names in sorted order.
func (t *Table[C]) Names() []string {
	if !t.sealed.Load() {
		t.mu.RLock()
		defer t.mu.RUnlock()
	}
	names := make([]string, 0, len(t.ops))
	for name := range t.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered operations.
func (t *Table[C]) Len() int {
	return len(t.Names())
}

// Seal makes the table read-only. Safe to call multiple times.
func (t *Table[C]) Seal() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sealed.Store(true)
}

// Sealed reports whether the table is read-only.
func (t *Table[C]) Sealed() bool {
	return t.sealed.Load()
}
