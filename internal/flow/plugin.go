// ABOUTME: Authentication plugin holding sealed client and server operation tables
// ABOUTME: Builder assembles a plugin; Registry maps scheme names to plugin factories

package flow

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// EntryOperation is the client operation every scheme implements and every
// handshake starts with.
const EntryOperation = "auth_client_start"

// Plugin is one authentication scheme's pair of operation tables. Both tables
// are sealed, so a Plugin may be shared by concurrent handshakes.
type Plugin struct {
	scheme string
	client *Table[*ClientConn]
	server *Table[*ServerConn]
}

// Scheme returns the scheme identity.
func (p *Plugin) Scheme() string {
	return p.scheme
}

// ClientOperations returns the sealed client-side table.
func (p *Plugin) ClientOperations() *Table[*ClientConn] {
	return p.client
}

// ServerOperations returns the sealed server-side table. It is empty for
// client-only builds.
func (p *Plugin) ServerOperations() *Table[*ServerConn] {
	return p.server
}

// Builder assembles a Plugin. The first registration error is kept and
// returned by Build.
type Builder struct {
	scheme string
	client *Table[*ClientConn]
	server *Table[*ServerConn]
	err    error
}

// NewBuilder starts a plugin for scheme.
func NewBuilder(scheme string) *Builder {
	return &Builder{
		scheme: scheme,
		client: NewTable[*ClientConn](),
		server: NewTable[*ServerConn](),
	}
}

// Client registers a client-side operation.
func (b *Builder) Client(name string, fn OperationFunc[*ClientConn]) *Builder {
	if b.err == nil {
		if err := b.client.Register(name, fn); err != nil {
			b.err = fmt.Errorf("client operation: %w", err)
		}
	}
	return b
}

// Server registers a server-side operation.
func (b *Builder) Server(name string, fn OperationFunc[*ServerConn]) *Builder {
	if b.err == nil {
		if err := b.server.Register(name, fn); err != nil {
			b.err = fmt.Errorf("server operation: %w", err)
		}
	}
	return b
}

// Build seals both tables and returns the plugin.
func (b *Builder) Build() (*Plugin, error) {
	if b.scheme == "" {
		return nil, fmt.Errorf("building plugin: empty scheme")
	}
	if b.err != nil {
		return nil, fmt.Errorf("building %s plugin: %w", b.scheme, b.err)
	}
	if !b.client.Has(EntryOperation) {
		return nil, fmt.Errorf("building %s plugin: %w: %s", b.scheme, ErrMissingEntryOperation, EntryOperation)
	}

	b.client.Seal()
	b.server.Seal()

	return &Plugin{
		scheme: b.scheme,
		client: b.client,
		server: b.server,
	}, nil
}

// Factory constructs a plugin for scheme. It is the extension point every
// concrete scheme implements. The logger is scoped to the plugin's lifetime.
type Factory func(scheme string, logger *slog.Logger) (*Plugin, error)

// Registry maps scheme names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Returns ErrDuplicateScheme if scheme exists.
func (r *Registry) Register(scheme string, f Factory) error {
	if scheme == "" || f == nil {
		return fmt.Errorf("registering scheme %q: empty scheme or nil factory", scheme)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[scheme]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateScheme, scheme)
	}
	r.factories[scheme] = f
	return nil
}

// New constructs a plugin for scheme. Returns ErrUnknownScheme if no factory
// is registered.
func (r *Registry) New(scheme string, logger *slog.Logger) (*Plugin, error) {
	r.mu.RLock()
	f, ok := r.factories[scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
	if logger == nil {
		logger = slog.Default()
	}

	p, err := f(scheme, logger.With("scheme", scheme))
	if err != nil {
		return nil, err
	}
	if p.Scheme() != scheme {
		return nil, fmt.Errorf("factory for %q built plugin for %q", scheme, p.Scheme())
	}
	return p, nil
}

// Schemes returns the registered scheme names in sorted order.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
