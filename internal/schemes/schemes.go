// ABOUTME: Registers the built-in schemes into a flow registry
// ABOUTME: Shared by the gateway and the login client so both agree on scheme names

package schemes

import (
	"fmt"

	"github.com/2389/coven-authflow/internal/flow"
	"github.com/2389/coven-authflow/internal/schemes/sshkey"
	"github.com/2389/coven-authflow/internal/schemes/template"
	"github.com/2389/coven-authflow/internal/schemes/token"
)

// Deps carries the per-scheme options. Zero server fields produce
// client-only plugins.
type Deps struct {
	SSH   sshkey.Options
	Token token.Options
}

// Names lists every built-in scheme.
func Names() []string {
	return []string{sshkey.Scheme, template.Scheme, token.Scheme}
}

// Register adds the factories for enabled schemes to r. An empty enabled
// list registers all built-in schemes.
func Register(r *flow.Registry, enabled []string, deps Deps) error {
	if len(enabled) == 0 {
		enabled = Names()
	}

	for _, name := range enabled {
		var f flow.Factory
		switch name {
		case template.Scheme:
			f = template.New
		case sshkey.Scheme:
			f = sshkey.Factory(deps.SSH)
		case token.Scheme:
			f = token.Factory(deps.Token)
		default:
			return fmt.Errorf("%w: %q", flow.ErrUnknownScheme, name)
		}
		if err := r.Register(name, f); err != nil {
			return err
		}
	}
	return nil
}
