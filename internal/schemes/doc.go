// Package schemes holds the concrete authentication schemes. Each subpackage
// exposes a flow.Factory; Register wires the enabled ones into a registry.
package schemes
