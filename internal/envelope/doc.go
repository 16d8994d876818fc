// Package envelope implements the open key/value document threaded through
// every step of an authentication handshake.
//
// An Envelope maps string keys to JSON-like values: string, float64, bool,
// nil, nested map[string]any and []any. Absence of a key is distinct from a
// key present with a nil value.
//
// The only key interpreted by the handshake machinery is the flow-control key
// (KeyNextOperation). It names the next operation to run, or holds the
// FlowComplete sentinel once the handshake is finished.
//
// On the wire an Envelope travels as a google.protobuf.Struct:
//
//	pb, err := env.ToProto()
//	env := envelope.FromProto(pb)
package envelope
