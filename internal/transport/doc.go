// Package transport carries handshake envelopes over a gRPC bidirectional
// stream.
//
// One stream is one handshake. The client names the scheme in the
// x-auth-scheme request metadata, then sends one google.protobuf.Struct per
// server operation; the operation to run is the envelope's next_operation
// value. The server answers each message with exactly one Struct or ends the
// stream with a status:
//
//	InvalidArgument    missing scheme metadata or flow-control key
//	Unimplemented      unknown scheme or unregistered server operation
//	Aborted            the server operation failed
//	ResourceExhausted  the stream exceeded its operation limit
//
// The service descriptor is written by hand since both message types are the
// well-known Struct.
package transport
