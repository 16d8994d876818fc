// Package flow implements the client-driven authentication handshake.
//
// # Operations
//
// A handshake is a chain of named operations. Each side keeps its own
// operation table: client operations run against a *ClientConn, server
// operations against a *ServerConn. Tables are filled once while a Plugin is
// built and are read-only afterwards.
//
// # Control flow
//
// The client Driver starts at EntryOperation and loops:
//
//	env = resolve(current).Invoke(ctx, conn, env)
//	next = env[next_operation]
//	stop when next == flow_complete, else current = next
//
// A client operation reaches the server with Request, which sets the
// flow-control key to the server operation name and hands the envelope to the
// connection's Caller. The server Responder resolves and runs exactly that
// operation and returns its result. The server never decides what runs next.
//
// # Connection state
//
// The only persisted effects of a handshake are the client's authenticated
// flag and the server's scheme name and authorization records. The flag is
// set by the scheme's terminal client operation (see Authenticated) and is
// cleared by the Driver on any failure. Authorization records are written by
// server operations through ServerConn.Authorize and are rolled back by the
// Responder if the writing operation fails.
//
// # Schemes
//
// A scheme contributes a Factory to a Registry:
//
//	reg := flow.NewRegistry()
//	reg.Register("template", template.New(template.Options{}))
//	plugin, err := reg.New("template", logger)
package flow
