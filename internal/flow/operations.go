// ABOUTME: Reusable client operations shared by concrete schemes
// ABOUTME: Forward hops to a server operation; Authenticated terminates the flow

package flow

import (
	"context"
	"fmt"

	"github.com/2389/coven-authflow/internal/envelope"
)

// AuthenticatedOperation is the conventional name of a scheme's terminal
// client operation.
const AuthenticatedOperation = "auth_client_authenticated"

// Envelope keys of the final server response of credential schemes, and the
// optional acting-as request.
const (
	KeyClientUser  = "client_user"
	KeyPrincipalID = "principal_id"
	KeyActingAs    = "acting_as"
	KeyLevel       = "level"
)

// Forward returns a client operation that runs serverOp with the inbound
// envelope and then hands control to the client operation next.
func Forward(serverOp, next string) OperationFunc[*ClientConn] {
	return func(ctx context.Context, conn *ClientConn, req envelope.Envelope) (envelope.Envelope, error) {
		resp, err := Request(ctx, conn, serverOp, req)
		if err != nil {
			return nil, err
		}
		resp.Set(envelope.KeyNextOperation, next)
		return resp, nil
	}
}

// Authenticated is a terminal client operation: it marks the connection as
// logged in and emits the completion sentinel.
func Authenticated(_ context.Context, conn *ClientConn, req envelope.Envelope) (envelope.Envelope, error) {
	resp := req.WithNextOperation(envelope.FlowComplete)
	conn.SetAuthenticated()
	return resp, nil
}

// RecordScheme returns a server operation that tags the connection with scheme
// and echoes the request. Schemes use it as their first server step.
func RecordScheme(scheme string) OperationFunc[*ServerConn] {
	return func(_ context.Context, conn *ServerConn, req envelope.Envelope) (envelope.Envelope, error) {
		conn.SetScheme(scheme)
		return req.Clone(), nil
	}
}

// RequireScheme fails with ErrSchemeNotStarted unless an earlier server
// operation recorded scheme on conn.
func RequireScheme(conn *ServerConn, scheme string) error {
	if got := conn.Scheme(); got != scheme {
		return fmt.Errorf("%w: want %q, have %q", ErrSchemeNotStarted, scheme, got)
	}
	return nil
}
