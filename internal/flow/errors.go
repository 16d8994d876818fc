// ABOUTME: Error taxonomy for the authentication handshake
// ABOUTME: Sentinel errors plus typed transport and remote-operation failures

package flow

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownOperation indicates an operation name is not registered on the resolving side.
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrDuplicateOperation indicates an operation name was registered twice.
	ErrDuplicateOperation = errors.New("operation already registered")

	// ErrTableSealed indicates a registration after plugin construction completed.
	ErrTableSealed = errors.New("operation table is sealed")

	// ErrMissingEntryOperation indicates a plugin without the client entry operation.
	ErrMissingEntryOperation = errors.New("entry operation not registered")

	// ErrMalformedHandshakeResponse indicates a step returned without a usable flow-control key.
	ErrMalformedHandshakeResponse = errors.New("malformed handshake response")

	// ErrHandshakeLoopDetected indicates the chain exceeded the configured step ceiling.
	ErrHandshakeLoopDetected = errors.New("handshake loop detected")

	// ErrTransport indicates the peer could not be reached or the exchange was corrupted.
	ErrTransport = errors.New("transport error")

	// ErrRemoteOperation indicates the peer's operation itself failed.
	ErrRemoteOperation = errors.New("remote operation failed")

	// ErrSchemeNotStarted indicates a server operation ran before the scheme's
	// first server operation recorded it on the connection.
	ErrSchemeNotStarted = errors.New("scheme not started on this connection")

	// ErrUnknownScheme indicates no factory is registered for a scheme.
	ErrUnknownScheme = errors.New("unknown authentication scheme")

	// ErrDuplicateScheme indicates a scheme factory was registered twice.
	ErrDuplicateScheme = errors.New("authentication scheme already registered")
)

// TransportError wraps a connectivity or protocol failure of a Transport Call.
// It matches ErrTransport and the underlying cause with errors.Is.
type TransportError struct {
	Operation string // server operation being called
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error calling %s: %v", e.Operation, e.Err)
}

// Unwrap exposes both ErrTransport and the underlying cause.
func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// RemoteOperationError reports that the peer ran (or tried to run) the named
// operation and it failed. It matches ErrRemoteOperation, and additionally
// ErrUnknownOperation when the peer did not have the operation registered.
type RemoteOperationError struct {
	Operation string // server operation that failed
	Code      string // peer status code, e.g. "Aborted"
	Message   string // peer-reported cause
	Unknown   bool   // peer does not implement Operation
}

func (e *RemoteOperationError) Error() string {
	return fmt.Sprintf("remote operation %s failed (%s): %s", e.Operation, e.Code, e.Message)
}

// Unwrap exposes ErrRemoteOperation and, for unregistered names, ErrUnknownOperation.
func (e *RemoteOperationError) Unwrap() []error {
	if e.Unknown {
		return []error{ErrRemoteOperation, ErrUnknownOperation}
	}
	return []error{ErrRemoteOperation}
}
