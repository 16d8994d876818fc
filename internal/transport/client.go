// ABOUTME: gRPC handshake client; a Session is the flow.Caller for one handshake
// ABOUTME: Maps stream statuses to remote-operation and transport errors

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/2389/coven-authflow/internal/envelope"
	"github.com/2389/coven-authflow/internal/flow"
)

// Client opens handshake sessions against a gateway.
type Client struct {
	cc    grpc.ClientConnInterface
	close func() error
}

// Dial creates a client for target. The connection is established lazily.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	cc, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating client for %s: %w", target, err)
	}
	return &Client{cc: cc, close: cc.Close}, nil
}

// NewClient wraps an existing connection. Close does not close cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Close releases the underlying connection if Dial created it.
func (c *Client) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}

// Open starts a handshake stream for scheme. ctx bounds the whole stream.
func (c *Client) Open(ctx context.Context, scheme string) (*Session, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, MetadataScheme, scheme)
	stream, err := c.cc.NewStream(ctx, &exchangeStream, FullExchangeMethod)
	if err != nil {
		return nil, &flow.TransportError{Operation: flow.EntryOperation, Err: err}
	}
	return &Session{stream: stream, scheme: scheme}, nil
}

// Session is one handshake stream. It implements flow.Caller; calls are
// serialized because the stream carries one request at a time.
type Session struct {
	mu     sync.Mutex
	stream grpc.ClientStream
	scheme string
}

// Scheme returns the scheme the session was opened for.
func (s *Session) Scheme() string {
	return s.scheme
}

// Call sends req and waits for the server's reply.
func (s *Session) Call(ctx context.Context, req envelope.Envelope) (envelope.Envelope, error) {
	op, _ := req.String(envelope.KeyNextOperation)
	if err := ctx.Err(); err != nil {
		return nil, &flow.TransportError{Operation: op, Err: err}
	}

	msg, err := req.ToProto()
	if err != nil {
		return nil, &flow.TransportError{Operation: op, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.stream.SendMsg(msg); err != nil {
		// io.EOF means the server ended the stream; its status is on RecvMsg.
		if !errors.Is(err, io.EOF) {
			return nil, mapError(op, err)
		}
	}

	resp := new(structpb.Struct)
	if err := s.stream.RecvMsg(resp); err != nil {
		return nil, mapError(op, err)
	}
	return envelope.FromProto(resp), nil
}

// SessionID returns the server-assigned session ID. It blocks until the
// server has sent its header.
func (s *Session) SessionID() string {
	md, err := s.stream.Header()
	if err != nil {
		return ""
	}
	if vals := md.Get(MetadataSession); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// Close ends the stream and waits for the server to finish it.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.stream.CloseSend(); err != nil {
		return fmt.Errorf("closing stream: %w", err)
	}
	err := s.stream.RecvMsg(new(structpb.Struct))
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return mapError("", err)
}

// mapError turns a stream error into the flow error taxonomy. Statuses the
// server produces deliberately become RemoteOperationError; everything else
// is a transport failure.
func mapError(op string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return &flow.TransportError{Operation: op, Err: err}
	}

	switch st.Code() {
	case codes.Aborted, codes.Unimplemented, codes.InvalidArgument,
		codes.PermissionDenied, codes.Unauthenticated, codes.FailedPrecondition,
		codes.ResourceExhausted:
		return &flow.RemoteOperationError{
			Operation: op,
			Code:      st.Code().String(),
			Message:   st.Message(),
			Unknown:   st.Code() == codes.Unimplemented && strings.HasPrefix(st.Message(), flow.ErrUnknownOperation.Error()),
		}
	default:
		return &flow.TransportError{Operation: op, Err: err}
	}
}

// Result is the outcome of a completed handshake.
type Result struct {
	SessionID string
	Conn      *flow.ClientConn
	Response  envelope.Envelope
}

// Handshake opens a session for plugin's scheme, drives it to completion and
// closes the stream.
func (c *Client) Handshake(ctx context.Context, plugin *flow.Plugin, initial envelope.Envelope, opts ...flow.DriverOption) (*Result, error) {
	session, err := c.Open(ctx, plugin.Scheme())
	if err != nil {
		return nil, err
	}

	conn := flow.NewClientConn(plugin.Scheme(), session)
	resp, err := flow.NewDriver(plugin, opts...).Run(ctx, conn, initial)
	if err != nil {
		_ = session.Close()
		return nil, err
	}

	result := &Result{SessionID: session.SessionID(), Conn: conn, Response: resp}
	if err := session.Close(); err != nil {
		return nil, err
	}
	return result, nil
}
