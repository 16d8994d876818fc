// ABOUTME: gRPC handshake server dispatching envelopes to per-scheme responders
// ABOUTME: Owns one ServerConn per stream and records each finished handshake

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/2389/coven-authflow/internal/envelope"
	"github.com/2389/coven-authflow/internal/flow"
	"github.com/2389/coven-authflow/internal/store"
)

// Recorder persists the outcome of each handshake stream.
type Recorder interface {
	AppendHandshake(ctx context.Context, r *store.HandshakeRecord) error
}

// CompletionHook is called with the server connection after every stream,
// successful or not. Connections of failed streams arrive unauthorized.
type CompletionHook func(ctx context.Context, sessionID string, conn *flow.ServerConn)

// Server serves the handshake service.
type Server struct {
	responders map[string]*flow.Responder
	recorder   Recorder
	onComplete CompletionHook
	maxOps     int
	logger     *slog.Logger
	now        func() time.Time
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithRecorder records every finished handshake to r.
func WithRecorder(r Recorder) ServerOption {
	return func(s *Server) { s.recorder = r }
}

// WithCompletionHook registers fn to run when a stream ends.
func WithCompletionHook(fn CompletionHook) ServerOption {
	return func(s *Server) { s.onComplete = fn }
}

// WithMaxOperations ends a stream with ResourceExhausted once it has asked
// for more than n server operations.
func WithMaxOperations(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxOps = n
		}
	}
}

// WithServerLogger sets the server logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a Server answering for each plugin's scheme.
func NewServer(plugins []*flow.Plugin, opts ...ServerOption) (*Server, error) {
	s := &Server{
		responders: make(map[string]*flow.Responder, len(plugins)),
		maxOps:     flow.DefaultMaxSteps,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "handshake")

	for _, p := range plugins {
		if _, exists := s.responders[p.Scheme()]; exists {
			return nil, fmt.Errorf("%w: %q", flow.ErrDuplicateScheme, p.Scheme())
		}
		s.responders[p.Scheme()] = flow.NewResponder(p, s.logger)
	}
	return s, nil
}

// Register attaches the handshake service to a gRPC server.
func (s *Server) Register(registrar grpc.ServiceRegistrar) {
	registrar.RegisterService(&serviceDesc, s)
}

// Exchange runs one handshake on stream.
func (s *Server) Exchange(stream grpc.ServerStream) (err error) {
	ctx := stream.Context()

	scheme := schemeFromContext(ctx)
	if scheme == "" {
		return status.Errorf(codes.InvalidArgument, "missing %s metadata", MetadataScheme)
	}
	responder, ok := s.responders[scheme]
	if !ok {
		s.logger.Warn("handshake for unknown scheme", "scheme", scheme)
		return status.Errorf(codes.Unimplemented, "%v: %q", flow.ErrUnknownScheme, scheme)
	}

	sessionID := uuid.NewString()
	if err := stream.SendHeader(metadata.Pairs(MetadataSession, sessionID)); err != nil {
		return status.Errorf(codes.Internal, "sending header: %v", err)
	}

	conn := flow.NewServerConn(peerAddr(ctx))
	started := s.now()
	logger := s.logger.With("session_id", sessionID, "scheme", scheme, "peer_addr", conn.PeerAddr())
	logger.Debug("handshake started")

	defer func() {
		s.finish(ctx, logger, sessionID, scheme, conn, started, err)
	}()

	for ops := 1; ; ops++ {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if ops > s.maxOps {
			return status.Errorf(codes.ResourceExhausted, "%v: more than %d operations", flow.ErrHandshakeLoopDetected, s.maxOps)
		}

		req := envelope.FromProto(msg)
		op, err := req.NextOperation()
		if err != nil {
			return status.Error(codes.InvalidArgument, err.Error())
		}

		resp, err := responder.Dispatch(ctx, conn, op, req)
		if err != nil {
			if errors.Is(err, flow.ErrUnknownOperation) {
				return status.Error(codes.Unimplemented, err.Error())
			}
			return status.Error(codes.Aborted, err.Error())
		}

		out, err := resp.ToProto()
		if err != nil {
			return status.Errorf(codes.Internal, "operation %s: %v", op, err)
		}
		if err := stream.SendMsg(out); err != nil {
			return err
		}
	}
}

func (s *Server) finish(ctx context.Context, logger *slog.Logger, sessionID, scheme string, conn *flow.ServerConn, started time.Time, streamErr error) {
	ctx = context.WithoutCancel(ctx)

	// A failed stream grants nothing, even if an earlier step authorized it.
	if streamErr != nil && conn.Authorized() {
		logger.Warn("revoking authorization of failed handshake", "principal_id", conn.ProxyUser().PrincipalID)
		conn.Revoke()
	}

	proxy, client := conn.ProxyUser(), conn.ClientUser()
	record := &store.HandshakeRecord{
		ID:                uuid.NewString(),
		SessionID:         sessionID,
		Scheme:            scheme,
		ProxyPrincipalID:  proxy.PrincipalID,
		ClientPrincipalID: client.PrincipalID,
		Level:             client.Level.String(),
		PeerAddr:          conn.PeerAddr(),
		StartedAt:         started,
		FinishedAt:        s.now(),
	}
	switch {
	case streamErr != nil:
		record.Outcome = store.OutcomeFailed
		record.Error = status.Convert(streamErr).Message()
	case conn.Authorized():
		record.Outcome = store.OutcomeAuthorized
	default:
		record.Outcome = store.OutcomeUnauthorized
	}

	logger.Info("handshake finished",
		"outcome", record.Outcome,
		"principal_id", record.ProxyPrincipalID,
		"level", record.Level,
		"duration", record.FinishedAt.Sub(started),
	)

	if s.recorder != nil {
		if err := s.recorder.AppendHandshake(ctx, record); err != nil {
			logger.Error("failed to record handshake", "error", err)
		}
	}
	if s.onComplete != nil {
		s.onComplete(ctx, sessionID, conn)
	}
}

func schemeFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get(MetadataScheme); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}
