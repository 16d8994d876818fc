// ABOUTME: Gateway orchestrator that serves the handshake service and health endpoints
// ABOUTME: Wires store, replay cache, verifiers and scheme plugins from config

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"slices"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/2389/coven-authflow/internal/auth"
	"github.com/2389/coven-authflow/internal/config"
	"github.com/2389/coven-authflow/internal/flow"
	"github.com/2389/coven-authflow/internal/replay"
	"github.com/2389/coven-authflow/internal/schemes"
	"github.com/2389/coven-authflow/internal/schemes/sshkey"
	"github.com/2389/coven-authflow/internal/schemes/token"
	"github.com/2389/coven-authflow/internal/store"
	"github.com/2389/coven-authflow/internal/transport"
)

// Gateway orchestrates the authflow-gateway server components.
type Gateway struct {
	config     *config.Config
	store      *store.SQLiteStore
	closers    []func() error
	handshake  *transport.Server
	grpcServer *grpc.Server
	httpServer *http.Server
	schemes    []string
	logger     *slog.Logger

	authorized atomic.Int64 // handshakes that ended with a granted level
}

// OpenStore opens the SQLite store. AUTHFLOW_DB_PATH overrides the configured path.
func OpenStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("AUTHFLOW_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initReplay creates the replay cache for the configured backend and returns
// its cleanup function.
func initReplay(cfg config.ReplayConfig, logger *slog.Logger) (replay.Cache, func() error, error) {
	switch cfg.Backend {
	case config.ReplayRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
		}
		logger.Info("replay cache: redis", "addr", cfg.RedisAddr, "prefix", cfg.RedisPrefix)
		return replay.NewRedis(client, cfg.RedisPrefix, cfg.TTL), client.Close, nil
	default:
		cache := replay.NewMemory(cfg.TTL, cfg.MaxSize)
		logger.Info("replay cache: memory", "ttl", cfg.TTL, "max_size", cfg.MaxSize)
		return cache, func() error { cache.Close(); return nil }, nil
	}
}

// buildPlugins constructs the server side of every enabled scheme.
func buildPlugins(cfg *config.Config, s *store.SQLiteStore, cache replay.Cache, logger *slog.Logger) ([]*flow.Plugin, error) {
	authorizer := auth.NewAuthorizer(s, s,
		auth.WithAutoRegistration(cfg.Auth.AgentAutoRegistration, s),
		auth.WithAuthorizerLogger(logger),
	)

	deps := schemes.Deps{
		SSH: sshkey.Options{
			Verifier:   auth.NewSSHVerifier(cache).WithMaxAge(cfg.Auth.SSHMaxAge),
			Authorizer: authorizer,
		},
	}

	var enabled []string
	for _, name := range schemes.Names() {
		if !cfg.SchemeEnabled(name) {
			continue
		}
		if name == token.Scheme {
			if !cfg.TokenSchemeEnabled() {
				if len(cfg.Auth.Schemes) > 0 {
					return nil, errors.New("token scheme requested but no jwt_secret configured")
				}
				logger.Warn("token scheme disabled - no jwt_secret configured")
				continue
			}
			deps.Token = token.Options{
				Verifier:   auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)),
				Authorizer: authorizer,
			}
		}
		enabled = append(enabled, name)
	}
	for _, name := range cfg.Auth.Schemes {
		if !slices.Contains(schemes.Names(), name) {
			return nil, fmt.Errorf("%w: %q", flow.ErrUnknownScheme, name)
		}
	}
	if len(enabled) == 0 {
		return nil, errors.New("no authentication schemes enabled")
	}

	registry := flow.NewRegistry()
	if err := schemes.Register(registry, enabled, deps); err != nil {
		return nil, err
	}

	plugins := make([]*flow.Plugin, 0, len(enabled))
	for _, name := range registry.Schemes() {
		p, err := registry.New(name, logger)
		if err != nil {
			return nil, fmt.Errorf("building %s scheme: %w", name, err)
		}
		plugins = append(plugins, p)
	}
	return plugins, nil
}

// New creates a Gateway from cfg.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sqlStore, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}

	cache, closeReplay, err := initReplay(cfg.Replay, logger.With("component", "replay"))
	if err != nil {
		_ = sqlStore.Close()
		return nil, err
	}

	plugins, err := buildPlugins(cfg, sqlStore, cache, logger)
	if err != nil {
		_ = closeReplay()
		_ = sqlStore.Close()
		return nil, err
	}

	gw := &Gateway{
		config:  cfg,
		store:   sqlStore,
		closers: []func() error{closeReplay},
		logger:  logger,
	}
	for _, p := range plugins {
		gw.schemes = append(gw.schemes, p.Scheme())
	}

	gw.handshake, err = transport.NewServer(plugins,
		transport.WithRecorder(sqlStore),
		transport.WithServerLogger(logger),
		transport.WithMaxOperations(cfg.Auth.MaxSteps),
		transport.WithCompletionHook(gw.onHandshake),
	)
	if err != nil {
		_ = gw.closeComponents()
		return nil, err
	}

	gw.grpcServer = grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	gw.handshake.Register(gw.grpcServer)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("gateway configured", "schemes", gw.schemes, "max_steps", cfg.Auth.MaxSteps)
	return gw, nil
}

// Store returns the gateway's store.
func (g *Gateway) Store() store.Store {
	return g.store
}

// Schemes returns the enabled scheme names.
func (g *Gateway) Schemes() []string {
	return g.schemes
}

// setupListeners opens the gRPC listener and, if configured, the HTTP one.
func (g *Gateway) setupListeners() (grpcLn, httpLn net.Listener, err error) {
	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}
	if g.config.Server.HTTPAddr == "" {
		return grpcLn, nil, nil
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = grpcLn.Close()
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return grpcLn, httpLn, nil
}

// startServers starts gRPC and HTTP servers in goroutines, returning error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	go func() {
		g.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
		if err := g.grpcServer.Serve(grpcLn); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()

	if httpLn != nil {
		go func() {
			g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
			if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("HTTP server: %w", err)
			}
		}()
	}

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run listens on the configured addresses and serves until ctx is canceled.
func (g *Gateway) Run(ctx context.Context) error {
	grpcLn, httpLn, err := g.setupListeners()
	if err != nil {
		return err
	}
	return g.Serve(ctx, grpcLn, httpLn)
}

// Serve serves on the given listeners until ctx is canceled. httpLn may be nil.
func (g *Gateway) Serve(ctx context.Context, grpcLn, httpLn net.Listener) error {
	errCh := g.startServers(grpcLn, httpLn)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// shutdownGRPCServer stops gracefully, forcing a stop if ctx expires first.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

func (g *Gateway) closeComponents() error {
	var errs []error
	for _, c := range g.closers {
		errs = appendCloseError(errs, "replay close", c())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())
	return errors.Join(errs...)
}

// Shutdown stops the servers and releases the store and replay cache.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)

	errs = appendCloseError(errs, "components", g.closeComponents())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// onHandshake tallies authorized handshakes for the readiness report.
func (g *Gateway) onHandshake(_ context.Context, sessionID string, conn *flow.ServerConn) {
	if !conn.Authorized() {
		return
	}
	g.authorized.Add(1)

	proxy, client := conn.ProxyUser(), conn.ClientUser()
	g.logger.Debug("session authorized",
		"session_id", sessionID,
		"scheme", conn.Scheme(),
		"principal_id", proxy.PrincipalID,
		"acting_as", client.PrincipalID,
		"level", client.Level.String(),
	)
}

// handleReady returns 200 OK if the database answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "store unavailable: %v", err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d schemes, %d authorized)", len(g.schemes), g.authorized.Load())
}
