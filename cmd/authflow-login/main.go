// ABOUTME: Entry point for authflow-login handshake client
// ABOUTME: Runs one handshake against a gateway and prints the granted identity

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"golang.org/x/crypto/ssh"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/2389/coven-authflow/internal/envelope"
	"github.com/2389/coven-authflow/internal/flow"
	"github.com/2389/coven-authflow/internal/schemes"
	"github.com/2389/coven-authflow/internal/schemes/sshkey"
	"github.com/2389/coven-authflow/internal/schemes/token"
	"github.com/2389/coven-authflow/internal/transport"
)

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to config file")
	scheme := flag.String("scheme", "", "override auth.scheme")
	clientUser := flag.String("as", "", "act on behalf of this user")
	timeout := flag.Duration("timeout", 30*time.Second, "handshake timeout")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath, *scheme, *clientUser, *timeout); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "  ✗ %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, scheme, clientUser string, timeout time.Duration) error {
	cfg, err := Load(configPath)
	if err != nil {
		return err
	}
	if scheme != "" {
		cfg.Auth.Scheme = scheme
	}
	if clientUser != "" {
		cfg.Auth.ClientUser = clientUser
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.Logging.Level)}))

	plugin, err := buildPlugin(cfg, logger)
	if err != nil {
		return err
	}

	creds := credentials.NewTLS(nil)
	if cfg.Gateway.Insecure {
		creds = insecure.NewCredentials()
	}
	client, err := transport.Dial(cfg.Gateway.Addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return fmt.Errorf("connecting to gateway: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := client.Handshake(ctx, plugin, envelope.New(),
		flow.WithMaxSteps(cfg.Auth.MaxSteps),
		flow.WithLogger(logger),
	)
	if err != nil {
		return describe(err)
	}

	printResult(os.Stdout, cfg, result)
	return nil
}

// buildPlugin constructs the client half of the configured scheme.
func buildPlugin(cfg *Config, logger *slog.Logger) (*flow.Plugin, error) {
	var deps schemes.Deps
	switch cfg.Auth.Scheme {
	case sshkey.Scheme:
		signer, err := loadSigner(cfg.Auth.SSHKeyPath)
		if err != nil {
			return nil, err
		}
		deps.SSH = sshkey.Options{Signer: signer, ClientUser: cfg.Auth.ClientUser}
	case token.Scheme:
		bearer, err := cfg.bearerToken()
		if err != nil {
			return nil, err
		}
		deps.Token = token.Options{Token: bearer, ClientUser: cfg.Auth.ClientUser}
	}

	registry := flow.NewRegistry()
	if err := schemes.Register(registry, []string{cfg.Auth.Scheme}, deps); err != nil {
		return nil, err
	}
	return registry.New(cfg.Auth.Scheme, logger)
}

func loadSigner(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("ssh key %s is passphrase protected; use an unencrypted key or ssh-agent", path)
		}
		return nil, fmt.Errorf("parsing ssh key: %w", err)
	}
	return signer, nil
}

// describe turns flow errors into messages that name the failing side.
func describe(err error) error {
	var remote *flow.RemoteOperationError
	var transportErr *flow.TransportError
	switch {
	case errors.As(err, &remote):
		if remote.Unknown {
			return fmt.Errorf("gateway does not support this scheme version: %w", err)
		}
		return fmt.Errorf("gateway rejected handshake: %w", err)
	case errors.As(err, &transportErr):
		return fmt.Errorf("gateway unreachable: %w", err)
	case errors.Is(err, flow.ErrHandshakeLoopDetected):
		return fmt.Errorf("handshake did not finish: %w", err)
	default:
		return err
	}
}

func printResult(w io.Writer, cfg *Config, result *transport.Result) {
	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)

	green.Fprintf(w, "  ✓ Authenticated via %s\n", cfg.Auth.Scheme)
	gray.Fprintf(w, "    session:   %s\n", result.SessionID)
	if id, ok := result.Response.String(flow.KeyPrincipalID); ok {
		gray.Fprintf(w, "    principal: %s\n", id)
	}
	if user, ok := result.Response.String(flow.KeyActingAs); ok {
		gray.Fprintf(w, "    acting as: %s\n", user)
	}
	if level, ok := result.Response.String(flow.KeyLevel); ok {
		gray.Fprintf(w, "    level:     %s\n", level)
	}
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelWarn
	}
	return level
}
