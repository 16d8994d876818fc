// ABOUTME: Entry point for authflow-gateway handshake server
// ABOUTME: Serves the handshake service and manages principals and tokens

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/coven-authflow/internal/auth"
	"github.com/2389/coven-authflow/internal/config"
	"github.com/2389/coven-authflow/internal/gateway"
	"github.com/2389/coven-authflow/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
              _   _      __ _
   __ _ _   _| |_| |__  / _| | _____      __
  / _' | | | | __| '_ \| |_| |/ _ \ \ /\ / /
 | (_| | |_| | |_| | | |  _| | (_) \ V  V /
  \__,_|\__,_|\__|_| |_|_| |_|\___/ \_/\_/
`

// getDataPath returns the path to the coven data directory.
// Priority: XDG_DATA_HOME/coven > ~/.local/share/coven
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven")
}

func usage() {
	fmt.Println("Usage: authflow-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                           Start the handshake server")
	fmt.Println("  bootstrap --name NAME           Create config, owner principal and token")
	fmt.Println("  token --principal ID [--ttl D]  Mint a bearer token for a principal")
	fmt.Println("  approve ID                      Approve a pending principal")
	fmt.Println("  handshakes [--limit N]          Show recent handshakes (--scheme, --outcome, --principal)")
	fmt.Println("  health                          Check gateway health")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "bootstrap":
		err = runBootstrap(ctx, os.Args[2:])
	case "token":
		err = runToken(ctx, os.Args[2:])
	case "approve":
		err = runApprove(ctx, os.Args[2:])
	case "handshakes":
		err = runHandshakes(ctx, os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	if cfg.Server.HTTPAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Replay:    %s\n", cfg.Replay.Backend)
	fmt.Println()

	logger.Info("starting authflow-gateway",
		"config", configPath,
		"grpc_addr", cfg.Server.GRPCAddr,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// parseFlags parses "--name value" and "--name=value" forms from args.
// Unknown flags and stray arguments are errors.
func parseFlags(args []string, names ...string) (map[string]string, []string, error) {
	values := make(map[string]string)
	var positional []string

	known := func(flag string) bool {
		for _, n := range names {
			if flag == n {
				return true
			}
		}
		return false
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			positional = append(positional, arg)
			continue
		}

		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if !known(name) {
			return nil, nil, fmt.Errorf("unknown flag: %s", arg)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, nil, fmt.Errorf("--%s requires a value", name)
			}
			value = args[i+1]
			i++
		}
		values[name] = value
	}
	return values, positional, nil
}

func openStore() (*config.Config, *store.SQLiteStore, error) {
	configPath := config.DefaultPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	s, err := gateway.OpenStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, s, nil
}

// runBootstrap performs first-time setup of the gateway:
// 1. Creates config file with random JWT secret (if not exists)
// 2. Creates database and owner principal
// 3. Generates JWT token for the owner
func runBootstrap(ctx context.Context, args []string) error {
	flags, positional, err := parseFlags(args, "name")
	if err != nil {
		return err
	}
	if len(positional) > 0 {
		return fmt.Errorf("unexpected argument: %s", positional[0])
	}

	displayName := strings.TrimSpace(flags["name"])
	if displayName == "" {
		return fmt.Errorf("--name flag is required")
	}
	if len(displayName) > 100 {
		return fmt.Errorf("display name exceeds maximum length of 100 characters")
	}

	configPath := config.DefaultPath()
	dbPath := filepath.Join(getDataPath(), "authflow.db")

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return fmt.Errorf("generating JWT secret: %w", err)
		}
		jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		configContent := fmt.Sprintf(`# authflow-gateway configuration
# Generated by authflow-gateway bootstrap

server:
  grpc_addr: "%s"
  http_addr: "127.0.0.1:8081"

database:
  path: "%s"

auth:
  jwt_secret: "%s"
  agent_auto_registration: "pending"

logging:
  level: "info"
  format: "text"
`, config.DefaultGRPCAddr, dbPath, jwtSecret)

		if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
		green.Printf("  ✓ Created config: %s\n", configPath)
	} else {
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	cfg, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt_secret not configured in %s (required for bootstrap)", configPath)
	}
	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	existing, err := s.ListPrincipals(ctx)
	if err != nil {
		return fmt.Errorf("checking principals: %w", err)
	}
	if len(existing) > 0 {
		return fmt.Errorf("bootstrap already complete: %d principal(s) exist", len(existing))
	}

	principalID := uuid.New().String()
	principal := &store.Principal{
		ID:          principalID,
		Type:        store.PrincipalTypeClient,
		DisplayName: displayName,
		Status:      store.PrincipalStatusApproved,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.CreatePrincipal(ctx, principal); err != nil {
		return fmt.Errorf("creating principal: %w", err)
	}
	if err := s.AddRole(ctx, principalID, store.RoleOwner); err != nil {
		return fmt.Errorf("granting owner role: %w", err)
	}
	green.Printf("  ✓ Created owner principal: %s\n", displayName)

	tokenTTL := 30 * 24 * time.Hour
	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(principalID, tokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	tokenPath := filepath.Join(filepath.Dir(configPath), "token")
	if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	green.Printf("  ✓ Saved token: %s\n", tokenPath)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  Owner Principal")
	cyan.Println("  ---------------")
	fmt.Printf("  ID:           %s\n", principalID)
	fmt.Printf("  Display Name: %s\n", displayName)
	fmt.Printf("  Roles:        owner\n")
	fmt.Printf("  Token:        %s (expires %s)\n", tokenPath, time.Now().Add(tokenTTL).Format("Jan 02, 2006"))
	fmt.Println()

	yellow.Println("  Ready to go:")
	fmt.Println("    authflow-gateway serve    # start the gateway")
	fmt.Println("    authflow-login            # run a token handshake")
	fmt.Println()
	return nil
}

func runToken(ctx context.Context, args []string) error {
	flags, _, err := parseFlags(args, "principal", "ttl")
	if err != nil {
		return err
	}
	principalID := flags["principal"]
	if principalID == "" {
		return fmt.Errorf("--principal flag is required")
	}

	ttl := 30 * 24 * time.Hour
	if raw, ok := flags["ttl"]; ok {
		if ttl, err = time.ParseDuration(raw); err != nil {
			return fmt.Errorf("parsing --ttl: %w", err)
		}
	}

	cfg, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt_secret not configured")
	}
	if _, err := s.GetPrincipal(ctx, principalID); err != nil {
		return fmt.Errorf("looking up principal %s: %w", principalID, err)
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(principalID, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func runApprove(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: authflow-gateway approve ID")
	}

	_, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.UpdatePrincipalStatus(ctx, args[0], store.PrincipalStatusApproved); err != nil {
		return fmt.Errorf("approving principal: %w", err)
	}
	color.New(color.FgGreen).Printf("  ✓ Approved %s\n", args[0])
	return nil
}

func runHandshakes(ctx context.Context, args []string) error {
	flags, _, err := parseFlags(args, "limit", "principal", "scheme", "outcome")
	if err != nil {
		return err
	}
	filter := store.HandshakeFilter{
		Scheme:      flags["scheme"],
		PrincipalID: flags["principal"],
		Outcome:     store.HandshakeOutcome(flags["outcome"]),
		Limit:       20,
	}
	if raw, ok := flags["limit"]; ok {
		if _, err := fmt.Sscanf(raw, "%d", &filter.Limit); err != nil {
			return fmt.Errorf("parsing --limit: %w", err)
		}
	}

	_, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	records, err := s.ListHandshakes(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing handshakes: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("no handshakes recorded")
		return nil
	}

	gray := color.New(color.FgHiBlack)
	for _, r := range records {
		var outcome string
		switch r.Outcome {
		case store.OutcomeAuthorized:
			outcome = color.GreenString("%-12s", r.Outcome)
		case store.OutcomeFailed:
			outcome = color.RedString("%-12s", r.Outcome)
		default:
			outcome = color.YellowString("%-12s", r.Outcome)
		}
		fmt.Printf("%s  %s  %-8s  %-36s  %-5s", gray.Sprint(r.StartedAt.Local().Format("Jan 02 15:04:05")),
			outcome, r.Scheme, r.ProxyPrincipalID, r.Level)
		if r.Error != "" {
			gray.Printf("  %s", r.Error)
		}
		fmt.Println()
	}
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is not configured")
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, body)
	}

	fmt.Println(string(body))
	return nil
}
