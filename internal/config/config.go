// ABOUTME: Configuration loading and parsing for authflow-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when a field is left empty.
const (
	DefaultGRPCAddr      = "127.0.0.1:50061"
	DefaultMaxSteps      = 32
	DefaultSSHMaxAge     = 5 * time.Minute
	DefaultReplayTTL     = 10 * time.Minute
	DefaultReplayMaxSize = 10000
	DefaultRedisPrefix   = "authflow:replay:"
	MinJWTSecretLength   = 32
)

// Replay cache backends.
const (
	ReplayMemory = "memory"
	ReplayRedis  = "redis"
)

// Auto-registration modes for unknown SSH keys.
var autoRegistrationModes = []string{"approved", "pending", "disabled"}

// Config represents the complete authflow-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Replay   ReplayConfig   `yaml:"replay"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"` // health endpoints; empty disables
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds handshake configuration
type AuthConfig struct {
	JWTSecret             string   `yaml:"jwt_secret"`
	Schemes               []string `yaml:"schemes"` // empty enables every built-in scheme
	MaxSteps              int      `yaml:"max_steps"`
	AgentAutoRegistration string   `yaml:"agent_auto_registration"`

	SSHMaxAge    time.Duration `yaml:"-"`
	SSHMaxAgeRaw string        `yaml:"ssh_max_age"`
}

// ReplayConfig selects where used SSH nonces are remembered
type ReplayConfig struct {
	Backend     string `yaml:"backend"` // memory or redis
	MaxSize     int    `yaml:"max_size"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`

	TTL    time.Duration `yaml:"-"`
	TTLRaw string        `yaml:"ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultPath returns the config file location.
// Priority: AUTHFLOW_CONFIG env var > XDG_CONFIG_HOME/coven/authflow.yaml > ~/.config/coven/authflow.yaml
func DefaultPath() string {
	if envPath := os.Getenv("AUTHFLOW_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "authflow.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "coven", "authflow.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Server.GRPCAddr == "" {
		c.Server.GRPCAddr = DefaultGRPCAddr
	}
	if c.Auth.MaxSteps == 0 {
		c.Auth.MaxSteps = DefaultMaxSteps
	}
	if c.Auth.AgentAutoRegistration == "" {
		c.Auth.AgentAutoRegistration = "disabled"
	}
	if c.Auth.SSHMaxAge == 0 {
		c.Auth.SSHMaxAge = DefaultSSHMaxAge
	}
	if c.Replay.Backend == "" {
		c.Replay.Backend = ReplayMemory
	}
	if c.Replay.TTL == 0 {
		c.Replay.TTL = DefaultReplayTTL
	}
	if c.Replay.MaxSize == 0 {
		c.Replay.MaxSize = DefaultReplayMaxSize
	}
	if c.Replay.RedisPrefix == "" {
		c.Replay.RedisPrefix = DefaultRedisPrefix
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLength)
	}
	if c.Auth.JWTSecret == "" && slices.Contains(c.Auth.Schemes, "token") {
		return fmt.Errorf("auth.schemes lists token but auth.jwt_secret is not set")
	}
	if c.Auth.MaxSteps < 1 {
		return fmt.Errorf("auth.max_steps must be positive, got %d", c.Auth.MaxSteps)
	}
	if !slices.Contains(autoRegistrationModes, c.Auth.AgentAutoRegistration) {
		return fmt.Errorf("auth.agent_auto_registration must be one of %v, got %q",
			autoRegistrationModes, c.Auth.AgentAutoRegistration)
	}
	if c.Auth.SSHMaxAge < 0 {
		return fmt.Errorf("auth.ssh_max_age must not be negative")
	}

	switch c.Replay.Backend {
	case ReplayMemory:
	case ReplayRedis:
		if c.Replay.RedisAddr == "" {
			return fmt.Errorf("replay.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("replay.backend must be %q or %q, got %q", ReplayMemory, ReplayRedis, c.Replay.Backend)
	}
	if c.Replay.TTL < c.Auth.SSHMaxAge {
		return fmt.Errorf("replay.ttl (%v) must cover auth.ssh_max_age (%v)", c.Replay.TTL, c.Auth.SSHMaxAge)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// TokenSchemeEnabled reports whether the token scheme can run. It needs a
// JWT secret.
func (c *Config) TokenSchemeEnabled() bool {
	return c.Auth.JWTSecret != "" && c.SchemeEnabled("token")
}

// SchemeEnabled reports whether scheme is listed, or whether no list is set.
func (c *Config) SchemeEnabled(scheme string) bool {
	return len(c.Auth.Schemes) == 0 || slices.Contains(c.Auth.Schemes, scheme)
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.SSHMaxAgeRaw != "" {
		cfg.Auth.SSHMaxAge, err = time.ParseDuration(cfg.Auth.SSHMaxAgeRaw)
		if err != nil {
			return fmt.Errorf("parsing ssh_max_age %q: %w", cfg.Auth.SSHMaxAgeRaw, err)
		}
	}

	if cfg.Replay.TTLRaw != "" {
		cfg.Replay.TTL, err = time.ParseDuration(cfg.Replay.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing replay ttl %q: %w", cfg.Replay.TTLRaw, err)
		}
	}

	return nil
}
