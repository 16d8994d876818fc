// ABOUTME: Configuration loading for authflow-login
// ABOUTME: Loads TOML config from XDG path with environment variable expansion

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/2389/coven-authflow/internal/flow"
	"github.com/2389/coven-authflow/internal/schemes"
)

const (
	defaultGatewayAddr = "127.0.0.1:50061"
	defaultScheme      = "ssh"
)

type Config struct {
	Gateway GatewayConfig `toml:"gateway"`
	Auth    AuthConfig    `toml:"auth"`
	Logging LoggingConfig `toml:"logging"`
}

type GatewayConfig struct {
	Addr     string `toml:"addr"`
	Insecure bool   `toml:"insecure"`
}

type AuthConfig struct {
	Scheme     string `toml:"scheme"`
	ClientUser string `toml:"client_user"`
	SSHKeyPath string `toml:"ssh_key_path"`
	Token      string `toml:"token"`
	TokenFile  string `toml:"token_file"`
	MaxSteps   int    `toml:"max_steps"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

// defaultConfigPath returns the config file location.
// Priority: AUTHFLOW_LOGIN_CONFIG env var > XDG_CONFIG_HOME/coven/login.toml > ~/.config/coven/login.toml
func defaultConfigPath() string {
	if p := os.Getenv("AUTHFLOW_LOGIN_CONFIG"); p != "" {
		return p
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "login.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "coven", "login.toml")
}

// Load reads config from the given path, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables (${VAR} syntax)
	expanded := expandEnvVars(string(data))

	var cfg Config
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Gateway.Addr == "" {
		c.Gateway.Addr = defaultGatewayAddr
	}
	if c.Auth.Scheme == "" {
		c.Auth.Scheme = defaultScheme
	}
	if c.Auth.MaxSteps == 0 {
		c.Auth.MaxSteps = flow.DefaultMaxSteps
	}
	if c.Auth.SSHKeyPath == "" && c.Auth.Scheme == "ssh" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Auth.SSHKeyPath = filepath.Join(home, ".ssh", "id_ed25519")
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "warn"
	}
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if !slices.Contains(schemes.Names(), c.Auth.Scheme) {
		return fmt.Errorf("auth.scheme %q is not one of %v", c.Auth.Scheme, schemes.Names())
	}
	if c.Auth.MaxSteps < 0 {
		return fmt.Errorf("auth.max_steps must be positive")
	}
	switch c.Auth.Scheme {
	case "ssh":
		if c.Auth.SSHKeyPath == "" {
			return fmt.Errorf("auth.ssh_key_path is required for the ssh scheme")
		}
	case "token":
		if c.Auth.Token == "" && c.Auth.TokenFile == "" {
			return fmt.Errorf("auth.token or auth.token_file is required for the token scheme")
		}
		if c.Auth.Token != "" && c.Auth.TokenFile != "" {
			return fmt.Errorf("auth.token and auth.token_file are mutually exclusive")
		}
	}
	return nil
}

// bearerToken returns the configured token, reading token_file when set.
func (c *Config) bearerToken() (string, error) {
	if c.Auth.Token != "" {
		return c.Auth.Token, nil
	}
	data, err := os.ReadFile(c.Auth.TokenFile)
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", c.Auth.TokenFile)
	}
	return token, nil
}
