// ABOUTME: Tests for authflow-login configuration and plugin setup
// ABOUTME: Covers defaults, validation, env expansion and token files

package main

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/2389/coven-authflow/internal/envelope"
	"github.com/2389/coven-authflow/internal/flow"
	"github.com/2389/coven-authflow/internal/flow/flowtest"
	"github.com/2389/coven-authflow/internal/schemes/token"
	"github.com/2389/coven-authflow/internal/transport"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeFile(t, "login.toml", `
[auth]
scheme = "template"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, defaultGatewayAddr, cfg.Gateway.Addr)
	assert.Equal(t, flow.DefaultMaxSteps, cfg.Auth.MaxSteps)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("AUTHFLOW_TEST_TOKEN", "secret-token")
	path := writeFile(t, "login.toml", `
[gateway]
addr = "gw.example.com:443"

[auth]
scheme = "token"
token = "${AUTHFLOW_TEST_TOKEN}"
client_user = "alice"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gw.example.com:443", cfg.Gateway.Addr)
	token, err := cfg.bearerToken()
	require.NoError(t, err)
	assert.Equal(t, "secret-token", token)
	assert.Equal(t, "alice", cfg.Auth.ClientUser)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		auth    AuthConfig
		wantErr bool
	}{
		{"template", AuthConfig{Scheme: "template"}, false},
		{"unknown scheme", AuthConfig{Scheme: "kerberos"}, true},
		{"ssh without key", AuthConfig{Scheme: "ssh"}, true},
		{"ssh with key", AuthConfig{Scheme: "ssh", SSHKeyPath: "/tmp/id"}, false},
		{"token missing", AuthConfig{Scheme: "token"}, true},
		{"token both", AuthConfig{Scheme: "token", Token: "a", TokenFile: "b"}, true},
		{"token file", AuthConfig{Scheme: "token", TokenFile: "b"}, false},
		{"negative steps", AuthConfig{Scheme: "template", MaxSteps: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Auth: tt.auth}
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBearerToken_File(t *testing.T) {
	cfg := &Config{Auth: AuthConfig{TokenFile: writeFile(t, "token", "  abc.def.ghi\n")}}
	token, err := cfg.bearerToken()
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", token)

	cfg.Auth.TokenFile = writeFile(t, "empty", "\n")
	_, err = cfg.bearerToken()
	assert.Error(t, err)
}

func TestBuildPlugin_SSH(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	keyPath := writeFile(t, "id_ed25519", string(pem.EncodeToMemory(block)))

	cfg := &Config{Auth: AuthConfig{Scheme: "ssh", SSHKeyPath: keyPath}}
	plugin, err := buildPlugin(cfg, flowtest.Logger())
	require.NoError(t, err)
	assert.Equal(t, "ssh", plugin.Scheme())
	assert.Empty(t, plugin.ServerOperations().Names())
}

func TestBuildPlugin_BadKey(t *testing.T) {
	cfg := &Config{Auth: AuthConfig{Scheme: "ssh", SSHKeyPath: writeFile(t, "id", "not a key")}}
	_, err := buildPlugin(cfg, flowtest.Logger())
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	remote := &flow.RemoteOperationError{Operation: "auth_agent_verify", Message: "denied"}
	assert.Contains(t, describe(remote).Error(), "gateway rejected handshake")
	assert.ErrorIs(t, describe(remote), flow.ErrRemoteOperation)

	unknown := &flow.RemoteOperationError{Operation: "auth_agent_start", Unknown: true}
	assert.Contains(t, describe(unknown).Error(), "does not support")

	transportErr := &flow.TransportError{Operation: "auth_agent_start", Err: errors.New("connection refused")}
	assert.Contains(t, describe(transportErr).Error(), "unreachable")
}

func TestPrintResult_Token(t *testing.T) {
	color.NoColor = true

	resp := envelope.New()
	resp.Set(token.KeyPrincipalID, "p-root")
	resp.Set(token.KeyActingAs, "bob")
	resp.Set(token.KeyLevel, "user")

	var buf bytes.Buffer
	printResult(&buf, &Config{Auth: AuthConfig{Scheme: token.Scheme}}, &transport.Result{SessionID: "s-1", Response: resp})

	out := buf.String()
	assert.Contains(t, out, "Authenticated via token")
	assert.Contains(t, out, "session:   s-1")
	assert.Contains(t, out, "principal: p-root")
	assert.Contains(t, out, "acting as: bob")
	assert.Contains(t, out, "level:     user")
}
