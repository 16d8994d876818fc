// ABOUTME: SSH public key challenge verification for the ssh handshake scheme
// ABOUTME: Verifies signatures over timestamp|nonce with freshness and replay checks

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/2389/coven-authflow/internal/replay"
)

const (
	// SSHAuthMaxAge is the maximum age of a challenge timestamp.
	SSHAuthMaxAge = 5 * time.Minute

	// SSHMaxClockSkew is how far in the future a timestamp may be.
	SSHMaxClockSkew = time.Minute
)

var (
	// ErrChallengeExpired indicates the signed timestamp is outside the freshness window.
	ErrChallengeExpired = errors.New("challenge expired")

	// ErrChallengeReplayed indicates the nonce was already used.
	ErrChallengeReplayed = errors.New("nonce already used (possible replay attack)")

	// ErrBadSignature indicates the signature did not verify.
	ErrBadSignature = errors.New("signature verification failed")
)

// SSHChallenge is a signed challenge presented by a client.
type SSHChallenge struct {
	Pubkey    string // authorized_keys form, e.g. "ssh-ed25519 AAAA..."
	Signature string // base64 of the wire-format ssh.Signature over "timestamp|nonce"
	Timestamp int64  // unix seconds, issued by the server
	Nonce     string // single-use value, issued by the server
}

// SSHVerifier verifies SSH challenge signatures.
type SSHVerifier struct {
	maxAge time.Duration
	replay replay.Cache
	now    func() time.Time
}

// NewSSHVerifier creates a verifier that records nonces in cache.
func NewSSHVerifier(cache replay.Cache) *SSHVerifier {
	return &SSHVerifier{
		maxAge: SSHAuthMaxAge,
		replay: cache,
		now:    time.Now,
	}
}

// WithMaxAge returns a copy of v using maxAge as the freshness window.
func (v *SSHVerifier) WithMaxAge(maxAge time.Duration) *SSHVerifier {
	cp := *v
	if maxAge > 0 {
		cp.maxAge = maxAge
	}
	return &cp
}

// ChallengeMessage returns the bytes a client signs.
func ChallengeMessage(timestamp int64, nonce string) []byte {
	return fmt.Appendf(nil, "%d|%s", timestamp, nonce)
}

// SignChallenge signs a challenge with signer and returns the base64 signature.
func SignChallenge(signer ssh.Signer, timestamp int64, nonce string) (string, error) {
	sig, err := signer.Sign(rand.Reader, ChallengeMessage(timestamp, nonce))
	if err != nil {
		return "", fmt.Errorf("signing challenge: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ssh.Marshal(sig)), nil
}

// Verify checks the challenge and returns the key fingerprint if valid. The
// nonce is marked as used only after the signature verifies, keyed by
// fingerprint so one key cannot burn another key's nonce.
func (v *SSHVerifier) Verify(ctx context.Context, req *SSHChallenge) (fingerprint string, err error) {
	pubkey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(strings.TrimSpace(req.Pubkey)))
	if err != nil {
		return "", fmt.Errorf("invalid public key: %w", err)
	}

	age := v.now().Sub(time.Unix(req.Timestamp, 0))
	if age < -SSHMaxClockSkew {
		return "", fmt.Errorf("%w: timestamp is in the future", ErrChallengeExpired)
	}
	if age > v.maxAge {
		return "", fmt.Errorf("%w: age %v, max %v", ErrChallengeExpired, age, v.maxAge)
	}

	sigBytes, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		return "", fmt.Errorf("invalid signature encoding: %w", err)
	}
	sig := new(ssh.Signature)
	if err := ssh.Unmarshal(sigBytes, sig); err != nil {
		return "", fmt.Errorf("invalid signature format: %w", err)
	}
	if err := pubkey.Verify(ChallengeMessage(req.Timestamp, req.Nonce), sig); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	fp := ComputeFingerprint(pubkey)
	if v.replay != nil {
		seen, err := v.replay.CheckAndMark(ctx, fmt.Sprintf("%s:%d:%s", fp, req.Timestamp, req.Nonce))
		if err != nil {
			return "", fmt.Errorf("checking nonce: %w", err)
		}
		if seen {
			return "", ErrChallengeReplayed
		}
	}

	return fp, nil
}

// ComputeFingerprint computes the SHA256 fingerprint of a public key.
// Returns lowercase hex encoding without colons.
func ComputeFingerprint(pubkey ssh.PublicKey) string {
	hash := sha256.Sum256(pubkey.Marshal())
	return hex.EncodeToString(hash[:])
}

// ParseFingerprintFromKey parses an authorized_keys line and returns its fingerprint.
func ParseFingerprintFromKey(pubkeyStr string) (string, error) {
	pubkey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(pubkeyStr))
	if err != nil {
		return "", fmt.Errorf("invalid public key: %w", err)
	}
	return ComputeFingerprint(pubkey), nil
}
