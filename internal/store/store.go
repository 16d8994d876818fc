// ABOUTME: Store interface and data types for principal and handshake persistence
// ABOUTME: Defines Principal, roles, HandshakeRecord and the sentinel errors

package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPrincipalNotFound is returned when a principal lookup fails.
	ErrPrincipalNotFound = errors.New("principal not found")

	// ErrDuplicatePrincipal is returned when an ID, fingerprint or name is taken.
	ErrDuplicatePrincipal = errors.New("principal already exists")
)

// PrincipalType distinguishes kinds of identities.
type PrincipalType string

const (
	PrincipalTypeAgent  PrincipalType = "agent"
	PrincipalTypeClient PrincipalType = "client"
	PrincipalTypeUser   PrincipalType = "user"
)

// PrincipalStatus is the lifecycle state of a principal.
type PrincipalStatus string

const (
	PrincipalStatusPending  PrincipalStatus = "pending"
	PrincipalStatusApproved PrincipalStatus = "approved"
	PrincipalStatusRevoked  PrincipalStatus = "revoked"
	PrincipalStatusOnline   PrincipalStatus = "online"
	PrincipalStatusOffline  PrincipalStatus = "offline"
)

// ValidPrincipalStatuses lists all statuses accepted by the store.
var ValidPrincipalStatuses = []PrincipalStatus{
	PrincipalStatusPending,
	PrincipalStatusApproved,
	PrincipalStatusRevoked,
	PrincipalStatusOnline,
	PrincipalStatusOffline,
}

// Principal is an identity that can authenticate.
type Principal struct {
	ID          string
	Type        PrincipalType
	PubkeyFP    string // SHA256 hex of the SSH public key, empty for token-only principals
	DisplayName string // unique
	Status      PrincipalStatus
	CreatedAt   time.Time
}

// RoleName is a role that can be granted to a principal.
type RoleName string

const (
	RoleOwner  RoleName = "owner"
	RoleAdmin  RoleName = "admin"
	RoleMember RoleName = "member"
)

// ValidRoleNames lists all valid role names.
var ValidRoleNames = []RoleName{RoleOwner, RoleAdmin, RoleMember}

// HandshakeOutcome is the result of one handshake stream.
type HandshakeOutcome string

const (
	OutcomeAuthorized   HandshakeOutcome = "authorized"   // server granted a level
	OutcomeUnauthorized HandshakeOutcome = "unauthorized" // stream ended without authorization
	OutcomeFailed       HandshakeOutcome = "failed"       // an operation or the transport failed
)

// HandshakeRecord is an audit entry for one handshake stream.
type HandshakeRecord struct {
	ID                string
	SessionID         string
	Scheme            string
	ProxyPrincipalID  string
	ClientPrincipalID string
	Level             string
	Outcome           HandshakeOutcome
	Error             string
	PeerAddr          string
	StartedAt         time.Time
	FinishedAt        time.Time
}

// HandshakeFilter narrows ListHandshakes.
type HandshakeFilter struct {
	Scheme      string           // exact match, empty for any
	PrincipalID string           // proxy or client principal, empty for any
	Outcome     HandshakeOutcome // empty for any
	Limit       int              // default 100, max 1000
}

// PrincipalStore reads and writes principals.
type PrincipalStore interface {
	CreatePrincipal(ctx context.Context, p *Principal) error
	GetPrincipal(ctx context.Context, id string) (*Principal, error)
	GetPrincipalByPubkey(ctx context.Context, fingerprint string) (*Principal, error)
	GetPrincipalByName(ctx context.Context, name string) (*Principal, error)
	UpdatePrincipalStatus(ctx context.Context, id string, status PrincipalStatus) error
	ListPrincipals(ctx context.Context) ([]*Principal, error)
}

// RoleStore grants and lists roles.
type RoleStore interface {
	AddRole(ctx context.Context, principalID string, role RoleName) error
	RemoveRole(ctx context.Context, principalID string, role RoleName) error
	ListRoles(ctx context.Context, principalID string) ([]RoleName, error)
}

// HandshakeStore records handshake outcomes.
type HandshakeStore interface {
	AppendHandshake(ctx context.Context, r *HandshakeRecord) error
	ListHandshakes(ctx context.Context, f HandshakeFilter) ([]HandshakeRecord, error)
}

// Store combines every persistence interface.
type Store interface {
	PrincipalStore
	RoleStore
	HandshakeStore
	Close() error
}

func validStatus(s PrincipalStatus) bool {
	for _, v := range ValidPrincipalStatuses {
		if v == s {
			return true
		}
	}
	return false
}

func validRole(r RoleName) bool {
	for _, v := range ValidRoleNames {
		if v == r {
			return true
		}
	}
	return false
}

// normalizeLimit applies default (100) and cap (1000).
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}
