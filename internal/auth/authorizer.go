// ABOUTME: Maps verified principals to server connection authorization records
// ABOUTME: Gates on principal status, derives level from roles, handles proxy users and auto-registration

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-authflow/internal/flow"
	"github.com/2389/coven-authflow/internal/store"
)

// Auto-registration modes for unknown SSH keys.
const (
	AutoRegisterApproved = "approved"
	AutoRegisterPending  = "pending"
	AutoRegisterDisabled = "disabled"
)

var (
	// ErrPrincipalDenied indicates the principal exists but may not authenticate.
	ErrPrincipalDenied = errors.New("principal not permitted")

	// ErrUnknownPrincipal indicates no principal matches the presented credential.
	ErrUnknownPrincipal = errors.New("unknown principal")
)

// PrincipalStore is the subset of store.PrincipalStore the authorizer reads.
type PrincipalStore interface {
	GetPrincipal(ctx context.Context, id string) (*store.Principal, error)
	GetPrincipalByPubkey(ctx context.Context, fingerprint string) (*store.Principal, error)
	GetPrincipalByName(ctx context.Context, name string) (*store.Principal, error)
}

// PrincipalCreator can create new principals (for auto-registration).
type PrincipalCreator interface {
	CreatePrincipal(ctx context.Context, p *store.Principal) error
}

// RoleStore lists a principal's roles.
type RoleStore interface {
	ListRoles(ctx context.Context, principalID string) ([]store.RoleName, error)
}

// Authorizer resolves principals and writes authorization records.
type Authorizer struct {
	principals   PrincipalStore
	roles        RoleStore
	creator      PrincipalCreator
	autoRegister string
	logger       *slog.Logger
}

// AuthorizerOption configures an Authorizer.
type AuthorizerOption func(*Authorizer)

// WithAutoRegistration enables creation of principals for unknown SSH keys.
func WithAutoRegistration(mode string, creator PrincipalCreator) AuthorizerOption {
	return func(a *Authorizer) {
		a.autoRegister = mode
		a.creator = creator
	}
}

// WithAuthorizerLogger sets the logger used for denial events.
func WithAuthorizerLogger(logger *slog.Logger) AuthorizerOption {
	return func(a *Authorizer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAuthorizer creates an Authorizer.
func NewAuthorizer(principals PrincipalStore, roles RoleStore, opts ...AuthorizerOption) *Authorizer {
	a := &Authorizer{
		principals:   principals,
		roles:        roles,
		autoRegister: AutoRegisterDisabled,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "authorizer")
	return a
}

// PrincipalByID resolves a principal by ID.
func (a *Authorizer) PrincipalByID(ctx context.Context, id string) (*store.Principal, error) {
	p, err := a.principals.GetPrincipal(ctx, id)
	if errors.Is(err, store.ErrPrincipalNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPrincipal, id)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up principal: %w", err)
	}
	return p, nil
}

// PrincipalByFingerprint resolves a principal by SSH key fingerprint,
// auto-registering it when configured to.
func (a *Authorizer) PrincipalByFingerprint(ctx context.Context, fingerprint string) (*store.Principal, error) {
	p, err := a.principals.GetPrincipalByPubkey(ctx, fingerprint)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrPrincipalNotFound) {
		return nil, fmt.Errorf("looking up principal: %w", err)
	}
	return a.autoRegisterPrincipal(ctx, fingerprint)
}

func (a *Authorizer) autoRegisterPrincipal(ctx context.Context, fingerprint string) (*store.Principal, error) {
	if a.autoRegister != AutoRegisterApproved && a.autoRegister != AutoRegisterPending {
		return nil, fmt.Errorf("%w: unknown public key", ErrUnknownPrincipal)
	}
	if a.creator == nil {
		return nil, errors.New("auto-registration enabled but no principal creator configured")
	}

	status := store.PrincipalStatusPending
	if a.autoRegister == AutoRegisterApproved {
		status = store.PrincipalStatusApproved
	}

	shortFP := fingerprint
	if len(shortFP) > 8 {
		shortFP = shortFP[len(shortFP)-8:]
	}

	p := &store.Principal{
		ID:          uuid.New().String(),
		Type:        store.PrincipalTypeAgent,
		PubkeyFP:    fingerprint,
		DisplayName: "agent-" + shortFP,
		Status:      status,
		CreatedAt:   time.Now().UTC(),
	}
	if err := a.creator.CreatePrincipal(ctx, p); err != nil {
		return nil, fmt.Errorf("auto-creating principal: %w", err)
	}

	a.logger.Info("auto-registered principal", "principal_id", p.ID, "status", p.Status)
	return p, nil
}

// UserInfo validates the principal's status and derives its level from roles.
func (a *Authorizer) UserInfo(ctx context.Context, p *store.Principal) (flow.UserInfo, error) {
	switch p.Status {
	case store.PrincipalStatusApproved, store.PrincipalStatusOnline, store.PrincipalStatusOffline:
	case store.PrincipalStatusPending:
		return flow.UserInfo{}, fmt.Errorf("%w: %s is pending admin approval", ErrPrincipalDenied, p.ID)
	case store.PrincipalStatusRevoked:
		return flow.UserInfo{}, fmt.Errorf("%w: %s has been revoked", ErrPrincipalDenied, p.ID)
	default:
		return flow.UserInfo{}, fmt.Errorf("%w: unknown status %q", ErrPrincipalDenied, p.Status)
	}

	roles, err := a.roles.ListRoles(ctx, p.ID)
	if err != nil {
		return flow.UserInfo{}, fmt.Errorf("looking up roles: %w", err)
	}

	level := flow.LevelUser
	for _, r := range roles {
		if r == store.RoleOwner || r == store.RoleAdmin {
			level = flow.LevelAdmin
			break
		}
	}

	return flow.UserInfo{Name: p.DisplayName, PrincipalID: p.ID, Level: level}, nil
}

// Authorize writes the authorization records for proxy to conn. clientUser
// names another principal to act as; empty means proxy acts as itself.
func (a *Authorizer) Authorize(ctx context.Context, conn *flow.ServerConn, proxy *store.Principal, clientUser string) error {
	proxyInfo, err := a.UserInfo(ctx, proxy)
	if err != nil {
		a.logDenied(conn, proxy.ID, err)
		return err
	}

	clientInfo := proxyInfo
	if clientUser != "" && clientUser != proxy.DisplayName {
		if proxyInfo.Level < flow.LevelAdmin {
			err := fmt.Errorf("%w: %s may not act as %s", ErrPrincipalDenied, proxy.DisplayName, clientUser)
			a.logDenied(conn, proxy.ID, err)
			return err
		}

		target, err := a.principals.GetPrincipalByName(ctx, clientUser)
		if errors.Is(err, store.ErrPrincipalNotFound) {
			return fmt.Errorf("%w: client user %s", ErrUnknownPrincipal, clientUser)
		}
		if err != nil {
			return fmt.Errorf("looking up client user: %w", err)
		}
		if clientInfo, err = a.UserInfo(ctx, target); err != nil {
			a.logDenied(conn, target.ID, err)
			return err
		}
	}

	return conn.Authorize(proxyInfo, clientInfo)
}

func (a *Authorizer) logDenied(conn *flow.ServerConn, principalID string, err error) {
	a.logger.Warn("auth failure",
		"reason", "principal_denied",
		"principal_id", principalID,
		"peer_addr", conn.PeerAddr(),
		"error", err.Error(),
	)
}
