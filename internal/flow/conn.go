// ABOUTME: Per-endpoint connection state touched by handshake operations
// ABOUTME: ClientConn carries the authenticated flag, ServerConn the scheme and authorization records

package flow

import (
	"errors"
	"fmt"
	"sync"
)

// AuthLevel is the privilege granted to a user on a server connection.
type AuthLevel int

const (
	LevelNone  AuthLevel = iota // not authorized
	LevelUser                   // regular principal
	LevelAdmin                  // may act on behalf of other principals
)

// String returns the lowercase name of the level.
func (l AuthLevel) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelUser:
		return "user"
	case LevelAdmin:
		return "admin"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseAuthLevel is the inverse of AuthLevel.String.
func ParseAuthLevel(s string) (AuthLevel, error) {
	switch s {
	case "none":
		return LevelNone, nil
	case "user":
		return LevelUser, nil
	case "admin":
		return LevelAdmin, nil
	default:
		return LevelNone, fmt.Errorf("unknown auth level %q", s)
	}
}

// UserInfo is an authorization record on a server connection.
type UserInfo struct {
	Name        string    // display name of the principal
	PrincipalID string    // store ID of the principal
	Level       AuthLevel // granted privilege
}

// ClientConn is the client endpoint of a handshake. It is owned by one
// handshake at a time; operations must not retain it beyond their call.
type ClientConn struct {
	caller        Caller
	scheme        string
	authenticated bool
}

// NewClientConn creates client connection state for a handshake using scheme
// and reaching the server through caller.
func NewClientConn(scheme string, caller Caller) *ClientConn {
	return &ClientConn{caller: caller, scheme: scheme}
}

// Scheme returns the scheme being attempted.
func (c *ClientConn) Scheme() string {
	return c.scheme
}

// Authenticated reports whether the handshake completed successfully.
func (c *ClientConn) Authenticated() bool {
	return c.authenticated
}

// SetAuthenticated marks the connection as logged in. Only a scheme's
// terminal client operation calls this.
func (c *ClientConn) SetAuthenticated() {
	c.authenticated = true
}

func (c *ClientConn) resetAuthenticated() {
	c.authenticated = false
}

// ErrInvalidAuthorization indicates an authorization record that cannot be applied.
var ErrInvalidAuthorization = errors.New("invalid authorization")

// ServerConn is the server endpoint of a handshake. It is owned by exactly one
// stream; the mutex only guards against accidental sharing.
type ServerConn struct {
	mu       sync.Mutex
	peerAddr string
	scheme   string
	proxy    UserInfo
	client   UserInfo
	values   map[string]any
}

// NewServerConn creates server connection state for a peer.
func NewServerConn(peerAddr string) *ServerConn {
	return &ServerConn{
		peerAddr: peerAddr,
		values:   make(map[string]any),
	}
}

// PeerAddr returns the remote address of the connecting client.
func (c *ServerConn) PeerAddr() string {
	return c.peerAddr
}

// Scheme returns the scheme recorded by the first server operation, or "".
func (c *ServerConn) Scheme() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scheme
}

// SetScheme records the scheme handling this connection, replacing any previous value.
func (c *ServerConn) SetScheme(scheme string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheme = scheme
}

// ProxyUser returns the authenticated principal.
func (c *ServerConn) ProxyUser() UserInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proxy
}

// ClientUser returns the principal the connection acts as. It equals the
// proxy user unless an admin authenticated on behalf of someone else.
func (c *ServerConn) ClientUser() UserInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// Authorized reports whether a server operation has granted privileges.
func (c *ServerConn) Authorized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proxy.Level > LevelNone
}

// Authorize writes both authorization records at once. The proxy must hold a
// level; a client user different from the proxy requires an admin proxy and
// can never exceed the proxy's level.
func (c *ServerConn) Authorize(proxy, client UserInfo) error {
	if proxy.Level <= LevelNone || proxy.PrincipalID == "" {
		return fmt.Errorf("%w: proxy user has no privilege", ErrInvalidAuthorization)
	}
	if client.PrincipalID == "" {
		client = proxy
	}
	if client.PrincipalID != proxy.PrincipalID && proxy.Level < LevelAdmin {
		return fmt.Errorf("%w: %s may not act as %s", ErrInvalidAuthorization, proxy.Name, client.Name)
	}
	if client.Level > proxy.Level {
		return fmt.Errorf("%w: client level %s exceeds proxy level %s", ErrInvalidAuthorization, client.Level, proxy.Level)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.proxy = proxy
	c.client = client
	return nil
}

// Revoke clears both authorization records. Scheme and values are kept.
func (c *ServerConn) Revoke() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.proxy = UserInfo{}
	c.client = UserInfo{}
}

// SetValue stores scheme-private state threaded between server operations.
func (c *ServerConn) SetValue(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = v
}

// Value returns scheme-private state stored by an earlier server operation.
func (c *ServerConn) Value(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

// DeleteValue removes scheme-private state.
func (c *ServerConn) DeleteValue(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
}

// authRecord is a snapshot of the authorization fields.
type authRecord struct {
	proxy  UserInfo
	client UserInfo
}

func (c *ServerConn) snapshotAuth() authRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return authRecord{proxy: c.proxy, client: c.client}
}

func (c *ServerConn) restoreAuth(r authRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.proxy = r.proxy
	c.client = r.client
}
