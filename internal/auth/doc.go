// Package auth holds the credential checks used by the server side of the
// concrete handshake schemes.
//
// # Credential verification
//
//   - SSHVerifier checks a signature over "timestamp|nonce" made with the
//     client's SSH key, enforces a freshness window and rejects replayed
//     nonces through a replay.Cache.
//   - JWTVerifier checks HS256 bearer tokens and returns the "sub" claim.
//
// # Authorization
//
// Authorizer turns a verified principal into the authorization records of a
// flow.ServerConn:
//
//   - principal status must be approved, online or offline;
//   - roles owner and admin grant LevelAdmin, anything else LevelUser;
//   - an admin may ask to act as another principal (the client user).
//
// Unknown SSH keys can be auto-registered, configured via
// auth.agent_auto_registration:
//
//   - "approved": new principals may authenticate immediately (development)
//   - "pending": new principals require admin approval
//   - "disabled": unknown keys are rejected
package auth
