// Package store persists principals, their roles and the handshake audit log
// using SQLite.
//
// # Data Models
//
//   - Principal: an identity that can complete a handshake. SSH principals are
//     matched by public key fingerprint, token principals by ID.
//   - Role: owner, admin or member; owner and admin grant admin level.
//   - HandshakeRecord: one finished handshake stream, successful or not.
//
// SQLiteStore implements Store; MockStore is an in-memory implementation for
// tests.
package store
