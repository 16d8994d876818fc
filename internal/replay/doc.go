// Package replay tracks one-time challenge values so a captured handshake
// response cannot be presented twice.
//
// Two backends implement Cache:
//
//   - Memory: a bounded, TTL-expiring set local to one gateway process.
//   - Redis: SET NX with an expiry, shared by every gateway pointed at the
//     same Redis instance.
package replay
