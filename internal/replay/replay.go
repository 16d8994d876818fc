// ABOUTME: Replay cache interface shared by challenge-based authentication schemes
// ABOUTME: CheckAndMark atomically reports a key as seen and records it if new

package replay

import "context"

// Cache records single-use keys.
type Cache interface {
	// CheckAndMark reports whether key was already seen within the cache TTL.
	// If it was not, the key is recorded before returning false.
	CheckAndMark(ctx context.Context, key string) (seen bool, err error)
}
