// Package kv defines the key-value store abstraction the task lock
// manager and the realtime fan-out layer depend on: atomic
// conditional-set with TTL, atomic get/delete, cursor-based scan, and
// pub/sub. The only concrete implementation is Redis; an in-memory
// fake backs the property tests.
package kv

import (
	"context"
	"time"
)

// Store is the minimal KV contract the rest of the platform requires.
// Implementations must never offer a blocking full-keyspace
// enumeration — Scan is cursor based.
type Store interface {
	// SetNX sets key to value with the given TTL iff key is absent.
	// Returns true if the set happened.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Set unconditionally sets key to value with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value for key, or ok=false if absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Delete removes key(s); absent keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Expire resets the TTL on an existing key without touching its
	// value.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Scan performs one cursor step over keys matching pattern,
	// returning the keys found and the cursor to pass on the next
	// call; a returned cursor of 0 means the scan is complete.
	Scan(ctx context.Context, cursor uint64, pattern string, count int64) (keys []string, nextCursor uint64, err error)

	// Publish publishes payload on channel for realtime fan-out.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe returns a channel of payloads published to channel.
	// The returned cancel function must be called to stop the
	// subscription and release resources.
	Subscribe(ctx context.Context, channel string) (msgs <-chan []byte, cancel func(), err error)

	// Close releases the underlying connection.
	Close() error
}
