// Package kvstore provides the key-value persistence backend shared by the
// repositories and the response cache.
package kvstore

import (
	"context"
	"errors"
	"time"

	"github.com/gobwas/glob"
)

// ErrNotFound is returned by Get for missing or expired keys.
var ErrNotFound = errors.New("key not found")

// Store is a key-value store with per-entry TTL and string sets.
// Implementations are safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key. A ttl <= 0 means the entry never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	// DeletePattern removes every key and set matching a glob pattern
	// ("response:abc:*") and returns how many were removed.
	DeletePattern(ctx context.Context, pattern string) (int, error)

	SetAdd(ctx context.Context, key string, members ...string) error
	SetRemove(ctx context.Context, key string, members ...string) error
	SetMembers(ctx context.Context, key string) ([]string, error)

	Close() error
}

func compilePattern(pattern string) (glob.Glob, error) {
	return glob.Compile(pattern)
}

func expiryFor(ttl time.Duration, now time.Time) int64 {
	if ttl <= 0 {
		return 0
	}
	return now.Add(ttl).UnixNano()
}

func expired(expiresAt int64, now time.Time) bool {
	return expiresAt != 0 && now.UnixNano() >= expiresAt
}
