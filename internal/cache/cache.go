// Package cache memoizes generated answers in the key-value store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sha1n/coderag/internal/kvstore"
	"github.com/sha1n/coderag/internal/rag"
	"github.com/zeebo/xxh3"
)

// DefaultTTL is how long a cached answer is served.
const DefaultTTL = time.Hour

// Answerer produces answers on a cache miss. *rag.Pipeline implements it.
type Answerer interface {
	Answer(ctx context.Context, q rag.Query) (rag.Answer, error)
}

type entry struct {
	Response string   `json:"response"`
	Sources  []string `json:"sources"`
}

// ResponseCache serves repeated questions about the same index version from the store.
type ResponseCache struct {
	next   Answerer
	store  kvstore.Store
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a cache in front of next. ttl <= 0 uses DefaultTTL.
func New(next Answerer, store kvstore.Store, ttl time.Duration, logger *slog.Logger) *ResponseCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResponseCache{next: next, store: store, ttl: ttl, logger: logger}
}

// Key returns the cache key for a question against a codebase index version.
func Key(codebaseID, indexVersion, query string) string {
	return fmt.Sprintf("response:%s:%s:%016x", codebaseID, indexVersion, xxh3.HashString(Normalize(query)))
}

// Normalize lower-cases the query and collapses whitespace.
func Normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// Answer returns a cached answer when present. The bool reports a cache hit.
// Store failures are logged and treated as misses.
func (c *ResponseCache) Answer(ctx context.Context, q rag.Query) (rag.Answer, bool, error) {
	key := Key(q.Codebase.ID, q.Codebase.IndexVersion(), q.Text)

	if answer, ok := c.lookup(ctx, key); ok {
		c.logger.Debug("Response cache hit", "codebase_id", q.Codebase.ID)
		return answer, true, nil
	}

	answer, err := c.next.Answer(ctx, q)
	if err != nil {
		return rag.Answer{}, false, err
	}

	data, err := json.Marshal(entry{Response: answer.Text, Sources: answer.Sources})
	if err == nil {
		err = c.store.Set(ctx, key, data, c.ttl)
	}
	if err != nil {
		c.logger.Warn("Failed to cache response", "codebase_id", q.Codebase.ID, "error", err)
	}

	return answer, false, nil
}

func (c *ResponseCache) lookup(ctx context.Context, key string) (rag.Answer, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			c.logger.Warn("Failed to read response cache", "key", key, "error", err)
		}
		return rag.Answer{}, false
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		c.logger.Warn("Discarding corrupt cache entry", "key", key, "error", err)
		return rag.Answer{}, false
	}
	return rag.Answer{Text: e.Response, Sources: e.Sources}, true
}

// Invalidate drops every cached answer for a codebase.
func (c *ResponseCache) Invalidate(ctx context.Context, codebaseID string) (int, error) {
	n, err := c.store.DeletePattern(ctx, fmt.Sprintf("response:%s:*", codebaseID))
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate cached responses: %w", err)
	}
	return n, nil
}
