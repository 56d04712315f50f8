package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/sha1n/coderag/internal/domain"
	"github.com/sha1n/coderag/internal/kvstore"
)

// Codebases is a domain.CodebaseRepository backed by a kvstore.Store.
type Codebases struct {
	store  kvstore.Store
	logger *slog.Logger
}

// NewCodebases creates a codebase repository.
func NewCodebases(store kvstore.Store, logger *slog.Logger) *Codebases {
	if logger == nil {
		logger = slog.Default()
	}
	return &Codebases{store: store, logger: logger}
}

func (r *Codebases) GetByID(ctx context.Context, id string) (*domain.Codebase, error) {
	raw, err := r.store.Get(ctx, codebaseKey(id))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrCodebaseNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load codebase %s: %w", id, err)
	}
	var rec codebaseRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("corrupt codebase record %s: %w", id, err)
	}
	return rec.toDomain(), nil
}

func (r *Codebases) GetByLocator(ctx context.Context, locator domain.RepositoryLocator) (*domain.Codebase, error) {
	raw, err := r.store.Get(ctx, codebaseByURLKey(locator.CloneURL()))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrCodebaseNotFound, locator)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve codebase for %s: %w", locator, err)
	}
	return r.GetByID(ctx, string(raw))
}

// Save upserts c and points the locator lookup at it.
func (r *Codebases) Save(ctx context.Context, c *domain.Codebase) error {
	data, err := json.Marshal(toCodebaseRecord(c))
	if err != nil {
		return fmt.Errorf("failed to encode codebase %s: %w", c.ID, err)
	}
	if err := r.store.Set(ctx, codebaseKey(c.ID), data, 0); err != nil {
		return fmt.Errorf("failed to save codebase %s: %w", c.ID, err)
	}
	if err := r.store.Set(ctx, codebaseByURLKey(c.Locator.CloneURL()), []byte(c.ID), 0); err != nil {
		return fmt.Errorf("failed to index codebase %s by url: %w", c.ID, err)
	}
	if err := r.store.SetAdd(ctx, allCodebasesKey, c.ID); err != nil {
		return fmt.Errorf("failed to register codebase %s: %w", c.ID, err)
	}
	return nil
}

// Delete removes the codebase. The locator lookup is removed only if it still
// points at this codebase.
func (r *Codebases) Delete(ctx context.Context, id string) error {
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	urlKey := codebaseByURLKey(c.Locator.CloneURL())
	if current, err := r.store.Get(ctx, urlKey); err == nil && string(current) == id {
		if err := r.store.Delete(ctx, urlKey); err != nil {
			return fmt.Errorf("failed to delete url lookup for %s: %w", id, err)
		}
	}
	if err := r.store.Delete(ctx, codebaseKey(id)); err != nil {
		return fmt.Errorf("failed to delete codebase %s: %w", id, err)
	}
	return r.store.SetRemove(ctx, allCodebasesKey, id)
}

// ListAll returns every codebase, newest first. Dangling set members are skipped.
func (r *Codebases) ListAll(ctx context.Context) ([]*domain.Codebase, error) {
	ids, err := r.store.SetMembers(ctx, allCodebasesKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list codebases: %w", err)
	}
	out := make([]*domain.Codebase, 0, len(ids))
	for _, id := range ids {
		c, err := r.GetByID(ctx, id)
		if errors.Is(err, domain.ErrCodebaseNotFound) {
			r.logger.WarnContext(ctx, "Skipping dangling codebase reference", "codebase_id", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
