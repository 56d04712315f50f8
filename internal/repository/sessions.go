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

// Sessions is a domain.SessionRepository backed by a kvstore.Store.
type Sessions struct {
	store  kvstore.Store
	logger *slog.Logger
}

// NewSessions creates a session repository.
func NewSessions(store kvstore.Store, logger *slog.Logger) *Sessions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sessions{store: store, logger: logger}
}

func (r *Sessions) GetByID(ctx context.Context, id domain.SessionID) (*domain.ChatSession, error) {
	raw, err := r.store.Get(ctx, sessionKey(id.String()))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	var rec sessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("corrupt session record %s: %w", id, err)
	}
	return rec.toDomain()
}

func (r *Sessions) Save(ctx context.Context, s *domain.ChatSession) error {
	id := s.ID().String()
	data, err := json.Marshal(toSessionRecord(s))
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", id, err)
	}
	if err := r.store.Set(ctx, sessionKey(id), data, 0); err != nil {
		return fmt.Errorf("failed to save session %s: %w", id, err)
	}
	if err := r.store.SetAdd(ctx, codebaseSessionsKey(s.CodebaseID()), id); err != nil {
		return fmt.Errorf("failed to register session %s: %w", id, err)
	}
	return nil
}

func (r *Sessions) Delete(ctx context.Context, id domain.SessionID) error {
	s, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := r.store.Delete(ctx, sessionKey(id.String())); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return r.store.SetRemove(ctx, codebaseSessionsKey(s.CodebaseID()), id.String())
}

// ListByCodebase returns the sessions of a codebase, most recently updated first.
func (r *Sessions) ListByCodebase(ctx context.Context, codebaseID string) ([]*domain.ChatSession, error) {
	ids, err := r.store.SetMembers(ctx, codebaseSessionsKey(codebaseID))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions of %s: %w", codebaseID, err)
	}
	out := make([]*domain.ChatSession, 0, len(ids))
	for _, raw := range ids {
		id, err := domain.ParseSessionID(raw)
		if err != nil {
			r.logger.WarnContext(ctx, "Skipping malformed session reference", "session_id", raw)
			continue
		}
		s, err := r.GetByID(ctx, id)
		if errors.Is(err, domain.ErrSessionNotFound) {
			r.logger.WarnContext(ctx, "Skipping dangling session reference", "session_id", raw)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt().After(out[j].UpdatedAt()) })
	return out, nil
}
