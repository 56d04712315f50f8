// Package chat runs conversations about ingested codebases.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sha1n/coderag/internal/domain"
	"github.com/sha1n/coderag/internal/keylock"
	"github.com/sha1n/coderag/internal/rag"
)

// Answerer produces complete replies, reporting whether they came from cache.
// *cache.ResponseCache implements it.
type Answerer interface {
	Answer(ctx context.Context, q rag.Query) (rag.Answer, bool, error)
}

// Streamer produces incremental replies. *rag.Pipeline implements it.
type Streamer interface {
	Stream(ctx context.Context, q rag.Query) (*rag.Stream, error)
}

// SendResult is the reply to one user message.
type SendResult struct {
	SessionID string
	Message   domain.Message
	Sources   []string
	Cached    bool
}

// SessionView is a read model of a session. Messages is nil unless requested.
type SessionView struct {
	ID           string           `json:"id"`
	CodebaseID   string           `json:"codebase_id"`
	Title        string           `json:"title,omitempty"`
	MessageCount int              `json:"message_count"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	Messages     []domain.Message `json:"messages,omitempty"`
}

func newSessionView(s *domain.ChatSession, includeMessages bool) SessionView {
	v := SessionView{
		ID:           s.ID().String(),
		CodebaseID:   s.CodebaseID(),
		Title:        s.Title(),
		MessageCount: s.MessageCount(),
		CreatedAt:    s.CreatedAt(),
		UpdatedAt:    s.UpdatedAt(),
	}
	if includeMessages {
		v.Messages = s.Messages()
	}
	return v
}

// Service is the session orchestrator.
type Service struct {
	codebases domain.CodebaseRepository
	sessions  domain.SessionRepository
	answerer  Answerer
	streamer  Streamer
	locks     *keylock.Locker
	logger    *slog.Logger
}

// NewService creates a chat service.
func NewService(codebases domain.CodebaseRepository, sessions domain.SessionRepository, answerer Answerer, streamer Streamer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		codebases: codebases,
		sessions:  sessions,
		answerer:  answerer,
		streamer:  streamer,
		locks:     keylock.New(),
		logger:    logger,
	}
}

// prepare validates a send request and resolves its session id and codebase.
func (s *Service) prepare(ctx context.Context, rawSessionID, codebaseID, text string) (domain.SessionID, *domain.Codebase, error) {
	if strings.TrimSpace(text) == "" {
		return domain.SessionID{}, nil, domain.ErrEmptyMessage
	}

	id := domain.NewSessionID()
	if strings.TrimSpace(rawSessionID) != "" {
		parsed, err := domain.ParseSessionID(rawSessionID)
		if err != nil {
			return domain.SessionID{}, nil, err
		}
		id = parsed
	}

	codebase, err := s.codebases.GetByID(ctx, codebaseID)
	if err != nil {
		return domain.SessionID{}, nil, err
	}
	if !codebase.IsReady() {
		return domain.SessionID{}, nil, fmt.Errorf("%w: %s is %s", domain.ErrCodebaseNotReady, codebaseID, codebase.Status)
	}
	return id, codebase, nil
}

// loadOrCreate returns the stored session or a new one bound to codebaseID.
func (s *Service) loadOrCreate(ctx context.Context, id domain.SessionID, codebaseID string) (*domain.ChatSession, error) {
	session, err := s.sessions.GetByID(ctx, id)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return domain.NewChatSession(id, codebaseID), nil
	}
	if err != nil {
		return nil, err
	}
	if session.CodebaseID() != codebaseID {
		return nil, fmt.Errorf("%w: session %s belongs to codebase %s", domain.ErrInvalidSessionID, id, session.CodebaseID())
	}
	return session, nil
}

// Send appends text to the session, generates a reply and persists both.
// An empty rawSessionID starts a new session.
func (s *Service) Send(ctx context.Context, rawSessionID, codebaseID, text string) (*SendResult, error) {
	id, codebase, err := s.prepare(ctx, rawSessionID, codebaseID, text)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, id.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, err := s.loadOrCreate(ctx, id, codebaseID)
	if err != nil {
		return nil, err
	}

	session.AddMessage(domain.NewUserMessage(text))
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, err
	}

	messages := session.Messages()
	answer, cached, err := s.answerer.Answer(ctx, rag.Query{
		Codebase: codebase,
		Text:     text,
		History:  messages[:len(messages)-1],
	})
	if err != nil {
		s.logger.Error("Failed to generate reply", "session_id", id.String(), "codebase_id", codebaseID, "error", err)
		return nil, err
	}

	reply := domain.NewAssistantMessage(answer.Text, answer.Sources, cached)
	session.AddMessage(reply)
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, err
	}

	return &SendResult{
		SessionID: id.String(),
		Message:   reply,
		Sources:   answer.Sources,
		Cached:    cached,
	}, nil
}

// GetSession returns a session, optionally with its messages.
func (s *Service) GetSession(ctx context.Context, rawSessionID string, includeMessages bool) (*SessionView, error) {
	id, err := domain.ParseSessionID(rawSessionID)
	if err != nil {
		return nil, err
	}
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	v := newSessionView(session, includeMessages)
	return &v, nil
}

// ListSessions returns the sessions of a codebase, most recently updated first.
func (s *Service) ListSessions(ctx context.Context, codebaseID string) ([]SessionView, error) {
	if _, err := s.codebases.GetByID(ctx, codebaseID); err != nil {
		return nil, err
	}
	sessions, err := s.sessions.ListByCodebase(ctx, codebaseID)
	if err != nil {
		return nil, err
	}
	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, newSessionView(session, false))
	}
	return views, nil
}

// DeleteSession removes a session. A missing session is ErrSessionNotFound.
func (s *Service) DeleteSession(ctx context.Context, rawSessionID string) error {
	id, err := domain.ParseSessionID(rawSessionID)
	if err != nil {
		return err
	}

	unlock, err := s.locks.Lock(ctx, id.String())
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := s.sessions.GetByID(ctx, id); err != nil {
		return err
	}
	return s.sessions.Delete(ctx, id)
}
