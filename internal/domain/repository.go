package domain

import "context"

// CodebaseRepository persists codebases.
type CodebaseRepository interface {
	GetByID(ctx context.Context, id string) (*Codebase, error)
	// GetByLocator returns ErrCodebaseNotFound when no codebase was saved for the locator.
	GetByLocator(ctx context.Context, locator RepositoryLocator) (*Codebase, error)
	Save(ctx context.Context, c *Codebase) error
	Delete(ctx context.Context, id string) error
	// ListAll returns codebases newest first.
	ListAll(ctx context.Context) ([]*Codebase, error)
}

// SessionRepository persists chat sessions.
type SessionRepository interface {
	GetByID(ctx context.Context, id SessionID) (*ChatSession, error)
	Save(ctx context.Context, s *ChatSession) error
	Delete(ctx context.Context, id SessionID) error
	// ListByCodebase returns sessions most recently updated first.
	ListByCodebase(ctx context.Context, codebaseID string) ([]*ChatSession, error)
}
