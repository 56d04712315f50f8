package repository

import (
	"fmt"
	"time"

	"github.com/sha1n/coderag/internal/domain"
)

type codebaseRecord struct {
	ID           string                `json:"id"`
	Host         string                `json:"host"`
	Owner        string                `json:"owner"`
	Name         string                `json:"name"`
	LocalPath    string                `json:"local_path"`
	Status       domain.IndexingStatus `json:"status"`
	FileCount    int                   `json:"file_count"`
	ErrorMessage string                `json:"error_message,omitempty"`
	Revision     string                `json:"revision,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	CompletedAt  *time.Time            `json:"completed_at,omitempty"`
}

func toCodebaseRecord(c *domain.Codebase) codebaseRecord {
	return codebaseRecord{
		ID:           c.ID,
		Host:         c.Locator.Host,
		Owner:        c.Locator.Owner,
		Name:         c.Locator.Name,
		LocalPath:    c.LocalPath,
		Status:       c.Status,
		FileCount:    c.FileCount,
		ErrorMessage: c.ErrorMessage,
		Revision:     c.Revision,
		CreatedAt:    c.CreatedAt,
		CompletedAt:  c.CompletedAt,
	}
}

func (r codebaseRecord) toDomain() *domain.Codebase {
	return &domain.Codebase{
		ID:           r.ID,
		Locator:      domain.RepositoryLocator{Host: r.Host, Owner: r.Owner, Name: r.Name},
		LocalPath:    r.LocalPath,
		Status:       r.Status,
		FileCount:    r.FileCount,
		ErrorMessage: r.ErrorMessage,
		Revision:     r.Revision,
		CreatedAt:    r.CreatedAt,
		CompletedAt:  r.CompletedAt,
	}
}

type messageRecord struct {
	Role      domain.Role     `json:"role"`
	Content   string          `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
	Metadata  *metadataRecord `json:"metadata,omitempty"`
}

type metadataRecord struct {
	Sources []string `json:"sources,omitempty"`
	Cached  bool     `json:"cached,omitempty"`
}

type sessionRecord struct {
	ID         string          `json:"id"`
	CodebaseID string          `json:"codebase_id"`
	Title      string          `json:"title,omitempty"`
	Messages   []messageRecord `json:"messages"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func toSessionRecord(s *domain.ChatSession) sessionRecord {
	snap := s.Snapshot()
	msgs := make([]messageRecord, len(snap.Messages))
	for i, m := range snap.Messages {
		msgs[i] = messageRecord{Role: m.Role, Content: m.Content, Timestamp: m.Timestamp}
		if m.Metadata != nil {
			msgs[i].Metadata = &metadataRecord{Sources: m.Metadata.Sources, Cached: m.Metadata.Cached}
		}
	}
	return sessionRecord{
		ID:         snap.ID.String(),
		CodebaseID: snap.CodebaseID,
		Title:      snap.Title,
		Messages:   msgs,
		CreatedAt:  snap.CreatedAt,
		UpdatedAt:  snap.UpdatedAt,
	}
}

func (r sessionRecord) toDomain() (*domain.ChatSession, error) {
	id, err := domain.ParseSessionID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("corrupt session record: %w", err)
	}
	msgs := make([]domain.Message, len(r.Messages))
	for i, m := range r.Messages {
		msgs[i] = domain.Message{Role: m.Role, Content: m.Content, Timestamp: m.Timestamp}
		if m.Metadata != nil {
			msgs[i].Metadata = &domain.MessageMetadata{Sources: m.Metadata.Sources, Cached: m.Metadata.Cached}
		}
	}
	return domain.RestoreChatSession(domain.SessionSnapshot{
		ID:         id,
		CodebaseID: r.CodebaseID,
		Messages:   msgs,
		Title:      r.Title,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}), nil
}
