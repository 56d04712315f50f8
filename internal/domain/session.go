package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TitleMaxLength is the number of characters kept from the first user message.
const TitleMaxLength = 50

// SessionID identifies a ChatSession. The zero value is invalid.
type SessionID struct {
	id uuid.UUID
}

// NewSessionID returns a random session id.
func NewSessionID() SessionID {
	return SessionID{id: uuid.New()}
}

// ParseSessionID validates raw as a UUID.
func ParseSessionID(raw string) (SessionID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil || id == uuid.Nil {
		return SessionID{}, fmt.Errorf("%w: %q", ErrInvalidSessionID, raw)
	}
	return SessionID{id: id}, nil
}

// IsZero reports whether s is the zero value.
func (s SessionID) IsZero() bool {
	return s.id == uuid.Nil
}

// String returns the canonical lower-case form.
func (s SessionID) String() string {
	return s.id.String()
}

// ChatSession is a conversation about one codebase.
// Messages are only ever appended through AddMessage.
type ChatSession struct {
	id         SessionID
	codebaseID string
	messages   []Message
	title      string
	createdAt  time.Time
	updatedAt  time.Time
}

// NewChatSession returns an empty session bound to codebaseID.
func NewChatSession(id SessionID, codebaseID string) *ChatSession {
	now := time.Now().UTC()
	return &ChatSession{
		id:         id,
		codebaseID: codebaseID,
		createdAt:  now,
		updatedAt:  now,
	}
}

func (s *ChatSession) ID() SessionID        { return s.id }
func (s *ChatSession) CodebaseID() string   { return s.codebaseID }
func (s *ChatSession) Title() string        { return s.title }
func (s *ChatSession) CreatedAt() time.Time { return s.createdAt }
func (s *ChatSession) UpdatedAt() time.Time { return s.updatedAt }
func (s *ChatSession) MessageCount() int    { return len(s.messages) }

// Messages returns a copy of the conversation in append order.
func (s *ChatSession) Messages() []Message {
	return append([]Message(nil), s.messages...)
}

// AddMessage appends m, deriving the title from the first user message.
func (s *ChatSession) AddMessage(m Message) {
	s.messages = append(s.messages, m)
	if s.title == "" && m.Role == RoleUser {
		s.title = deriveTitle(m.Content)
	}
	s.updatedAt = time.Now().UTC()
	if m.Timestamp.After(s.updatedAt) {
		s.updatedAt = m.Timestamp
	}
}

func deriveTitle(content string) string {
	r := []rune(content)
	if len(r) > TitleMaxLength {
		return string(r[:TitleMaxLength]) + "..."
	}
	return content
}

// SessionSnapshot is the exported state of a ChatSession, used by persistence.
type SessionSnapshot struct {
	ID         SessionID
	CodebaseID string
	Messages   []Message
	Title      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Snapshot captures the session state.
func (s *ChatSession) Snapshot() SessionSnapshot {
	return SessionSnapshot{
		ID:         s.id,
		CodebaseID: s.codebaseID,
		Messages:   s.Messages(),
		Title:      s.title,
		CreatedAt:  s.createdAt,
		UpdatedAt:  s.updatedAt,
	}
}

// RestoreChatSession rebuilds a session from a snapshot without re-deriving anything.
func RestoreChatSession(snap SessionSnapshot) *ChatSession {
	return &ChatSession{
		id:         snap.ID,
		codebaseID: snap.CodebaseID,
		messages:   append([]Message(nil), snap.Messages...),
		title:      snap.Title,
		createdAt:  snap.CreatedAt,
		updatedAt:  snap.UpdatedAt,
	}
}
