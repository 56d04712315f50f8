package domain

import "time"

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageMetadata carries optional information attached to a message.
type MessageMetadata struct {
	Sources []string `json:"sources,omitempty"`
	Cached  bool     `json:"cached,omitempty"`
}

// Message is an immutable conversation entry.
type Message struct {
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	Timestamp time.Time        `json:"timestamp"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
}

func newMessage(role Role, content string, meta *MessageMetadata) Message {
	return Message{Role: role, Content: content, Timestamp: time.Now().UTC(), Metadata: meta}
}

// NewUserMessage returns a user message stamped with the current time.
func NewUserMessage(content string) Message {
	return newMessage(RoleUser, content, nil)
}

// NewAssistantMessage returns an assistant message stamped with the current time.
// The sources are recorded in the metadata.
func NewAssistantMessage(content string, sources []string, cached bool) Message {
	return newMessage(RoleAssistant, content, &MessageMetadata{
		Sources: append([]string(nil), sources...),
		Cached:  cached,
	})
}

// NewSystemMessage returns a system message stamped with the current time.
func NewSystemMessage(content string) Message {
	return newMessage(RoleSystem, content, nil)
}

// Sources returns the source files recorded on the message, if any.
func (m Message) Sources() []string {
	if m.Metadata == nil {
		return nil
	}
	return m.Metadata.Sources
}
