// Package llm defines the generation provider used by the query pipeline.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when a provider produced no choices.
var ErrEmptyResponse = errors.New("provider returned an empty response")

// Role of a conversation message sent to a provider.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Message is one entry of the provider conversation.
// Assistant messages may carry ToolCalls; tool messages answer one call by ToolCallID.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
}

// Tool describes a callable tool. Parameters is a JSON schema object.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is a single generation call.
type Request struct {
	System   string
	Messages []Message
	Tools    []Tool
}

// Outcome is the result of Generate: either a FinalAnswer or a ToolRequest.
type Outcome interface {
	isOutcome()
}

// FinalAnswer ends the conversation turn.
type FinalAnswer struct {
	Text string
}

// ToolRequest asks the caller to run tools and report back.
type ToolRequest struct {
	// Text is any reasoning the model emitted alongside the calls.
	Text  string
	Calls []ToolCall
}

func (FinalAnswer) isOutcome() {}
func (ToolRequest) isOutcome() {}

// FragmentFunc receives streamed text in generation order.
// Returning an error aborts the stream.
type FragmentFunc func(ctx context.Context, fragment string) error

// Provider generates assistant replies.
type Provider interface {
	Generate(ctx context.Context, req Request) (Outcome, error)
	// Stream generates a plain-text reply. Tools are not offered when streaming.
	Stream(ctx context.Context, req Request, onFragment FragmentFunc) error
}
