package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/coderag/internal/chat"
	"github.com/sha1n/coderag/internal/domain"
	"github.com/sha1n/coderag/internal/ingest"
)

// Ingestor is the ingestion surface used by the app tools.
type Ingestor interface {
	Ingest(ctx context.Context, rawURL string) (*ingest.Outcome, error)
	Status(ctx context.Context, codebaseID string) (*domain.Codebase, error)
	List(ctx context.Context) ([]*domain.Codebase, error)
	Delete(ctx context.Context, codebaseID string) error
}

// Conversations is the chat surface used by the app tools.
type Conversations interface {
	Send(ctx context.Context, rawSessionID, codebaseID, text string) (*chat.SendResult, error)
	GetSession(ctx context.Context, rawSessionID string, includeMessages bool) (*chat.SessionView, error)
	ListSessions(ctx context.Context, codebaseID string) ([]chat.SessionView, error)
	DeleteSession(ctx context.Context, rawSessionID string) error
}

// CodebaseView is the tool representation of a codebase.
type CodebaseView struct {
	ID           string     `json:"id"`
	Repository   string     `json:"repository"`
	Status       string     `json:"status"`
	FileCount    int        `json:"file_count"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Revision     string     `json:"revision,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// NewCodebaseView converts a codebase for output.
func NewCodebaseView(c *domain.Codebase) CodebaseView {
	return CodebaseView{
		ID:           c.ID,
		Repository:   c.Locator.DisplayName(),
		Status:       string(c.Status),
		FileCount:    c.FileCount,
		ErrorMessage: c.ErrorMessage,
		Revision:     c.Revision,
		CreatedAt:    c.CreatedAt,
		CompletedAt:  c.CompletedAt,
	}
}

// AppTools exposes ingestion and conversations.
type AppTools struct {
	ingestor      Ingestor
	conversations Conversations
}

// NewAppTools creates the application tool handlers.
func NewAppTools(ingestor Ingestor, conversations Conversations) *AppTools {
	return &AppTools{ingestor: ingestor, conversations: conversations}
}

// IngestArgument defines ingest_repository parameters.
type IngestArgument struct {
	URL string `json:"url" jsonschema:"Repository URL on github.com, gitlab.com or bitbucket.org"`
}

// Ingest handles ingest_repository.
func (t *AppTools) Ingest(ctx context.Context, req *mcp.CallToolRequest, args IngestArgument) (*mcp.CallToolResult, any, error) {
	out, err := t.ingestor.Ingest(ctx, args.URL)
	if err != nil {
		return failure("Ingestion rejected", err), nil, nil
	}

	var sb strings.Builder
	switch {
	case out.Reused:
		fmt.Fprintf(&sb, "Repository %s is already indexed.\n", out.Repository)
	case out.Status == domain.StatusFailed:
		fmt.Fprintf(&sb, "Ingestion of %s failed: %s\n", out.Repository, out.ErrorMessage)
	default:
		fmt.Fprintf(&sb, "Repository %s indexed.\n", out.Repository)
	}
	fmt.Fprintf(&sb, "codebase_id: %s\nstatus: %s\nfile_count: %d\n", out.CodebaseID, out.Status, out.FileCount)

	res := textResult(sb.String())
	res.IsError = out.Status == domain.StatusFailed
	return res, nil, nil
}

// CodebaseArgument identifies a codebase.
type CodebaseArgument struct {
	CodebaseID string `json:"codebase_id" jsonschema:"Id of the ingested codebase"`
}

// Status handles get_ingestion_status.
func (t *AppTools) Status(ctx context.Context, req *mcp.CallToolRequest, args CodebaseArgument) (*mcp.CallToolResult, any, error) {
	c, err := t.ingestor.Status(ctx, args.CodebaseID)
	if err != nil {
		return failure("Status lookup failed", err), nil, nil
	}
	return jsonResult(NewCodebaseView(c)), nil, nil
}

// ListCodebases handles list_codebases.
func (t *AppTools) ListCodebases(ctx context.Context, req *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	codebases, err := t.ingestor.List(ctx)
	if err != nil {
		return failure("Failed to list codebases", err), nil, nil
	}
	views := make([]CodebaseView, 0, len(codebases))
	for _, c := range codebases {
		views = append(views, NewCodebaseView(c))
	}
	return jsonResult(views), nil, nil
}

// DeleteCodebase handles delete_codebase.
func (t *AppTools) DeleteCodebase(ctx context.Context, req *mcp.CallToolRequest, args CodebaseArgument) (*mcp.CallToolResult, any, error) {
	if err := t.ingestor.Delete(ctx, args.CodebaseID); err != nil {
		return failure("Delete failed", err), nil, nil
	}
	return textResult(fmt.Sprintf("Codebase %s deleted", args.CodebaseID)), nil, nil
}

// SendArgument defines send_message parameters.
type SendArgument struct {
	CodebaseID string `json:"codebase_id" jsonschema:"Id of the ingested codebase"`
	SessionID  string `json:"session_id,omitempty" jsonschema:"Existing session id; omit to start a new conversation"`
	Message    string `json:"message" jsonschema:"Question about the codebase"`
}

// Send handles send_message.
func (t *AppTools) Send(ctx context.Context, req *mcp.CallToolRequest, args SendArgument) (*mcp.CallToolResult, any, error) {
	res, err := t.conversations.Send(ctx, args.SessionID, args.CodebaseID, args.Message)
	if err != nil {
		return failure("Failed to answer", err), nil, nil
	}

	var sb strings.Builder
	sb.WriteString(res.Message.Content)
	if len(res.Sources) > 0 {
		sb.WriteString("\n\nSources:\n")
		for _, s := range res.Sources {
			fmt.Fprintf(&sb, "- %s\n", s)
		}
	}
	fmt.Fprintf(&sb, "\nsession_id: %s", res.SessionID)
	return textResult(sb.String()), nil, nil
}

// SessionArgument identifies a session.
type SessionArgument struct {
	SessionID       string `json:"session_id" jsonschema:"Id of the chat session"`
	IncludeMessages bool   `json:"include_messages,omitempty" jsonschema:"Include the full message history"`
}

// GetSession handles get_session.
func (t *AppTools) GetSession(ctx context.Context, req *mcp.CallToolRequest, args SessionArgument) (*mcp.CallToolResult, any, error) {
	view, err := t.conversations.GetSession(ctx, args.SessionID, args.IncludeMessages)
	if err != nil {
		return failure("Session lookup failed", err), nil, nil
	}
	return jsonResult(view), nil, nil
}

// ListSessions handles list_sessions.
func (t *AppTools) ListSessions(ctx context.Context, req *mcp.CallToolRequest, args CodebaseArgument) (*mcp.CallToolResult, any, error) {
	views, err := t.conversations.ListSessions(ctx, args.CodebaseID)
	if err != nil {
		return failure("Failed to list sessions", err), nil, nil
	}
	return jsonResult(views), nil, nil
}

// DeleteSession handles delete_session.
func (t *AppTools) DeleteSession(ctx context.Context, req *mcp.CallToolRequest, args SessionArgument) (*mcp.CallToolResult, any, error) {
	if err := t.conversations.DeleteSession(ctx, args.SessionID); err != nil {
		return failure("Delete failed", err), nil, nil
	}
	return textResult(fmt.Sprintf("Session %s deleted", args.SessionID)), nil, nil
}

// Register adds the application tools to server.
func (t *AppTools) Register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{Name: "ingest_repository", Description: "Clone and index a git repository so it can be queried"}, t.Ingest)
	mcp.AddTool(server, &mcp.Tool{Name: "get_ingestion_status", Description: "Get the indexing status of a codebase"}, t.Status)
	mcp.AddTool(server, &mcp.Tool{Name: "list_codebases", Description: "List ingested codebases, newest first"}, t.ListCodebases)
	mcp.AddTool(server, &mcp.Tool{Name: "delete_codebase", Description: "Delete a codebase with its index, clone and sessions"}, t.DeleteCodebase)
	mcp.AddTool(server, &mcp.Tool{Name: "send_message", Description: "Ask a question about a codebase within a chat session"}, t.Send)
	mcp.AddTool(server, &mcp.Tool{Name: "get_session", Description: "Get a chat session"}, t.GetSession)
	mcp.AddTool(server, &mcp.Tool{Name: "list_sessions", Description: "List the chat sessions of a codebase"}, t.ListSessions)
	mcp.AddTool(server, &mcp.Tool{Name: "delete_session", Description: "Delete a chat session"}, t.DeleteSession)
}
