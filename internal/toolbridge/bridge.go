package toolbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolInfo describes a tool offered by a server.
type ToolInfo struct {
	Name            string
	Description     string
	ParameterSchema map[string]any
}

// ResourceInfo describes a resource offered by a server.
type ResourceInfo struct {
	URI      string
	Name     string
	MIMEType string
}

// ToolResult is the outcome of a tool call.
type ToolResult struct {
	// Text joins every text content block.
	Text string
	// Structured is the structured output, when the tool declares one.
	Structured any
	IsError    bool
}

// Err returns ErrToolFailed carrying the result text when IsError is set.
func (r *ToolResult) Err() error {
	if !r.IsError {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrToolFailed, r.Text)
}

// DecodeStructured decodes the structured output into v.
func (r *ToolResult) DecodeStructured(v any) error {
	if r.Structured == nil {
		return fmt.Errorf("tool returned no structured content")
	}
	data, err := json.Marshal(r.Structured)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Bridge holds at most one open session. It is safe for concurrent use but
// callers normally Connect, make a few calls, and Disconnect.
type Bridge struct {
	registry *Registry

	mu      sync.Mutex
	server  string
	session *mcp.ClientSession
	closeFn func() error
}

// Connect opens a session to the named server, closing any previous one.
func (b *Bridge) Connect(ctx context.Context, server string) error {
	if err := b.Disconnect(); err != nil {
		return err
	}
	session, closeFn, err := b.registry.dial(ctx, server)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.server, b.session, b.closeFn = server, session, closeFn
	b.mu.Unlock()
	return nil
}

// Disconnect closes the current session. It is a no-op when not connected.
func (b *Bridge) Disconnect() error {
	b.mu.Lock()
	closeFn := b.closeFn
	b.server, b.session, b.closeFn = "", nil, nil
	b.mu.Unlock()
	if closeFn == nil {
		return nil
	}
	return closeFn()
}

// Server returns the connected server name, or "".
func (b *Bridge) Server() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.server
}

func (b *Bridge) current() (*mcp.ClientSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return nil, ErrNotConnected
	}
	return b.session, nil
}

func (b *Bridge) ListTools(ctx context.Context) ([]ToolInfo, error) {
	session, err := b.current()
	if err != nil {
		return nil, err
	}
	res, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	tools := make([]ToolInfo, 0, len(res.Tools))
	for _, t := range res.Tools {
		schema, err := toSchemaMap(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", t.Name, err)
		}
		tools = append(tools, ToolInfo{Name: t.Name, Description: t.Description, ParameterSchema: schema})
	}
	return tools, nil
}

func toSchemaMap(schema any) (map[string]any, error) {
	if schema == nil {
		return map[string]any{"type": "object"}, nil
	}
	if m, ok := schema.(map[string]any); ok {
		return m, nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("invalid input schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid input schema: %w", err)
	}
	return m, nil
}

// CallTool invokes a tool. A result flagged IsError is returned without an error;
// use ToolResult.Err to treat it as one.
func (b *Bridge) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	session, err := b.current()
	if err != nil {
		return nil, err
	}
	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("call tool %s: %w", name, err)
	}
	return &ToolResult{
		Text:       joinText(res.Content),
		Structured: res.StructuredContent,
		IsError:    res.IsError,
	}, nil
}

func joinText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func (b *Bridge) ListResources(ctx context.Context) ([]ResourceInfo, error) {
	session, err := b.current()
	if err != nil {
		return nil, err
	}
	res, err := session.ListResources(ctx, &mcp.ListResourcesParams{})
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	out := make([]ResourceInfo, 0, len(res.Resources))
	for _, r := range res.Resources {
		out = append(out, ResourceInfo{URI: r.URI, Name: r.Name, MIMEType: r.MIMEType})
	}
	return out, nil
}

// ReadResource returns the text of every content block of the resource.
func (b *Bridge) ReadResource(ctx context.Context, uri string) (string, error) {
	session, err := b.current()
	if err != nil {
		return "", err
	}
	res, err := session.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
	if err != nil {
		return "", fmt.Errorf("read resource %s: %w", uri, err)
	}
	var parts []string
	for _, c := range res.Contents {
		if c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// Session is the part of Bridge used inside a scoped call.
type Session interface {
	ListTools(ctx context.Context) ([]ToolInfo, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error)
	ListResources(ctx context.Context) ([]ResourceInfo, error)
	ReadResource(ctx context.Context, uri string) (string, error)
}

// With connects a new bridge to server, runs fn and disconnects.
func (r *Registry) With(ctx context.Context, server string, fn func(Session) error) error {
	b := r.NewBridge()
	if err := b.Connect(ctx, server); err != nil {
		return err
	}
	defer func() { _ = b.Disconnect() }()
	return fn(b)
}
