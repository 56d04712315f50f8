package mcp

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/coderag/internal/domain"
)

// errorResult returns a tool result flagged as an error.
func errorResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
		IsError: true,
	}
}

// failure maps a service error to a readable tool error.
func failure(action string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, domain.ErrCodebaseNotFound):
		return errorResult("%s: codebase not found", action)
	case errors.Is(err, domain.ErrSessionNotFound):
		return errorResult("%s: session not found", action)
	case errors.Is(err, domain.ErrCodebaseNotReady):
		return errorResult("%s: the codebase is not indexed yet, check its ingestion status", action)
	default:
		return errorResult("%s: %s", action, err)
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// jsonResult renders v as indented JSON text.
func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("Failed to encode result: %s", err)
	}
	return textResult(string(data))
}
