package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/coderag/internal/domain"
	"github.com/sha1n/coderag/internal/toolbridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatContext(t *testing.T) {
	got := FormatContext([]domain.SearchResult{
		result("main.go", "package main", 2),
		result("util.go", "package util", 1),
		result("main.go", "package main", 0.5),
	})

	want := "### File: main.go (lines 1-1)\n```\npackage main\n```\n\n" +
		"### File: util.go (lines 1-1)\n```\npackage util\n```\n\n" +
		"### File: main.go (lines 1-1)\n```\npackage main\n```"
	assert.Equal(t, want, got.Context)
	assert.Equal(t, []string{"main.go", "util.go"}, got.Sources)
}

func TestFormatContext_NoResults(t *testing.T) {
	got := FormatContext(nil)
	assert.Equal(t, NoResultsContext, got.Context)
	assert.Empty(t, got.Sources)
}

func TestDirectRetriever_UsesTopK(t *testing.T) {
	idx := &fakeIndex{results: map[string][]domain.SearchResult{
		"cb-1": {result("a.go", "a", 3), result("b.go", "b", 2), result("c.go", "c", 1)},
	}}

	got, err := NewDirectRetriever(idx, 2).Retrieve(context.Background(), readyCodebase(), "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "b.go"}, got.Sources)
}

func TestDirectRetriever_SearchError(t *testing.T) {
	idx := &fakeIndex{err: errors.New("boom")}
	_, err := NewDirectRetriever(idx, 0).Retrieve(context.Background(), readyCodebase(), "q")
	assert.ErrorContains(t, err, "boom")
}

type searchArgs struct {
	CodebaseID string `json:"codebase_id"`
	Query      string `json:"query"`
	TopK       int    `json:"top_k"`
}

type searchHit struct {
	FilePath  string  `json:"file_path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float64 `json:"score"`
	Content   string  `json:"content"`
}

type searchResults struct {
	Results []searchHit `json:"results"`
}

func newSearchServer(fail bool, seen *searchArgs) toolbridge.ServerFactory {
	return func() *mcp.Server {
		s := mcp.NewServer(&mcp.Implementation{Name: "codebase", Version: "test"}, nil)
		mcp.AddTool(s, &mcp.Tool{Name: SearchToolName, Description: "search"},
			func(ctx context.Context, req *mcp.CallToolRequest, args searchArgs) (*mcp.CallToolResult, searchResults, error) {
				*seen = args
				if fail {
					return &mcp.CallToolResult{
						Content: []mcp.Content{&mcp.TextContent{Text: "index unavailable"}},
						IsError: true,
					}, searchResults{Results: []searchHit{}}, nil
				}
				return &mcp.CallToolResult{
					Content: []mcp.Content{&mcp.TextContent{Text: "1 result"}},
				}, searchResults{Results: []searchHit{
					{FilePath: "remote.go", StartLine: 3, EndLine: 4, Score: 1.5, Content: "func Remote() {}"},
				}}, nil
			})
		return s
	}
}

func TestBridgeRetriever(t *testing.T) {
	var seen searchArgs
	registry := toolbridge.NewRegistry("test", "0")
	registry.RegisterInProcess("codebase", newSearchServer(false, &seen))

	got, err := NewBridgeRetriever(registry, "codebase", 3).Retrieve(context.Background(), readyCodebase(), "where")
	require.NoError(t, err)

	assert.Equal(t, searchArgs{CodebaseID: "cb-1", Query: "where", TopK: 3}, seen)
	assert.Equal(t, []string{"remote.go"}, got.Sources)
	assert.Equal(t, "### File: remote.go (lines 3-4)\n```\nfunc Remote() {}\n```", got.Context)
}

func TestBridgeRetriever_ToolError(t *testing.T) {
	var seen searchArgs
	registry := toolbridge.NewRegistry("test", "0")
	registry.RegisterInProcess("codebase", newSearchServer(true, &seen))

	_, err := NewBridgeRetriever(registry, "codebase", 0).Retrieve(context.Background(), readyCodebase(), "where")
	assert.ErrorIs(t, err, toolbridge.ErrToolFailed)
	assert.Equal(t, DefaultTopK, seen.TopK)
}

func TestFallbackRetriever(t *testing.T) {
	idx := &fakeIndex{results: map[string][]domain.SearchResult{"cb-1": {result("local.go", "x", 1)}}}
	direct := NewDirectRetriever(idx, 5)

	t.Run("primary unavailable", func(t *testing.T) {
		registry := toolbridge.NewRegistry("test", "0")
		bridge := NewBridgeRetriever(registry, "codebase", 5)

		got, err := NewFallbackRetriever(bridge, direct, nil).Retrieve(context.Background(), readyCodebase(), "q")
		require.NoError(t, err)
		assert.Equal(t, []string{"local.go"}, got.Sources)
	})

	t.Run("primary succeeds", func(t *testing.T) {
		var seen searchArgs
		registry := toolbridge.NewRegistry("test", "0")
		registry.RegisterInProcess("codebase", newSearchServer(false, &seen))
		bridge := NewBridgeRetriever(registry, "codebase", 5)
		before := idx.Searches()

		got, err := NewFallbackRetriever(bridge, direct, nil).Retrieve(context.Background(), readyCodebase(), "q")
		require.NoError(t, err)
		assert.Equal(t, []string{"remote.go"}, got.Sources)
		assert.Equal(t, before, idx.Searches())
	})
}
