// Package rag answers questions about a codebase by retrieving relevant code
// and handing it to a generation provider.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/sha1n/coderag/internal/domain"
	"github.com/sha1n/coderag/internal/index"
	"github.com/sha1n/coderag/internal/toolbridge"
)

const (
	// DefaultTopK is the number of chunks retrieved per query.
	DefaultTopK = 5

	// NoResultsContext replaces the context when retrieval finds nothing.
	NoResultsContext = "No relevant code found in the repository."

	// SearchToolName is the tool the bridge retriever calls on the tool server.
	SearchToolName = "search_code"
)

// Retrieval is the code context handed to generation.
type Retrieval struct {
	Context string
	// Sources are file paths in rank order, without duplicates.
	Sources []string
}

// Retriever finds code relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, codebase *domain.Codebase, query string) (Retrieval, error)
}

// FormatContext renders ranked results as one context string.
func FormatContext(results []domain.SearchResult) Retrieval {
	if len(results) == 0 {
		return Retrieval{Context: NoResultsContext}
	}

	parts := make([]string, 0, len(results))
	var sources []string
	for _, r := range results {
		c := r.Chunk
		parts = append(parts, fmt.Sprintf("### File: %s (lines %d-%d)\n```\n%s\n```", c.FilePath, c.StartLine, c.EndLine, c.Content))
		sources = appendUnique(sources, c.FilePath)
	}

	return Retrieval{Context: strings.Join(parts, "\n\n"), Sources: sources}
}

func appendUnique(list []string, items ...string) []string {
	for _, item := range items {
		if !slices.Contains(list, item) {
			list = append(list, item)
		}
	}
	return list
}

// DirectRetriever searches the index in-process.
type DirectRetriever struct {
	index index.Index
	topK  int
}

// NewDirectRetriever creates a retriever over idx. topK <= 0 uses DefaultTopK.
func NewDirectRetriever(idx index.Index, topK int) *DirectRetriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &DirectRetriever{index: idx, topK: topK}
}

func (r *DirectRetriever) Retrieve(ctx context.Context, codebase *domain.Codebase, query string) (Retrieval, error) {
	results, err := r.index.Search(ctx, codebase.ID, query, r.topK)
	if err != nil {
		return Retrieval{}, fmt.Errorf("search failed: %w", err)
	}
	return FormatContext(results), nil
}

// ToolServers opens scoped sessions to tool servers. *toolbridge.Registry implements it.
type ToolServers interface {
	With(ctx context.Context, server string, fn func(toolbridge.Session) error) error
}

// searchOutput mirrors the structured output of the search_code tool.
type searchOutput struct {
	Results []struct {
		FilePath  string  `json:"file_path"`
		StartLine int     `json:"start_line"`
		EndLine   int     `json:"end_line"`
		Score     float64 `json:"score"`
		Content   string  `json:"content"`
	} `json:"results"`
}

// BridgeRetriever calls search_code on a tool server over a scoped session.
type BridgeRetriever struct {
	servers ToolServers
	server  string
	topK    int
}

// NewBridgeRetriever creates a retriever that delegates to the named tool server.
func NewBridgeRetriever(servers ToolServers, server string, topK int) *BridgeRetriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &BridgeRetriever{servers: servers, server: server, topK: topK}
}

func (r *BridgeRetriever) Retrieve(ctx context.Context, codebase *domain.Codebase, query string) (Retrieval, error) {
	var out searchOutput
	err := r.servers.With(ctx, r.server, func(s toolbridge.Session) error {
		res, err := s.CallTool(ctx, SearchToolName, map[string]any{
			"codebase_id": codebase.ID,
			"query":       query,
			"top_k":       r.topK,
		})
		if err != nil {
			return err
		}
		if err := res.Err(); err != nil {
			return err
		}
		return res.DecodeStructured(&out)
	})
	if err != nil {
		return Retrieval{}, fmt.Errorf("bridge retrieval via %s failed: %w", r.server, err)
	}

	results := make([]domain.SearchResult, 0, len(out.Results))
	for _, hit := range out.Results {
		results = append(results, domain.SearchResult{
			Chunk: domain.CodeChunk{
				FilePath:  hit.FilePath,
				Content:   hit.Content,
				StartLine: hit.StartLine,
				EndLine:   hit.EndLine,
			},
			Score: hit.Score,
		})
	}
	return FormatContext(results), nil
}

// FallbackRetriever uses Secondary whenever Primary fails.
type FallbackRetriever struct {
	primary   Retriever
	secondary Retriever
	logger    *slog.Logger
}

// NewFallbackRetriever composes two retrievers.
func NewFallbackRetriever(primary, secondary Retriever, logger *slog.Logger) *FallbackRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackRetriever{primary: primary, secondary: secondary, logger: logger}
}

func (r *FallbackRetriever) Retrieve(ctx context.Context, codebase *domain.Codebase, query string) (Retrieval, error) {
	res, err := r.primary.Retrieve(ctx, codebase, query)
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return Retrieval{}, ctx.Err()
	}
	r.logger.Warn("Primary retrieval failed, falling back", "codebase_id", codebase.ID, "error", err)
	return r.secondary.Retrieve(ctx, codebase, query)
}
