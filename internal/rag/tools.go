package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sha1n/coderag/internal/domain"
	"github.com/sha1n/coderag/internal/index"
	"github.com/sha1n/coderag/internal/llm"
)

// Agent tool names.
const (
	ToolSearchCode = "search_code"
	ToolReadFile   = "read_file"
	ToolListFiles  = "list_files"
)

// MaxListedFiles caps the list_files observation.
const MaxListedFiles = 50

// FileSource reads a cloned codebase. *source.Client implements it.
type FileSource interface {
	ListFiles(ctx context.Context, root string, extensions []string) ([]string, error)
	ReadFile(ctx context.Context, root, relPath string) (string, error)
}

// Observation is the outcome of one tool execution.
type Observation struct {
	Text string
	// ReadFile is the path read by a successful read_file call.
	ReadFile string
}

// Toolset executes agent tools against a codebase.
type Toolset interface {
	Tools() []llm.Tool
	Execute(ctx context.Context, codebase *domain.Codebase, call llm.ToolCall) (Observation, error)
}

// LocalTools serves the agent tools from the index and the clone on disk.
type LocalTools struct {
	index index.Index
	files FileSource
	topK  int
}

// NewLocalTools creates the default agent toolset.
func NewLocalTools(idx index.Index, files FileSource, topK int) *LocalTools {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &LocalTools{index: idx, files: files, topK: topK}
}

func (t *LocalTools) Tools() []llm.Tool {
	return []llm.Tool{
		{
			Name:        ToolSearchCode,
			Description: "Search for code snippets relevant to the query",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "description": "What you are looking for"},
					"top_k": map[string]any{"type": "integer", "description": "Number of results to return (default: 5)"},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        ToolReadFile,
			Description: "Read the contents of a specific file in the repository",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"file_path": map[string]any{"type": "string", "description": "Path to the file relative to repository root"},
				},
				"required": []string{"file_path"},
			},
		},
		{
			Name:        ToolListFiles,
			Description: "List files in the repository or a specific directory",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"directory": map[string]any{"type": "string", "description": "Directory path (empty for root)"},
					"extension": map[string]any{"type": "string", "description": "Only list files with this extension (e.g. .go)"},
				},
			},
		},
	}
}

func (t *LocalTools) Execute(ctx context.Context, codebase *domain.Codebase, call llm.ToolCall) (Observation, error) {
	switch call.Name {
	case ToolSearchCode:
		return t.searchCode(ctx, codebase, call.Arguments)
	case ToolReadFile:
		return t.readFile(ctx, codebase, call.Arguments)
	case ToolListFiles:
		return t.listFiles(ctx, codebase, call.Arguments)
	default:
		return Observation{}, fmt.Errorf("unknown tool: %s", call.Name)
	}
}

func (t *LocalTools) searchCode(ctx context.Context, codebase *domain.Codebase, args map[string]any) (Observation, error) {
	query := stringArg(args, "query")
	if strings.TrimSpace(query) == "" {
		return Observation{}, fmt.Errorf("query cannot be empty")
	}
	topK := intArg(args, "top_k", t.topK)

	results, err := t.index.Search(ctx, codebase.ID, query, topK)
	if err != nil {
		return Observation{}, err
	}
	if len(results) == 0 {
		return Observation{Text: "No relevant code found."}, nil
	}

	parts := make([]string, 0, len(results))
	for i, r := range results {
		parts = append(parts, fmt.Sprintf("## Result %d (score: %.3f)\nFile: %s\nLines: %d-%d\n```\n%s\n```",
			i+1, r.Score, r.Chunk.FilePath, r.Chunk.StartLine, r.Chunk.EndLine, r.Chunk.Content))
	}
	return Observation{Text: strings.Join(parts, "\n\n")}, nil
}

func (t *LocalTools) readFile(ctx context.Context, codebase *domain.Codebase, args map[string]any) (Observation, error) {
	raw := stringArg(args, "file_path")
	if strings.TrimSpace(raw) == "" {
		return Observation{}, fmt.Errorf("file_path cannot be empty")
	}
	// Sources are keyed by the cleaned path so spellings of one file collapse.
	path, err := domain.CleanRelativePath(raw)
	if err != nil {
		return Observation{}, err
	}

	content, err := t.files.ReadFile(ctx, codebase.LocalPath, path)
	if err != nil {
		return Observation{}, err
	}
	return Observation{Text: content, ReadFile: path}, nil
}

func (t *LocalTools) listFiles(ctx context.Context, codebase *domain.Codebase, args map[string]any) (Observation, error) {
	var exts []string
	if ext := stringArg(args, "extension"); ext != "" {
		exts = []string{ext}
	}

	files, err := t.files.ListFiles(ctx, codebase.LocalPath, exts)
	if err != nil {
		return Observation{}, err
	}

	if dir := strings.Trim(stringArg(args, "directory"), "/"); dir != "" {
		filtered := files[:0:0]
		for _, f := range files {
			if strings.HasPrefix(f, dir+"/") {
				filtered = append(filtered, f)
			}
		}
		files = filtered
	}
	if len(files) > MaxListedFiles {
		files = files[:MaxListedFiles]
	}
	if files == nil {
		files = []string{}
	}

	data, err := json.MarshalIndent(files, "", "  ")
	if err != nil {
		return Observation{}, err
	}
	return Observation{Text: string(data)}, nil
}

func stringArg(args map[string]any, name string) string {
	if v, ok := args[name].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]any, name string, def int) int {
	switch v := args[name].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	}
	return def
}
