package mcp

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/coderag/internal/domain"
	"github.com/sha1n/coderag/internal/index"
)

const (
	defaultTopK = 5
	// maxListedFiles caps list_files output.
	maxListedFiles = 500
)

// FileSource reads a cloned codebase.
type FileSource interface {
	ListFiles(ctx context.Context, root string, extensions []string) ([]string, error)
	ReadFile(ctx context.Context, root, relPath string) (string, error)
}

// CodeTools serves search and file access over ingested codebases.
type CodeTools struct {
	codebases  domain.CodebaseRepository
	index      index.Index
	files      FileSource
	extensions []string
	maxResults int
}

// NewCodeTools creates the code tool handlers. maxResults caps search_code top_k.
func NewCodeTools(codebases domain.CodebaseRepository, idx index.Index, files FileSource, extensions []string, maxResults int) *CodeTools {
	if maxResults <= 0 {
		maxResults = 20
	}
	return &CodeTools{codebases: codebases, index: idx, files: files, extensions: extensions, maxResults: maxResults}
}

// readyCodebase resolves a codebase that can be searched, or an error result.
func (t *CodeTools) readyCodebase(ctx context.Context, id string) (*domain.Codebase, *mcp.CallToolResult) {
	if strings.TrimSpace(id) == "" {
		return nil, errorResult("codebase_id cannot be empty")
	}
	codebase, err := t.codebases.GetByID(ctx, id)
	if err != nil {
		return nil, failure("Codebase lookup failed", err)
	}
	if !codebase.IsReady() {
		return nil, errorResult("Codebase %s is not ready (status: %s)", id, codebase.Status)
	}
	return codebase, nil
}

// SearchArgument defines search_code parameters.
type SearchArgument struct {
	CodebaseID string `json:"codebase_id" jsonschema:"Id of the ingested codebase"`
	Query      string `json:"query" jsonschema:"Natural language or keyword query"`
	TopK       int    `json:"top_k,omitempty" jsonschema:"Number of results to return (default: 5)"`
}

// SearchHit is one search_code result.
type SearchHit struct {
	FilePath  string  `json:"file_path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float64 `json:"score"`
	Content   string  `json:"content"`
}

// SearchOutput is the structured output of search_code.
type SearchOutput struct {
	Results []SearchHit `json:"results"`
}

func emptySearch() SearchOutput {
	return SearchOutput{Results: []SearchHit{}}
}

// Search handles search_code.
func (t *CodeTools) Search(ctx context.Context, req *mcp.CallToolRequest, args SearchArgument) (*mcp.CallToolResult, SearchOutput, error) {
	codebase, errRes := t.readyCodebase(ctx, args.CodebaseID)
	if errRes != nil {
		return errRes, emptySearch(), nil
	}
	if strings.TrimSpace(args.Query) == "" {
		return errorResult("Query cannot be empty"), emptySearch(), nil
	}

	topK := args.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	topK = min(topK, t.maxResults)

	results, err := t.index.Search(ctx, codebase.ID, args.Query, topK)
	if err != nil {
		return errorResult("Search failed: %s", err), emptySearch(), nil
	}

	out := emptySearch()
	for _, r := range results {
		out.Results = append(out.Results, SearchHit{
			FilePath:  r.Chunk.FilePath,
			StartLine: r.Chunk.StartLine,
			EndLine:   r.Chunk.EndLine,
			Score:     r.Score,
			Content:   r.Chunk.Content,
		})
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: formatSearch(out, args.Query)},
		},
	}, out, nil
}

func formatSearch(out SearchOutput, query string) string {
	if len(out.Results) == 0 {
		return fmt.Sprintf("No results found for query: %s", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d results for '%s':\n\n", len(out.Results), query)
	for i, hit := range out.Results {
		fmt.Fprintf(&sb, "### %d. %s (lines %d-%d)\n", i+1, hit.FilePath, hit.StartLine, hit.EndLine)
		fmt.Fprintf(&sb, "**Score**: %.4f\n\n", hit.Score)
		fmt.Fprintf(&sb, "```%s\n%s\n```\n\n", languageHint(hit.FilePath), hit.Content)
	}
	return sb.String()
}

// ReadArgument defines read_file parameters.
type ReadArgument struct {
	CodebaseID string `json:"codebase_id" jsonschema:"Id of the ingested codebase"`
	FilePath   string `json:"file_path" jsonschema:"Path to the file relative to repository root"`
}

// Read handles read_file.
func (t *CodeTools) Read(ctx context.Context, req *mcp.CallToolRequest, args ReadArgument) (*mcp.CallToolResult, any, error) {
	codebase, errRes := t.readyCodebase(ctx, args.CodebaseID)
	if errRes != nil {
		return errRes, nil, nil
	}
	if strings.TrimSpace(args.FilePath) == "" {
		return errorResult("file_path cannot be empty"), nil, nil
	}

	content, err := t.files.ReadFile(ctx, codebase.LocalPath, args.FilePath)
	if err != nil {
		return errorResult("Cannot read %s: %s", args.FilePath, err), nil, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**File**: `%s`\n", args.FilePath)
	fmt.Fprintf(&sb, "**Repository**: %s\n", codebase.Locator.DisplayName())
	fmt.Fprintf(&sb, "**Size**: %d bytes\n\n", len(content))
	fmt.Fprintf(&sb, "```%s\n%s\n```", languageHint(args.FilePath), content)
	return textResult(sb.String()), nil, nil
}

// ListArgument defines list_files parameters.
type ListArgument struct {
	CodebaseID string   `json:"codebase_id" jsonschema:"Id of the ingested codebase"`
	Directory  string   `json:"directory,omitempty" jsonschema:"Directory path (empty for root)"`
	Extensions []string `json:"extensions,omitempty" jsonschema:"Filter by file extensions (e.g. .py, .go)"`
}

// ListOutput is the structured output of list_files.
type ListOutput struct {
	Files     []string `json:"files"`
	Truncated bool     `json:"truncated"`
}

// List handles list_files.
func (t *CodeTools) List(ctx context.Context, req *mcp.CallToolRequest, args ListArgument) (*mcp.CallToolResult, ListOutput, error) {
	empty := ListOutput{Files: []string{}}
	codebase, errRes := t.readyCodebase(ctx, args.CodebaseID)
	if errRes != nil {
		return errRes, empty, nil
	}

	exts := args.Extensions
	if len(exts) == 0 {
		exts = t.extensions
	}
	files, err := t.files.ListFiles(ctx, codebase.LocalPath, exts)
	if err != nil {
		return errorResult("Failed to list files: %s", err), empty, nil
	}

	out := empty
	dir := strings.Trim(args.Directory, "/")
	for _, f := range files {
		if dir != "" && !strings.HasPrefix(f, dir+"/") {
			continue
		}
		if len(out.Files) == maxListedFiles {
			out.Truncated = true
			break
		}
		out.Files = append(out.Files, f)
	}

	return jsonResult(out.Files), out, nil
}

// SummaryArgument defines get_repo_summary parameters.
type SummaryArgument struct {
	CodebaseID string `json:"codebase_id" jsonschema:"Id of the ingested codebase"`
}

// SummaryOutput is the structured output of get_repo_summary.
type SummaryOutput struct {
	Repository     string         `json:"repository"`
	Revision       string         `json:"revision,omitempty"`
	TotalFiles     int            `json:"total_files"`
	Extensions     map[string]int `json:"extensions"`
	TopDirectories []string       `json:"top_directories"`
}

// Summary handles get_repo_summary.
func (t *CodeTools) Summary(ctx context.Context, req *mcp.CallToolRequest, args SummaryArgument) (*mcp.CallToolResult, SummaryOutput, error) {
	empty := SummaryOutput{Extensions: map[string]int{}, TopDirectories: []string{}}
	codebase, errRes := t.readyCodebase(ctx, args.CodebaseID)
	if errRes != nil {
		return errRes, empty, nil
	}

	files, err := t.files.ListFiles(ctx, codebase.LocalPath, t.extensions)
	if err != nil {
		return errorResult("Failed to list files: %s", err), empty, nil
	}

	out := empty
	out.Repository = codebase.Locator.DisplayName()
	out.Revision = codebase.Revision
	out.TotalFiles = len(files)
	dirs := map[string]struct{}{}
	for _, f := range files {
		ext := path.Ext(f)
		if ext == "" {
			ext = "(none)"
		}
		out.Extensions[ext]++
		if i := strings.Index(f, "/"); i > 0 {
			dirs[f[:i]] = struct{}{}
		}
	}
	for d := range dirs {
		out.TopDirectories = append(out.TopDirectories, d)
	}
	sort.Strings(out.TopDirectories)

	return jsonResult(out), out, nil
}

// Register adds the code tools to server.
func (t *CodeTools) Register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_code",
		Description: "Search for code in an ingested codebase using full-text search",
	}, t.Search)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "read_file",
		Description: "Read the contents of a specific file in an ingested codebase",
	}, t.Read)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_files",
		Description: "List files in an ingested codebase or one of its directories",
	}, t.List)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_repo_summary",
		Description: "Get a high-level summary of an ingested codebase's structure",
	}, t.Summary)
}

// languageHint maps a file name to a code fence language.
func languageHint(name string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	switch ext {
	case "py":
		return "python"
	case "js", "jsx":
		return "javascript"
	case "ts", "tsx":
		return "typescript"
	case "rs":
		return "rust"
	case "rb":
		return "ruby"
	case "sh", "bash", "zsh":
		return "bash"
	case "yml":
		return "yaml"
	case "md":
		return "markdown"
	case "":
		if strings.EqualFold(path.Base(name), "Dockerfile") {
			return "dockerfile"
		}
	}
	return ext
}
