package domain

import "strings"

// CodeChunk is a contiguous slice of a single file.
// StartLine and EndLine are 1-based and inclusive.
type CodeChunk struct {
	FilePath  string
	Content   string
	StartLine int
	EndLine   int
	Metadata  map[string]string
}

// NewWholeFileChunk wraps the full content of a file as one chunk.
func NewWholeFileChunk(filePath, content string) CodeChunk {
	return CodeChunk{
		FilePath:  filePath,
		Content:   content,
		StartLine: 1,
		EndLine:   strings.Count(content, "\n") + 1,
	}
}

// SearchResult is a chunk with its relevance score. Higher is better.
type SearchResult struct {
	Chunk CodeChunk
	Score float64
}
