// Package index stores code chunks per codebase and answers relevance queries.
package index

import (
	"context"

	"github.com/sha1n/coderag/internal/domain"
)

// Index is a searchable store of code chunks, partitioned by codebase id.
type Index interface {
	// CreateIndex creates an empty index, replacing any existing one.
	CreateIndex(ctx context.Context, codebaseID string) error
	// AddChunks adds chunks to an existing index. An empty slice is a no-op.
	AddChunks(ctx context.Context, codebaseID string, chunks []domain.CodeChunk) error
	// Search returns at most topK results, best first. A codebase without an
	// index yields an empty result, not an error.
	Search(ctx context.Context, codebaseID, query string, topK int) ([]domain.SearchResult, error)
	DeleteIndex(ctx context.Context, codebaseID string) error
}
