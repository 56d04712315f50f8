package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/sha1n/coderag/internal/domain"
)

func closeIndex(t *testing.T, b *BleveIndex) {
	t.Helper()
	if err := b.Close(); err != nil {
		t.Errorf("Failed to close index: %v", err)
	}
}

func sampleChunks() []domain.CodeChunk {
	return []domain.CodeChunk{
		domain.NewWholeFileChunk("auth/middleware.go", "package auth\n\nfunc ValidateToken(token string) bool {\n\treturn token != \"\"\n}\n"),
		domain.NewWholeFileChunk("server/server.go", "package server\n\n// Start listens for connections.\nfunc Start() {}\n"),
		domain.NewWholeFileChunk("README.md", "# Widgets\n\nHow to validate a token in the auth layer.\n"),
	}
}

func TestBleveIndex_CreateAddSearch(t *testing.T) {
	ctx := context.Background()
	b := NewBleveIndex(t.TempDir(), nil, nil)
	defer closeIndex(t, b)

	if err := b.CreateIndex(ctx, "cb"); err != nil {
		t.Fatalf("CreateIndex failed: %v", err)
	}
	if err := b.AddChunks(ctx, "cb", sampleChunks()); err != nil {
		t.Fatalf("AddChunks failed: %v", err)
	}

	results, err := b.Search(ctx, "cb", "ValidateToken", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	top := results[0]
	if top.Chunk.FilePath != "auth/middleware.go" {
		t.Errorf("top result = %q, want auth/middleware.go", top.Chunk.FilePath)
	}
	if top.Chunk.StartLine != 1 || top.Chunk.EndLine != 6 {
		t.Errorf("line range = %d-%d, want 1-6", top.Chunk.StartLine, top.Chunk.EndLine)
	}
	if top.Chunk.Content == "" {
		t.Error("content not stored")
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not ordered by score: %v", results)
		}
	}
}

func TestBleveIndex_TopKBound(t *testing.T) {
	ctx := context.Background()
	b := NewBleveIndex(t.TempDir(), nil, nil)
	defer closeIndex(t, b)

	_ = b.CreateIndex(ctx, "cb")
	_ = b.AddChunks(ctx, "cb", sampleChunks())

	results, err := b.Search(ctx, "cb", "token auth package", 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("len(results) = %d, want 1", len(results))
	}
}

func TestBleveIndex_EmptyCases(t *testing.T) {
	ctx := context.Background()
	b := NewBleveIndex(t.TempDir(), nil, nil)
	defer closeIndex(t, b)

	t.Run("no index", func(t *testing.T) {
		results, err := b.Search(ctx, "missing", "anything", 5)
		if err != nil || results == nil || len(results) != 0 {
			t.Errorf("Search on missing index = %v, %v; want empty, nil", results, err)
		}
	})

	t.Run("empty index", func(t *testing.T) {
		_ = b.CreateIndex(ctx, "empty")
		if err := b.AddChunks(ctx, "empty", nil); err != nil {
			t.Fatalf("AddChunks(nil) failed: %v", err)
		}
		results, err := b.Search(ctx, "empty", "anything", 5)
		if err != nil || len(results) != 0 {
			t.Errorf("Search on empty index = %v, %v; want empty, nil", results, err)
		}
	})

	t.Run("blank query", func(t *testing.T) {
		results, err := b.Search(ctx, "empty", "   ", 5)
		if err != nil || len(results) != 0 {
			t.Errorf("Search with blank query = %v, %v", results, err)
		}
	})
}

func TestBleveIndex_AddChunksWithoutIndex(t *testing.T) {
	b := NewBleveIndex(t.TempDir(), nil, nil)
	defer closeIndex(t, b)

	err := b.AddChunks(context.Background(), "nope", sampleChunks())
	if !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("AddChunks error = %v, want ErrIndexNotFound", err)
	}
}

func TestBleveIndex_LazyLoadAfterRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first := NewBleveIndex(dir, nil, nil)
	_ = first.CreateIndex(ctx, "cb")
	_ = first.AddChunks(ctx, "cb", sampleChunks())
	closeIndex(t, first)

	handles := NewHandleCache()
	second := NewBleveIndex(dir, handles, nil)
	defer closeIndex(t, second)

	if handles.Len() != 0 {
		t.Fatalf("expected empty handle cache, got %d", handles.Len())
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := second.Search(ctx, "cb", "Start", 5)
			if err == nil && len(results) == 0 {
				err = errors.New("no results after reload")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent search: %v", err)
		}
	}

	if handles.Len() != 1 {
		t.Errorf("handle cache size = %d, want 1", handles.Len())
	}
}

func TestBleveIndex_CreateReplacesExisting(t *testing.T) {
	ctx := context.Background()
	b := NewBleveIndex(t.TempDir(), nil, nil)
	defer closeIndex(t, b)

	_ = b.CreateIndex(ctx, "cb")
	_ = b.AddChunks(ctx, "cb", sampleChunks())
	if err := b.CreateIndex(ctx, "cb"); err != nil {
		t.Fatalf("second CreateIndex failed: %v", err)
	}

	results, _ := b.Search(ctx, "cb", "ValidateToken", 5)
	if len(results) != 0 {
		t.Errorf("expected fresh index, got %d results", len(results))
	}
}

func TestBleveIndex_DeleteIndex(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b := NewBleveIndex(dir, nil, nil)
	defer closeIndex(t, b)

	_ = b.CreateIndex(ctx, "cb")
	_ = b.AddChunks(ctx, "cb", sampleChunks())

	if err := b.DeleteIndex(ctx, "cb"); err != nil {
		t.Fatalf("DeleteIndex failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "cb"+IndexSuffix)); !os.IsNotExist(err) {
		t.Errorf("index directory still exists: %v", err)
	}
	results, err := b.Search(ctx, "cb", "Start", 5)
	if err != nil || len(results) != 0 {
		t.Errorf("Search after delete = %v, %v", results, err)
	}
}

func TestBleveIndex_Batching(t *testing.T) {
	ctx := context.Background()
	b := NewBleveIndex(t.TempDir(), nil, nil)
	defer closeIndex(t, b)
	_ = b.CreateIndex(ctx, "cb")

	chunks := make([]domain.CodeChunk, MaxBatchSize*2+7)
	for i := range chunks {
		chunks[i] = domain.NewWholeFileChunk(filepath.ToSlash(filepath.Join("pkg", string(rune('a'+i%26)), "f"+strconv.Itoa(i)+".go")), "package pkg\n// needle\n")
	}
	if err := b.AddChunks(ctx, "cb", chunks); err != nil {
		t.Fatalf("AddChunks failed: %v", err)
	}

	idx, _ := b.handles.Get("cb")
	count, err := idx.DocCount()
	if err != nil {
		t.Fatalf("DocCount failed: %v", err)
	}
	if count != uint64(len(chunks)) {
		t.Errorf("DocCount = %d, want %d", count, len(chunks))
	}
}
