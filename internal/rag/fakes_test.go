package rag

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/sha1n/coderag/internal/domain"
)

type fakeIndex struct {
	mu       sync.Mutex
	results  map[string][]domain.SearchResult
	err      error
	searches int
}

func (f *fakeIndex) CreateIndex(context.Context, string) error { return nil }

func (f *fakeIndex) AddChunks(context.Context, string, []domain.CodeChunk) error { return nil }

func (f *fakeIndex) DeleteIndex(context.Context, string) error { return nil }

func (f *fakeIndex) Search(_ context.Context, codebaseID, _ string, topK int) ([]domain.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	if f.err != nil {
		return nil, f.err
	}
	res := f.results[codebaseID]
	if len(res) > topK {
		res = res[:topK]
	}
	return res, nil
}

func (f *fakeIndex) Searches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searches
}

type fakeFiles struct {
	files map[string]string
}

func (f *fakeFiles) ListFiles(_ context.Context, _ string, exts []string) ([]string, error) {
	var out []string
	for p := range f.files {
		if len(exts) > 0 && !strings.HasSuffix(p, exts[0]) {
			continue
		}
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeFiles) ReadFile(_ context.Context, _ string, rel string) (string, error) {
	c, ok := f.files[rel]
	if !ok {
		return "", errors.New("file not found")
	}
	return c, nil
}

func readyCodebase() *domain.Codebase {
	return &domain.Codebase{ID: "cb-1", LocalPath: "/tmp/cb-1", Status: domain.StatusCompleted}
}

func result(path, content string, score float64) domain.SearchResult {
	return domain.SearchResult{Chunk: domain.NewWholeFileChunk(path, content), Score: score}
}
