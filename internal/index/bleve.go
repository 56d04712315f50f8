package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"golang.org/x/sync/singleflight"

	"github.com/sha1n/coderag/internal/domain"
)

const (
	// IndexSuffix is the suffix for index directories
	IndexSuffix = ".bleve"

	// MaxBatchSize is the maximum number of documents per batch
	MaxBatchSize = 100

	// MaxBatchBytes is the maximum bytes per batch (10MB)
	MaxBatchBytes = 10 * 1024 * 1024

	// symbolBoost weights declaration-name matches over plain content matches.
	symbolBoost = 5.0
)

// ErrIndexNotFound is returned by AddChunks when CreateIndex was not called first.
var ErrIndexNotFound = errors.New("index not found")

// BleveIndex is an Index with one on-disk bleve index per codebase.
// Indexes are opened lazily on first use and kept in a HandleCache.
type BleveIndex struct {
	baseDir string
	handles *HandleCache
	loads   singleflight.Group
	logger  *slog.Logger
}

// NewBleveIndex creates an index rooted at baseDir. A nil handles cache gets a fresh one.
func NewBleveIndex(baseDir string, handles *HandleCache, logger *slog.Logger) *BleveIndex {
	if handles == nil {
		handles = NewHandleCache()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BleveIndex{baseDir: baseDir, handles: handles, logger: logger}
}

// indexPath returns the path to an index for a given codebase ID.
func (b *BleveIndex) indexPath(codebaseID string) string {
	return filepath.Join(b.baseDir, codebaseID+IndexSuffix)
}

// CreateIndexMapping creates the Bleve index mapping for code documents.
func CreateIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	// Content field - analyzed for full-text search
	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = standard.Name
	contentField.Store = true
	contentField.IncludeTermVectors = true
	docMapping.AddFieldMappingsAt(domain.CodeFieldContent, contentField)

	// Symbols - analyzed, not stored
	symbolsField := bleve.NewTextFieldMapping()
	symbolsField.Analyzer = standard.Name
	symbolsField.Store = false
	docMapping.AddFieldMappingsAt(domain.CodeFieldSymbols, symbolsField)

	for _, name := range []string{domain.CodeFieldCodebaseID, domain.CodeFieldFilePath, domain.CodeFieldExtension} {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = keyword.Name
		f.Store = true
		docMapping.AddFieldMappingsAt(name, f)
	}

	for _, name := range []string{domain.CodeFieldStartLine, domain.CodeFieldEndLine} {
		f := bleve.NewNumericFieldMapping()
		f.Index = false
		f.Store = true
		docMapping.AddFieldMappingsAt(name, f)
	}

	// ID - stored but not indexed (we use the document ID)
	idField := bleve.NewTextFieldMapping()
	idField.Index = false
	idField.Store = true
	docMapping.AddFieldMappingsAt(domain.CodeFieldID, idField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name

	return indexMapping
}

// CreateIndex creates an empty index for codebaseID, discarding any previous one.
func (b *BleveIndex) CreateIndex(ctx context.Context, codebaseID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.DeleteIndex(ctx, codebaseID); err != nil {
		return err
	}
	if err := os.MkdirAll(b.baseDir, 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}
	idx, err := bleve.New(b.indexPath(codebaseID), CreateIndexMapping())
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	b.handles.Put(codebaseID, idx)
	return nil
}

// AddChunks indexes chunks in batches bounded by MaxBatchSize and MaxBatchBytes.
func (b *BleveIndex) AddChunks(ctx context.Context, codebaseID string, chunks []domain.CodeChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	idx, err := b.load(codebaseID)
	if err != nil {
		return err
	}
	if idx == nil {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, codebaseID)
	}

	batch := idx.NewBatch()
	batchBytes := 0
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc := toDocument(codebaseID, chunk)
		if err := batch.Index(doc.ID, doc); err != nil {
			return fmt.Errorf("failed to index %s: %w", chunk.FilePath, err)
		}
		batchBytes += len(chunk.Content)

		if batch.Size() >= MaxBatchSize || batchBytes >= MaxBatchBytes {
			if err := idx.Batch(batch); err != nil {
				return fmt.Errorf("batch index failed: %w", err)
			}
			batch = idx.NewBatch()
			batchBytes = 0
		}
	}

	if batch.Size() > 0 {
		if err := idx.Batch(batch); err != nil {
			return fmt.Errorf("final batch index failed: %w", err)
		}
	}
	return nil
}

func toDocument(codebaseID string, chunk domain.CodeChunk) domain.CodeDocument {
	ext := strings.TrimPrefix(path.Ext(chunk.FilePath), ".")
	return domain.CodeDocument{
		ID:         chunk.FilePath + "#" + strconv.Itoa(chunk.StartLine),
		CodebaseID: codebaseID,
		FilePath:   chunk.FilePath,
		Extension:  ext,
		Content:    chunk.Content,
		StartLine:  chunk.StartLine,
		EndLine:    chunk.EndLine,
		Symbols:    ExtractSymbols(ext, chunk.Content),
	}
}

// Search runs a content query with symbol matches boosted.
func (b *BleveIndex) Search(ctx context.Context, codebaseID, queryText string, topK int) ([]domain.SearchResult, error) {
	if strings.TrimSpace(queryText) == "" || topK <= 0 {
		return []domain.SearchResult{}, nil
	}
	idx, err := b.load(codebaseID)
	if err != nil {
		return nil, err
	}
	if idx == nil {
		return []domain.SearchResult{}, nil
	}

	req := bleve.NewSearchRequest(buildQuery(queryText))
	req.Size = topK
	req.Fields = []string{
		domain.CodeFieldFilePath, domain.CodeFieldContent,
		domain.CodeFieldStartLine, domain.CodeFieldEndLine,
	}

	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]domain.SearchResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		chunk := domain.CodeChunk{
			FilePath:  stringField(hit.Fields, domain.CodeFieldFilePath),
			Content:   stringField(hit.Fields, domain.CodeFieldContent),
			StartLine: intField(hit.Fields, domain.CodeFieldStartLine),
			EndLine:   intField(hit.Fields, domain.CodeFieldEndLine),
		}
		results = append(results, domain.SearchResult{Chunk: chunk, Score: hit.Score})
	}
	return results, nil
}

func buildQuery(text string) query.Query {
	contentQuery := bleve.NewMatchQuery(text)
	contentQuery.SetField(domain.CodeFieldContent)

	symbolsQuery := bleve.NewMatchQuery(text)
	symbolsQuery.SetField(domain.CodeFieldSymbols)
	symbolsQuery.SetBoost(symbolBoost)

	return bleve.NewDisjunctionQuery(contentQuery, symbolsQuery)
}

func stringField(fields map[string]any, name string) string {
	s, _ := fields[name].(string)
	return s
}

// Numeric fields come back from bleve as float64.
func intField(fields map[string]any, name string) int {
	f, _ := fields[name].(float64)
	return int(f)
}

// load returns the cached handle or opens the on-disk index. Concurrent loads of
// the same codebase share one open. A nil index means none exists on disk.
func (b *BleveIndex) load(codebaseID string) (bleve.Index, error) {
	if idx, ok := b.handles.Get(codebaseID); ok {
		return idx, nil
	}
	v, err, _ := b.loads.Do(codebaseID, func() (any, error) {
		if idx, ok := b.handles.Get(codebaseID); ok {
			return idx, nil
		}
		p := b.indexPath(codebaseID)
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		idx, err := bleve.Open(p)
		if err != nil {
			return nil, fmt.Errorf("failed to open index: %w", err)
		}
		b.logger.Debug("Loaded index from disk", "codebase_id", codebaseID)
		b.handles.Put(codebaseID, idx)
		return idx, nil
	})
	if err != nil || v == nil {
		return nil, err
	}
	return v.(bleve.Index), nil
}

// DeleteIndex closes and removes the index from disk.
func (b *BleveIndex) DeleteIndex(_ context.Context, codebaseID string) error {
	if err := b.handles.Remove(codebaseID); err != nil {
		b.logger.Warn("Failed to close index", "codebase_id", codebaseID, "error", err)
	}
	if err := os.RemoveAll(b.indexPath(codebaseID)); err != nil {
		return fmt.Errorf("failed to delete index: %w", err)
	}
	return nil
}

// Close closes every open index.
func (b *BleveIndex) Close() error {
	return b.handles.CloseAll()
}
