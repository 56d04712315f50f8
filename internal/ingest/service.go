// Package ingest drives a repository from a URL to a queryable index.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sha1n/coderag/internal/domain"
	"github.com/sha1n/coderag/internal/index"
	"github.com/sha1n/coderag/internal/keylock"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxParallel is the default number of concurrent ingestions.
const DefaultMaxParallel = 4

// Source clones repositories and reads their files. *source.Client implements it.
type Source interface {
	Clone(ctx context.Context, locator domain.RepositoryLocator, target string) (string, error)
	Revision(ctx context.Context, root string) (string, error)
	ListFiles(ctx context.Context, root string, extensions []string) ([]string, error)
	ReadFile(ctx context.Context, root, relPath string) (string, error)
}

// ResponseInvalidator drops cached answers of a codebase. *cache.ResponseCache implements it.
type ResponseInvalidator interface {
	Invalidate(ctx context.Context, codebaseID string) (int, error)
}

// Settings configure the service.
type Settings struct {
	// ReposDir holds one clone per codebase id.
	ReposDir    string
	Extensions  []string
	MaxParallel int
}

// Outcome reports the result of an ingestion. Failures are reported here,
// not as errors.
type Outcome struct {
	CodebaseID   string
	Repository   string
	Status       domain.IndexingStatus
	FileCount    int
	ErrorMessage string
	Revision     string
	CreatedAt    time.Time
	CompletedAt  *time.Time
	// Reused is true when an already indexed codebase was returned.
	Reused bool
}

func newOutcome(c *domain.Codebase, reused bool) *Outcome {
	return &Outcome{
		CodebaseID:   c.ID,
		Repository:   c.Locator.CloneURL(),
		Status:       c.Status,
		FileCount:    c.FileCount,
		ErrorMessage: c.ErrorMessage,
		Revision:     c.Revision,
		CreatedAt:    c.CreatedAt,
		CompletedAt:  c.CompletedAt,
		Reused:       reused,
	}
}

// Service is the ingestion orchestrator.
type Service struct {
	codebases domain.CodebaseRepository
	sessions  domain.SessionRepository
	index     index.Index
	source    Source
	responses ResponseInvalidator
	settings  Settings
	locks     *keylock.Locker
	sem       *semaphore.Weighted
	logger    *slog.Logger
}

// NewService creates an ingestion service. responses may be nil.
func NewService(
	codebases domain.CodebaseRepository,
	sessions domain.SessionRepository,
	idx index.Index,
	src Source,
	responses ResponseInvalidator,
	settings Settings,
	logger *slog.Logger,
) *Service {
	if settings.MaxParallel <= 0 {
		settings.MaxParallel = DefaultMaxParallel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		codebases: codebases,
		sessions:  sessions,
		index:     idx,
		source:    src,
		responses: responses,
		settings:  settings,
		locks:     keylock.New(),
		sem:       semaphore.NewWeighted(int64(settings.MaxParallel)),
		logger:    logger,
	}
}

// Ingest clones and indexes the repository at rawURL, or returns the ready
// codebase already indexed for it. After validation, clone and index failures
// are recorded on the codebase and reported in the outcome with a nil error.
func (s *Service) Ingest(ctx context.Context, rawURL string) (*Outcome, error) {
	locator, err := domain.ParseRepositoryLocator(rawURL)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, locator.CloneURL())
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := s.codebases.GetByLocator(ctx, locator)
	switch {
	case err == nil && existing.IsReady():
		s.logger.Info("Repository already indexed", "repository", locator.DisplayName(), "codebase_id", existing.ID)
		return newOutcome(existing, true), nil
	case err != nil && !errors.Is(err, domain.ErrCodebaseNotFound):
		return nil, err
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	id := uuid.NewString()
	codebase := domain.NewCodebase(id, locator, filepath.Join(s.settings.ReposDir, id))
	if err := s.codebases.Save(ctx, codebase); err != nil {
		return nil, err
	}
	if err := codebase.StartIndexing(); err != nil {
		return nil, err
	}
	if err := s.codebases.Save(ctx, codebase); err != nil {
		return nil, err
	}

	s.logger.Info("Ingesting repository", "repository", locator.DisplayName(), "codebase_id", id)
	start := time.Now()

	fileCount, runErr := s.run(ctx, codebase)

	// The outcome is recorded even when the caller went away.
	saveCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		s.logger.Error("Ingestion failed", "codebase_id", id, "error", runErr)
		if err := codebase.Fail(runErr.Error()); err != nil {
			return nil, err
		}
		if err := s.codebases.Save(saveCtx, codebase); err != nil {
			return nil, err
		}
		return newOutcome(codebase, false), nil
	}

	if err := codebase.Complete(fileCount); err != nil {
		return nil, err
	}
	if err := s.codebases.Save(saveCtx, codebase); err != nil {
		return nil, err
	}
	s.logger.Info("Ingestion complete", "codebase_id", id, "file_count", fileCount, "duration", time.Since(start))
	return newOutcome(codebase, false), nil
}

// run clones, reads and indexes. It returns the number of indexed files.
func (s *Service) run(ctx context.Context, codebase *domain.Codebase) (int, error) {
	root, err := s.source.Clone(ctx, codebase.Locator, codebase.LocalPath)
	if err != nil {
		return 0, fmt.Errorf("clone failed: %w", err)
	}

	if rev, err := s.source.Revision(ctx, root); err != nil {
		s.logger.Warn("Failed to resolve revision", "codebase_id", codebase.ID, "error", err)
	} else {
		codebase.Revision = rev
	}

	files, err := s.source.ListFiles(ctx, root, s.settings.Extensions)
	if err != nil {
		return 0, fmt.Errorf("list files failed: %w", err)
	}

	chunks := make([]domain.CodeChunk, 0, len(files))
	for _, f := range files {
		content, err := s.source.ReadFile(ctx, root, f)
		if err != nil {
			return 0, fmt.Errorf("read %s failed: %w", f, err)
		}
		chunks = append(chunks, domain.NewWholeFileChunk(f, content))
	}

	if err := s.index.CreateIndex(ctx, codebase.ID); err != nil {
		return 0, fmt.Errorf("create index failed: %w", err)
	}
	if err := s.index.AddChunks(ctx, codebase.ID, chunks); err != nil {
		return 0, fmt.Errorf("index failed: %w", err)
	}
	return len(files), nil
}

// IngestAll ingests every URL, at most MaxParallel at a time. URLs are
// independent: an invalid one does not stop the others. It returns the joined
// validation errors and a count of failed ingestions, if any.
func (s *Service) IngestAll(ctx context.Context, urls []string) error {
	var g errgroup.Group
	errs := make([]error, len(urls))
	failed := make([]bool, len(urls))

	for i, u := range urls {
		g.Go(func() error {
			out, err := s.Ingest(ctx, u)
			if err != nil {
				errs[i] = fmt.Errorf("ingest %s: %w", u, err)
				return nil
			}
			failed[i] = out.Status == domain.StatusFailed
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, f := range failed {
		if f {
			n++
		}
	}
	if n > 0 {
		errs = append(errs, fmt.Errorf("%d repository ingestion(s) failed", n))
	}
	return errors.Join(errs...)
}

// Status returns the current state of a codebase.
func (s *Service) Status(ctx context.Context, codebaseID string) (*domain.Codebase, error) {
	return s.codebases.GetByID(ctx, codebaseID)
}

// List returns every codebase, newest first.
func (s *Service) List(ctx context.Context) ([]*domain.Codebase, error) {
	return s.codebases.ListAll(ctx)
}

// Delete removes a codebase with its index, clone, sessions and cached answers.
func (s *Service) Delete(ctx context.Context, codebaseID string) error {
	codebase, err := s.codebases.GetByID(ctx, codebaseID)
	if err != nil {
		return err
	}

	unlock, err := s.locks.Lock(ctx, codebase.Locator.CloneURL())
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.index.DeleteIndex(ctx, codebaseID); err != nil {
		return fmt.Errorf("failed to delete index: %w", err)
	}
	if codebase.LocalPath != "" {
		if err := os.RemoveAll(codebase.LocalPath); err != nil {
			return fmt.Errorf("failed to remove clone: %w", err)
		}
	}

	sessions, err := s.sessions.ListByCodebase(ctx, codebaseID)
	if err != nil {
		return err
	}
	for _, session := range sessions {
		if err := s.sessions.Delete(ctx, session.ID()); err != nil {
			return err
		}
	}

	if s.responses != nil {
		if _, err := s.responses.Invalidate(ctx, codebaseID); err != nil {
			s.logger.Warn("Failed to invalidate cached responses", "codebase_id", codebaseID, "error", err)
		}
	}

	if err := s.codebases.Delete(ctx, codebaseID); err != nil {
		return err
	}
	s.logger.Info("Codebase deleted", "codebase_id", codebaseID, "sessions", len(sessions))
	return nil
}
