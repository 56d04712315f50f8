package domain

import (
	"fmt"
	"time"
)

// IndexingStatus is the lifecycle state of a Codebase.
type IndexingStatus string

const (
	StatusPending    IndexingStatus = "pending"
	StatusInProgress IndexingStatus = "in_progress"
	StatusCompleted  IndexingStatus = "completed"
	StatusFailed     IndexingStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s IndexingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Codebase is an ingested repository and its indexing lifecycle.
type Codebase struct {
	ID           string
	Locator      RepositoryLocator
	LocalPath    string
	Status       IndexingStatus
	FileCount    int
	ErrorMessage string
	// Revision is the commit the index was built from, when known.
	Revision    string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// NewCodebase returns a PENDING codebase.
func NewCodebase(id string, locator RepositoryLocator, localPath string) *Codebase {
	return &Codebase{
		ID:        id,
		Locator:   locator,
		LocalPath: localPath,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// IsReady reports whether the codebase can be queried.
func (c *Codebase) IsReady() bool {
	return c.Status == StatusCompleted
}

// IndexVersion identifies the generation of the codebase's index.
// It changes whenever the codebase is indexed again.
func (c *Codebase) IndexVersion() string {
	if c.CompletedAt == nil {
		return "0"
	}
	return fmt.Sprintf("%d", c.CompletedAt.UnixNano())
}

// StartIndexing moves a PENDING codebase to IN_PROGRESS.
func (c *Codebase) StartIndexing() error {
	if c.Status != StatusPending {
		return c.transitionError(StatusInProgress)
	}
	c.Status = StatusInProgress
	return nil
}

// Complete moves an IN_PROGRESS codebase to COMPLETED.
func (c *Codebase) Complete(fileCount int) error {
	if c.Status != StatusInProgress {
		return c.transitionError(StatusCompleted)
	}
	now := time.Now().UTC()
	c.Status = StatusCompleted
	c.FileCount = fileCount
	c.ErrorMessage = ""
	c.CompletedAt = &now
	return nil
}

// Fail moves a PENDING or IN_PROGRESS codebase to FAILED.
func (c *Codebase) Fail(reason string) error {
	if c.Status.IsTerminal() {
		return c.transitionError(StatusFailed)
	}
	now := time.Now().UTC()
	c.Status = StatusFailed
	c.ErrorMessage = reason
	c.CompletedAt = &now
	return nil
}

func (c *Codebase) transitionError(to IndexingStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
}
