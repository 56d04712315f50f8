// Package source clones hosted repositories and reads their files.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sha1n/coderag/internal/domain"
)

var (
	// ErrFileNotFound is returned by ReadFile for missing files.
	ErrFileNotFound = errors.New("file not found")
	// ErrBinaryFile is returned by ReadFile for non-text content.
	ErrBinaryFile = errors.New("binary file")
	// ErrFileTooLarge is returned by ReadFile for files above the size limit.
	ErrFileTooLarge = errors.New("file too large")
)

// Client is the source-control collaborator used by ingestion and the code tools.
type Client struct {
	cloner       Cloner
	filter       *FileFilter
	logger       *slog.Logger
	cloneTimeout time.Duration
}

// NewClient creates a client.
func NewClient(cloner Cloner, filter *FileFilter, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cloner: cloner, filter: filter, logger: logger}
}

// WithCloneTimeout bounds each Clone call. Zero means no limit.
func (c *Client) WithCloneTimeout(d time.Duration) *Client {
	c.cloneTimeout = d
	return c
}

// Clone clones the repository into target, replacing anything already there.
func (c *Client) Clone(ctx context.Context, locator domain.RepositoryLocator, target string) (string, error) {
	if err := os.RemoveAll(target); err != nil {
		return "", fmt.Errorf("failed to clear %s: %w", target, err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("failed to create parent of %s: %w", target, err)
	}
	if c.cloneTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cloneTimeout)
		defer cancel()
	}
	c.logger.InfoContext(ctx, "Cloning repository", "repository", locator.DisplayName(), "target", target)
	if err := c.cloner.Clone(ctx, locator.CloneURL(), target); err != nil {
		_ = os.RemoveAll(target)
		return "", err
	}
	return target, nil
}

// Revision returns the checked out commit of a clone.
func (c *Client) Revision(ctx context.Context, root string) (string, error) {
	return c.cloner.HeadRevision(ctx, root)
}

// ListFiles walks root and returns the slash-separated relative paths of text
// files whose extension is in extensions, sorted. Ignored directories,
// excluded patterns, oversized and binary files are skipped.
func (c *Client) ListFiles(ctx context.Context, root string, extensions []string) ([]string, error) {
	allowed := normalizeExtensions(extensions)
	var files []string

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if d.IsDir() {
			if p != root && c.filter.IsIgnoredDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if _, ok := allowed[fileExtension(rel)]; !ok {
			return nil
		}
		if c.filter.ShouldExclude(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > c.filter.MaxFileSize() {
			return nil
		}
		if binary, err := sniffBinary(p); err != nil || binary {
			return nil
		}

		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files in %s: %w", root, err)
	}

	sort.Strings(files)
	return files, nil
}

func sniffBinary(p string) (bool, error) {
	f, err := os.Open(p)
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false, err
	}
	return IsBinary(buf[:n]), nil
}

// ReadFile returns the text content of a file relative to root.
func (c *Client) ReadFile(_ context.Context, root, relPath string) (string, error) {
	clean, err := domain.CleanRelativePath(relPath)
	if err != nil {
		return "", err
	}
	full, err := resolveWithin(root, clean)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, clean)
	}
	if err != nil {
		return "", fmt.Errorf("failed to access %s: %w", clean, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", domain.ErrInvalidFilePath, clean)
	}
	if info.Size() > c.filter.MaxFileSize() {
		return "", fmt.Errorf("%w: %s (%d bytes)", ErrFileTooLarge, clean, info.Size())
	}

	content, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", clean, err)
	}
	if IsBinary(content) {
		return "", fmt.Errorf("%w: %s", ErrBinaryFile, clean)
	}
	return string(content), nil
}

// resolveWithin joins rel to root and rejects results that escape root,
// including through symlinks.
func resolveWithin(root, rel string) (string, error) {
	full := filepath.Join(root, filepath.FromSlash(rel))

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve repository root: %w", err)
	}
	realFull, err := filepath.EvalSymlinks(full)
	if errors.Is(err, fs.ErrNotExist) {
		return full, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", rel, err)
	}
	if realFull != realRoot && !strings.HasPrefix(realFull, realRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s escapes the repository", domain.ErrInvalidFilePath, rel)
	}
	return full, nil
}
