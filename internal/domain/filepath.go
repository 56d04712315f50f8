package domain

import (
	"fmt"
	"path"
	"strings"
)

// CleanRelativePath validates a repository-relative path and returns it in
// slash-separated, cleaned form. Absolute paths and paths escaping the root are rejected.
func CleanRelativePath(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidFilePath)
	}
	if strings.HasPrefix(p, "/") || strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilePath, p)
	}
	if len(p) >= 2 && p[1] == ':' {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilePath, p)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilePath, p)
	}
	return clean, nil
}
