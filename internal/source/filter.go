package source

import (
	"path"
	"strings"

	"github.com/gobwas/glob"
)

// SupportedExtensions are indexed when no explicit extension list is configured.
var SupportedExtensions = []string{
	".py", ".js", ".ts", ".tsx", ".jsx", ".md", ".json", ".yaml", ".yml",
	".html", ".css", ".scss", ".java", ".go", ".rs", ".rb", ".sh", ".bash",
	".zsh", ".sql", ".graphql", ".dockerfile", ".toml", ".ini", ".cfg",
}

// IgnoredDirs are never descended into, at any depth.
var IgnoredDirs = []string{
	".git", "node_modules", "__pycache__", ".venv", "venv", "dist", "build",
	".next", ".nuxt", "coverage", ".pytest_cache", ".mypy_cache", ".tox",
	"vendor", "target", ".gradle", ".idea",
}

// DefaultExcludePatterns match generated and dependency files that survive
// the extension filter but should not be searched.
var DefaultExcludePatterns = []string{
	"*.min.js", "*.min.css", "*.map", "*.pb.go",
	"package-lock.json", "yarn.lock", "pnpm-lock.yaml",
	"go.sum", "poetry.lock", "Cargo.lock", "composer.lock",
}

// FileFilter decides which repository files are eligible for indexing.
type FileFilter struct {
	ignoredDirs map[string]struct{}
	// pathGlobs apply to the full relative path, nameGlobs to the base name.
	pathGlobs   []glob.Glob
	nameGlobs   []glob.Glob
	maxFileSize int64
}

// NewFileFilter creates a FileFilter with the default directories and patterns.
func NewFileFilter(maxFileSize int64) *FileFilter {
	return NewFileFilterWithPatterns(DefaultExcludePatterns, maxFileSize)
}

// NewFileFilterWithPatterns creates a FileFilter with custom exclusion patterns.
// Patterns containing "/" match the whole relative path ("**" crosses
// directories); other patterns match the base name. Matching ignores case.
// Invalid patterns are skipped.
func NewFileFilterWithPatterns(patterns []string, maxFileSize int64) *FileFilter {
	f := &FileFilter{
		ignoredDirs: make(map[string]struct{}, len(IgnoredDirs)),
		maxFileSize: maxFileSize,
	}
	for _, d := range IgnoredDirs {
		f.ignoredDirs[d] = struct{}{}
	}
	for _, p := range patterns {
		p = strings.ToLower(p)
		if strings.Contains(p, "/") {
			if g, err := glob.Compile("{"+p+",**/"+p+"}", '/'); err == nil {
				f.pathGlobs = append(f.pathGlobs, g)
			}
			continue
		}
		if g, err := glob.Compile(p); err == nil {
			f.nameGlobs = append(f.nameGlobs, g)
		}
	}
	return f
}

// IsIgnoredDir reports whether a directory with this base name is skipped.
func (f *FileFilter) IsIgnoredDir(name string) bool {
	_, ok := f.ignoredDirs[name]
	return ok
}

// ShouldExclude returns true if the slash-separated relative path lies in an
// ignored directory or matches an exclusion pattern.
func (f *FileFilter) ShouldExclude(relPath string) bool {
	relPath = strings.ToLower(relPath)
	dirs := strings.Split(path.Dir(relPath), "/")
	for _, d := range dirs {
		if f.IsIgnoredDir(d) {
			return true
		}
	}
	base := path.Base(relPath)
	for _, g := range f.nameGlobs {
		if g.Match(base) {
			return true
		}
	}
	for _, g := range f.pathGlobs {
		if g.Match(relPath) {
			return true
		}
	}
	return false
}

// MaxFileSize returns the maximum file size for indexing.
func (f *FileFilter) MaxFileSize() int64 {
	return f.maxFileSize
}

// IsBinary checks if the content appears to be binary by looking for null bytes
// in the first 512 bytes. This is a heuristic used by git and other tools.
func IsBinary(content []byte) bool {
	checkLen := min(len(content), 512)

	for i := range checkLen {
		if content[i] == 0 {
			return true
		}
	}
	return false
}

// normalizeExtensions lower-cases and dot-prefixes extensions.
// An empty list falls back to SupportedExtensions.
func normalizeExtensions(exts []string) map[string]struct{} {
	if len(exts) == 0 {
		exts = SupportedExtensions
	}
	set := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = struct{}{}
	}
	return set
}

// fileExtension returns the lower-cased extension, treating a bare
// "Dockerfile" as ".dockerfile".
func fileExtension(name string) string {
	base := strings.ToLower(path.Base(name))
	if base == "dockerfile" {
		return ".dockerfile"
	}
	return path.Ext(base)
}
