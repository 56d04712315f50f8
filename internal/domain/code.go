package domain

// CodeDocument is the representation of a CodeChunk stored in the search index.
type CodeDocument struct {
	// ID is unique within a codebase index.
	// Format: "<file path>#<start line>"
	ID string `json:"id"`

	// CodebaseID is the owning codebase.
	CodebaseID string `json:"codebase_id"`

	// FilePath is relative to the repository root, slash separated.
	FilePath string `json:"file_path"`

	// Extension is the file extension without the leading dot.
	Extension string `json:"extension"`

	Content   string `json:"content"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`

	// Symbols are declaration names found in the content, boosted at query time.
	Symbols []string `json:"symbols,omitempty"`
}

// Bleve field name constants for consistent field references in queries and mappings.
const (
	CodeFieldID         = "id"
	CodeFieldCodebaseID = "codebase_id"
	CodeFieldFilePath   = "file_path"
	CodeFieldExtension  = "extension"
	CodeFieldContent    = "content"
	CodeFieldStartLine  = "start_line"
	CodeFieldEndLine    = "end_line"
	CodeFieldSymbols    = "symbols"
)
