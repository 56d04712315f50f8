package index

import (
	"regexp"
	"strings"
)

// Declaration patterns per language. The first capture group is the symbol name.
var languagePatterns = map[string][]*regexp.Regexp{
	"go": {
		regexp.MustCompile(`func\s+(?:\([^)]*\)\s*)?(\w+)`),
		regexp.MustCompile(`type\s+(\w+)\s+(?:struct|interface)`),
		regexp.MustCompile(`const\s+(\w+)`),
		regexp.MustCompile(`var\s+(\w+)`),
	},
	"python": {
		regexp.MustCompile(`(?m)^\s*(?:async\s+)?def\s+(\w+)`),
		regexp.MustCompile(`(?m)^\s*class\s+(\w+)`),
	},
	"java": {
		regexp.MustCompile(`(?:class|interface|enum|record)\s+(\w+)`),
		regexp.MustCompile(`(?m)^\s*(?:public|private|protected|static|final|\s)*[\w<>\[\]]+\s+(\w+)\s*\([^)]*\)\s*(?:throws [\w., ]+)?\{`),
	},
	"javascript": {
		regexp.MustCompile(`function\s+(\w+)`),
		regexp.MustCompile(`class\s+(\w+)`),
		regexp.MustCompile(`(?:const|let|var)\s+(\w+)\s*=`),
	},
	"typescript": {
		regexp.MustCompile(`function\s+(\w+)`),
		regexp.MustCompile(`class\s+(\w+)`),
		regexp.MustCompile(`interface\s+(\w+)`),
		regexp.MustCompile(`type\s+(\w+)\s*=`),
		regexp.MustCompile(`(?:const|let)\s+(\w+)\s*=`),
	},
	"rust": {
		regexp.MustCompile(`fn\s+(\w+)`),
		regexp.MustCompile(`(?:struct|enum|trait|mod|type)\s+(\w+)`),
	},
	"c": {
		regexp.MustCompile(`(?m)^\s*\w+\s+\**(\w+)\s*\(.*\)\s*\{`),
		regexp.MustCompile(`(?:struct|enum)\s+(\w+)`),
		regexp.MustCompile(`#define\s+(\w+)`),
	},
	"cpp": {
		regexp.MustCompile(`(?:class|struct|enum)\s+(\w+)`),
		regexp.MustCompile(`(?m)^\s*\w+\s+\**(\w+)\s*\(.*\)\s*\{`),
	},
	"ruby": {
		regexp.MustCompile(`(?m)^\s*def\s+(?:self\.)?(\w+)`),
		regexp.MustCompile(`(?m)^\s*(?:class|module)\s+(\w+)`),
	},
}

var extensionLanguages = map[string]string{
	"go": "go", "golang": "go",
	"py": "python", "python": "python",
	"java": "java", "kt": "java", "scala": "java",
	"js": "javascript", "jsx": "javascript", "mjs": "javascript", "javascript": "javascript",
	"ts": "typescript", "tsx": "typescript", "typescript": "typescript",
	"rs": "rust", "rust": "rust",
	"c": "c", "h": "c",
	"cpp": "cpp", "cc": "cpp", "cxx": "cpp", "hpp": "cpp",
	"rb": "ruby",
}

// ExtractSymbols returns the unique declaration names in content, or nil when
// the extension has no known patterns.
func ExtractSymbols(ext, content string) []string {
	lang, ok := extensionLanguages[strings.ToLower(strings.TrimPrefix(ext, "."))]
	if !ok {
		return nil
	}

	seen := make(map[string]struct{})
	var symbols []string
	for _, re := range languagePatterns[lang] {
		for _, m := range re.FindAllStringSubmatch(content, -1) {
			if len(m) < 2 {
				continue
			}
			s := strings.TrimSpace(m[1])
			if s == "" || len(s) >= 100 {
				continue
			}
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			symbols = append(symbols, s)
		}
	}
	return symbols
}
