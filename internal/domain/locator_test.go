package domain

import (
	"errors"
	"testing"
)

func TestParseRepositoryLocator(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  RepositoryLocator
	}{
		{"https", "https://github.com/acme/widgets", RepositoryLocator{"github.com", "acme", "widgets"}},
		{"https with .git", "https://github.com/acme/widgets.git", RepositoryLocator{"github.com", "acme", "widgets"}},
		{"trailing slash", "https://github.com/acme/widgets/", RepositoryLocator{"github.com", "acme", "widgets"}},
		{"upper-case host", "https://GitHub.com/acme/widgets", RepositoryLocator{"github.com", "acme", "widgets"}},
		{"http", "http://gitlab.com/acme/widgets", RepositoryLocator{"gitlab.com", "acme", "widgets"}},
		{"scp", "git@github.com:acme/widgets.git", RepositoryLocator{"github.com", "acme", "widgets"}},
		{"ssh", "ssh://git@bitbucket.org/acme/widgets.git", RepositoryLocator{"bitbucket.org", "acme", "widgets"}},
		{"dots in name", "https://github.com/acme/widgets.js", RepositoryLocator{"github.com", "acme", "widgets.js"}},
		{"surrounding whitespace", "  https://github.com/acme/widgets  ", RepositoryLocator{"github.com", "acme", "widgets"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRepositoryLocator(tt.input)
			if err != nil {
				t.Fatalf("ParseRepositoryLocator(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseRepositoryLocator(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseRepositoryLocator_Invalid(t *testing.T) {
	inputs := []string{
		"",
		"not-a-url",
		"https://example.com/acme/widgets",
		"https://github.com/acme",
		"https://github.com/acme/widgets/tree/main",
		"ftp://github.com/acme/widgets",
		"https://github.com/../widgets",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			_, err := ParseRepositoryLocator(in)
			if !errors.Is(err, ErrInvalidLocator) {
				t.Errorf("ParseRepositoryLocator(%q) error = %v, want ErrInvalidLocator", in, err)
			}
		})
	}
}

func TestRepositoryLocator_Derived(t *testing.T) {
	l, err := ParseRepositoryLocator("git@github.com:acme/widgets")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := l.CloneURL(); got != "https://github.com/acme/widgets.git" {
		t.Errorf("CloneURL() = %q", got)
	}
	if got := l.DisplayName(); got != "github.com/acme/widgets" {
		t.Errorf("DisplayName() = %q", got)
	}
	if l.String() != l.CloneURL() {
		t.Errorf("String() = %q, want clone url", l.String())
	}
	if l.IsZero() {
		t.Error("IsZero() = true for parsed locator")
	}
}

func TestRepositoryLocator_EqualityAcrossSpellings(t *testing.T) {
	a, _ := ParseRepositoryLocator("https://github.com/acme/widgets")
	b, _ := ParseRepositoryLocator("git@github.com:acme/widgets.git")
	if a != b {
		t.Errorf("expected %+v == %+v", a, b)
	}
}
