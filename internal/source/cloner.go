package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
)

// Cloner fetches a repository into a local directory.
type Cloner interface {
	// Clone performs a shallow, single-branch clone of url into dest.
	Clone(ctx context.Context, url, dest string) error
	// HeadRevision returns the commit checked out in dir.
	HeadRevision(ctx context.Context, dir string) (string, error)
}

// CLICloner shells out to the git binary.
type CLICloner struct {
	executor CommandExecutor
}

// NewCLICloner creates a CLICloner with the default command executor.
func NewCLICloner() *CLICloner {
	return &CLICloner{executor: &DefaultExecutor{}}
}

// NewCLIClonerWithExecutor creates a CLICloner with a custom executor (for testing).
func NewCLIClonerWithExecutor(executor CommandExecutor) *CLICloner {
	return &CLICloner{executor: executor}
}

// Clone uses --depth 1 and --single-branch.
func (g *CLICloner) Clone(ctx context.Context, url, dest string) error {
	_, err := g.executor.Run(ctx, "", "git", "clone",
		"--depth", "1",
		"--single-branch",
		url,
		dest,
	)
	if err != nil {
		return fmt.Errorf("git clone failed: %w", err)
	}
	return nil
}

func (g *CLICloner) HeadRevision(ctx context.Context, dir string) (string, error) {
	output, err := g.executor.Run(ctx, dir, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// GoGitCloner clones in-process, without a git binary on the host.
type GoGitCloner struct{}

// NewGoGitCloner creates a GoGitCloner.
func NewGoGitCloner() *GoGitCloner {
	return &GoGitCloner{}
}

func (g *GoGitCloner) Clone(ctx context.Context, url, dest string) error {
	_, err := git.PlainCloneContext(ctx, dest, false, &git.CloneOptions{
		URL:          url,
		Depth:        1,
		SingleBranch: true,
		Tags:         git.NoTags,
	})
	if err != nil {
		return fmt.Errorf("clone failed: %w", err)
	}
	return nil
}

func (g *GoGitCloner) HeadRevision(_ context.Context, dir string) (string, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return "", fmt.Errorf("failed to open repository: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// NewCloner returns the cloner for a backend name: "cli" or "go-git".
func NewCloner(backend string) (Cloner, error) {
	switch backend {
	case "cli":
		return NewCLICloner(), nil
	case "go-git", "":
		return NewGoGitCloner(), nil
	default:
		return nil, fmt.Errorf("unknown git backend: %s", backend)
	}
}
