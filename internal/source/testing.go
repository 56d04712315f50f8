package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// MockExecutor records commands and returns configured responses.
type MockExecutor struct {
	mu       sync.Mutex
	commands []MockCommand
	calls    []ExecutorCall
}

// MockCommand defines a mock response for a command prefix.
type MockCommand struct {
	NamePrefix string
	Output     []byte
	Err        error
}

// ExecutorCall records a command invocation.
type ExecutorCall struct {
	Dir  string
	Name string
	Args []string
}

// NewMockExecutor creates a new mock executor.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{}
}

// AddResponse adds a one-shot response for commands matching the given prefix.
func (m *MockExecutor) AddResponse(namePrefix string, output []byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, MockCommand{NamePrefix: namePrefix, Output: output, Err: err})
}

// Run returns the first configured response matching the command line.
func (m *MockExecutor) Run(_ context.Context, dir string, name string, args ...string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, ExecutorCall{Dir: dir, Name: name, Args: args})

	fullCmd := name + " " + strings.Join(args, " ")
	for i, cmd := range m.commands {
		if strings.HasPrefix(fullCmd, cmd.NamePrefix) {
			m.commands = append(m.commands[:i], m.commands[i+1:]...)
			return cmd.Output, cmd.Err
		}
	}
	return nil, errors.New("no mock response configured for: " + fullCmd)
}

// GetCalls returns all recorded command calls.
func (m *MockExecutor) GetCalls() []ExecutorCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ExecutorCall(nil), m.calls...)
}

// FakeCloner "clones" by writing a fixed file tree. Used by tests in other packages.
type FakeCloner struct {
	mu       sync.Mutex
	Files    map[string]string
	Revision string
	Err      error
	clones   []string
}

// Clone writes Files under dest, or returns Err.
func (f *FakeCloner) Clone(_ context.Context, url, dest string) error {
	f.mu.Lock()
	f.clones = append(f.clones, url)
	f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	return writeTree(dest, f.Files)
}

// HeadRevision returns Revision.
func (f *FakeCloner) HeadRevision(context.Context, string) (string, error) {
	return f.Revision, nil
}

// Clones returns the URLs cloned so far.
func (f *FakeCloner) Clones() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.clones...)
}

// writeTree materializes a map of slash-separated relative paths to contents.
func writeTree(root string, files map[string]string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}
