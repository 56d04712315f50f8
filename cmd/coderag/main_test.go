package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/sha1n/coderag/internal/app"
	"github.com/sha1n/coderag/internal/config"
	"github.com/spf13/pflag"
)

func execute(args ...string) error {
	return Execute(context.Background(), app.DefaultRunParams(), "1.0.0", "abc123", "coderag", args)
}

func TestExecute_Version(t *testing.T) {
	if err := execute("--version"); err != nil {
		t.Errorf("Expected no error for --version, got: %v", err)
	}
}

func TestExecute_Help(t *testing.T) {
	for _, args := range [][]string{{"--help"}, {"ask", "--help"}, {"ingest", "--help"}} {
		if err := execute(args...); err != nil {
			t.Errorf("Expected no error for %v, got: %v", args, err)
		}
	}
}

func TestExecute_InvalidFlag(t *testing.T) {
	if err := execute("--invalid-flag"); err == nil {
		t.Error("Expected error for invalid flag")
	}
}

func TestExecute_InvalidTransport(t *testing.T) {
	err := execute("--transport", "invalid")
	if err == nil {
		t.Fatal("Expected error for invalid transport")
	}
	if !strings.Contains(err.Error(), "transport") {
		t.Errorf("Expected error about transport, got: %v", err)
	}
}

func TestExecute_SubcommandArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"ingest without url", []string{"ingest"}},
		{"ask without question", []string{"ask", "--codebase", "x"}},
		{"ask without codebase", []string{"ask", "what is this?"}},
		{"codebases with args", []string{"codebases", "extra"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := execute(tt.args...); err == nil {
				t.Errorf("Expected error for %v", tt.args)
			}
		})
	}
}

func TestExecute_PassesFlagsToSettings(t *testing.T) {
	var seen *pflag.FlagSet
	params := app.RunParams{
		LoadSettings: func(flags *pflag.FlagSet) (*config.Settings, error) {
			seen = flags
			return nil, errors.New("stop here")
		},
		ValidSettings: config.ValidateSettings,
		NewLogger:     func(config.LogSettings) (*slog.Logger, error) { return slog.Default(), nil },
		Out:           &bytes.Buffer{},
	}

	err := Execute(context.Background(), params, "1.0.0", "abc123", "coderag",
		[]string{"ask", "--codebase", "cb-1", "--llm-provider", "ollama", "--stream", "why?"})
	if err == nil || !strings.Contains(err.Error(), "stop here") {
		t.Fatalf("Expected settings error, got: %v", err)
	}
	if seen == nil {
		t.Fatal("Expected flags to be passed to LoadSettings")
	}
	if f := seen.Lookup("llm-provider"); f == nil || f.Value.String() != "ollama" {
		t.Errorf("Expected inherited llm-provider flag, got %v", f)
	}
}

func TestRunMain_Success(t *testing.T) {
	exitCode := -1
	mockExit := func(code int) {
		exitCode = code
	}

	// --help should succeed
	runMain([]string{"coderag", "--help"}, mockExit)

	if exitCode != -1 {
		t.Errorf("Expected no exit call for --help, got exit code: %d", exitCode)
	}
}

func TestRunMain_Failure(t *testing.T) {
	exitCode := -1
	mockExit := func(code int) {
		exitCode = code
	}

	runMain([]string{"coderag", "--invalid"}, mockExit)

	if exitCode != 1 {
		t.Errorf("Expected exit code 1 for invalid flag, got: %d", exitCode)
	}
}
