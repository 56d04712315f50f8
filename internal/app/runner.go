package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/coderag/internal/config"
	"github.com/spf13/pflag"
)

// RunParams contains dependencies for the commands
type RunParams struct {
	LoadSettings      func(*pflag.FlagSet) (*config.Settings, error)
	ValidSettings     func(*config.Settings) error
	NewLogger         func(config.LogSettings) (*slog.Logger, error)
	Build             func(context.Context, *config.Settings, string, *slog.Logger) (*Components, error)
	StartSSEServer    func(context.Context, *mcp.Server, *config.Settings) error
	CustomIOTransport mcp.Transport // Optional: for testing with custom IO
	Out               io.Writer     // Command output; defaults to stdout
}

// DefaultRunParams returns production dependencies
func DefaultRunParams() RunParams {
	return RunParams{
		LoadSettings:   config.LoadSettingsWithFlags,
		ValidSettings:  config.ValidateSettings,
		NewLogger:      config.NewLogger,
		Build:          Build,
		StartSSEServer: StartSSEServer,
		Out:            os.Stdout,
	}
}

func (p RunParams) out() io.Writer {
	if p.Out == nil {
		return os.Stdout
	}
	return p.Out
}

// setup loads and validates settings and installs the process logger
func setup(params RunParams, flags *pflag.FlagSet) (*config.Settings, *slog.Logger, error) {
	settings, err := params.LoadSettings(flags)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load settings: %w", err)
	}

	if err := params.ValidSettings(settings); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := slog.Default()
	if params.NewLogger != nil {
		if logger, err = params.NewLogger(settings.Log); err != nil {
			return nil, nil, fmt.Errorf("invalid configuration: %w", err)
		}
		slog.SetDefault(logger)
	}
	return settings, logger, nil
}

// withComponents builds the components, runs fn and closes them
func withComponents(ctx context.Context, params RunParams, flags *pflag.FlagSet, version string, fn func(*Components) error) error {
	settings, logger, err := setup(params, flags)
	if err != nil {
		return err
	}
	config.LogWithLogger(settings, logger)

	comps, err := params.Build(ctx, settings, version, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		if err := comps.Close(); err != nil {
			logger.Error("Failed to close components", "error", err)
		}
	}()
	return fn(comps)
}

// RunWithDeps serves the MCP server over the configured transport. Configured
// repositories are ingested in the background while serving.
func RunWithDeps(ctx context.Context, params RunParams, flags *pflag.FlagSet, version string) error {
	return withComponents(ctx, params, flags, version, func(c *Components) error {
		c.Logger.Info("Starting coderag server", "version", version)

		warmCtx, cancelWarm := context.WithCancel(ctx)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Warm(warmCtx)
		}()
		defer func() {
			cancelWarm()
			wg.Wait()
		}()

		server := c.NewServer(ctx, version)
		if c.Settings.Transport == config.TransportStdio {
			// Use custom transport if provided (for testing), otherwise use stdio
			transport := params.CustomIOTransport
			if transport == nil {
				transport = &mcp.StdioTransport{}
			}
			return server.Run(ctx, transport)
		}
		c.Logger.Info("Starting SSE server", "host", c.Settings.Host, "port", c.Settings.Port)
		return params.StartSSEServer(ctx, server, c.Settings)
	})
}
