package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
)

const masked = "****"

// NewLogger builds the process logger on stderr
func NewLogger(s LogSettings) (*slog.Logger, error) {
	return NewLoggerWithWriter(s, os.Stderr)
}

// NewLoggerWithWriter builds a text or JSON logger writing to w
func NewLoggerWithWriter(s LogSettings, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(s.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	switch s.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format: %s", s.Format)
	}
}

func parseLevel(name string) (slog.Level, error) {
	if name == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("invalid log-level %q: %w", name, err)
	}
	return level, nil
}

// Log logs the resolved settings in a granular way, skipping irrelevant ones
func Log(s *Settings) {
	LogWithLogger(s, slog.Default())
}

// LogWithLogger logs the resolved settings using the provided logger
func LogWithLogger(s *Settings, logger *slog.Logger) {
	ctx := context.Background()
	logger.InfoContext(ctx, "Config: transport", "value", s.Transport)
	if s.Transport == TransportSSE {
		logger.InfoContext(ctx, "Config: host", "value", s.Host)
		logger.InfoContext(ctx, "Config: port", "value", s.Port)
	}

	logger.InfoContext(ctx, "Config: auth.type", "value", s.Auth.Type)
	switch s.Auth.Type {
	case AuthTypeBasic:
		logger.InfoContext(ctx, "Config: auth.basic.username", "value", s.Auth.Basic.Username)
		logger.InfoContext(ctx, "Config: auth.basic.password", "value", masked)
	case AuthTypeAPIKey:
		logger.InfoContext(ctx, "Config: auth.api_keys", "count", len(s.Auth.APIKeys))
	}

	logger.InfoContext(ctx, "Config: data_dir", "value", s.DataDir)
	logger.InfoContext(ctx, "Config: store.path", "value", s.Store.Path)
	logger.InfoContext(ctx, "Config: index.dir", "value", s.Index.Dir)
	logger.InfoContext(ctx, "Config: source.backend", "value", s.Source.Backend)
	logger.InfoContext(ctx, "Config: llm", "provider", s.LLM.Provider, "model", s.LLM.Model, "api_key", maskSecret(s.LLM.APIKey))
	logger.InfoContext(ctx, "Config: rag", "top_k", s.RAG.TopK, "agent", s.RAG.Agent, "use_bridge", s.RAG.UseBridge)
	logger.InfoContext(ctx, "Config: ingest", "max_parallel", s.Ingest.MaxParallel, "repositories", len(s.Ingest.Repositories))
	if len(s.ToolServers) > 0 {
		logger.InfoContext(ctx, "Config: tool_servers", "names", strings.Join(toolServerNames(s.ToolServers), ","))
	}
}

func toolServerNames(servers map[string]ToolServerSettings) []string {
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func maskSecret(v string) string {
	if v == "" {
		return ""
	}
	return masked
}

// AuthSettingsLogValue returns a slog.Value for AuthSettings with masked data
func AuthSettingsLogValue(s AuthSettings) slog.Value {
	keys := make([]string, len(s.APIKeys))
	for i := range s.APIKeys {
		keys[i] = masked
	}
	return slog.GroupValue(
		slog.String("type", s.Type),
		slog.Any("basic", BasicAuthSettingsLogValue(s.Basic)),
		slog.Any("api_keys", keys),
	)
}

// BasicAuthSettingsLogValue returns a slog.Value for BasicAuthSettings with masked data
func BasicAuthSettingsLogValue(s BasicAuthSettings) slog.Value {
	return slog.GroupValue(
		slog.String("username", s.Username),
		slog.String("password", masked),
	)
}

// LLMSettingsLogValue returns a slog.Value for LLMSettings with the API key masked
func LLMSettingsLogValue(s LLMSettings) slog.Value {
	return slog.GroupValue(
		slog.String("provider", s.Provider),
		slog.String("model", s.Model),
		slog.String("api_key", maskSecret(s.APIKey)),
		slog.String("base_url", s.BaseURL),
		slog.Float64("temperature", s.Temperature),
	)
}

// SettingsLogValue returns a slog.Value for Settings with masked data
func SettingsLogValue(s Settings) slog.Value {
	return slog.GroupValue(
		slog.String("transport", s.Transport),
		slog.String("host", s.Host),
		slog.Int("port", s.Port),
		slog.Any("auth", AuthSettingsLogValue(s.Auth)),
		slog.String("data_dir", s.DataDir),
		slog.Any("llm", LLMSettingsLogValue(s.LLM)),
	)
}
