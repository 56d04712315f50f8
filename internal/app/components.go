package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/coderag/internal/cache"
	"github.com/sha1n/coderag/internal/chat"
	"github.com/sha1n/coderag/internal/config"
	"github.com/sha1n/coderag/internal/index"
	"github.com/sha1n/coderag/internal/ingest"
	"github.com/sha1n/coderag/internal/kvstore"
	"github.com/sha1n/coderag/internal/llm"
	mcputil "github.com/sha1n/coderag/internal/mcp"
	"github.com/sha1n/coderag/internal/rag"
	"github.com/sha1n/coderag/internal/repository"
	"github.com/sha1n/coderag/internal/source"
	"github.com/sha1n/coderag/internal/toolbridge"
)

// ServerName identifies the binary to MCP peers.
const ServerName = "coderag"

// Resources are the externally backed dependencies of Components.
type Resources struct {
	Store    kvstore.Store
	Cloner   source.Cloner
	Provider llm.Provider
}

// Components holds the wired services of one process.
type Components struct {
	Settings  *config.Settings
	Logger    *slog.Logger
	Store     kvstore.Store
	Codebases *repository.Codebases
	Sessions  *repository.Sessions
	Index     *index.BleveIndex
	Source    *source.Client
	Provider  llm.Provider
	Tools     *toolbridge.Registry
	Pipeline  *rag.Pipeline
	Cache     *cache.ResponseCache
	Chat      *chat.Service
	Ingest    *ingest.Service
	Code      *mcputil.CodeTools
	App       *mcputil.AppTools

	closeOnce sync.Once
	closeErr  error
}

// Build opens the store, creates the cloner and the generation provider
// named by settings, and wires them together.
func Build(ctx context.Context, settings *config.Settings, version string, logger *slog.Logger) (*Components, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := kvstore.OpenBolt(settings.Store.Path, settings.Store.OpenTimeout)
	if err != nil {
		return nil, err
	}
	cloner, err := source.NewCloner(settings.Source.Backend)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	res := Resources{
		Store:    store,
		Cloner:   cloner,
		Provider: llm.NewDeferred(func() (llm.Provider, error) { return newProvider(ctx, settings.LLM, logger) }),
	}
	return Assemble(settings, res, version, logger), nil
}

func newProvider(ctx context.Context, s config.LLMSettings, logger *slog.Logger) (llm.Provider, error) {
	p, err := llm.NewLangChainProvider(context.WithoutCancel(ctx), llm.Config{
		Provider:    s.Provider,
		Model:       s.Model,
		APIKey:      s.APIKey,
		BaseURL:     s.BaseURL,
		Temperature: s.Temperature,
		MaxTokens:   s.MaxTokens,
		Timeout:     s.Timeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	if s.RateLimit > 0 {
		return llm.NewRateLimited(p, s.RateLimit, s.Burst), nil
	}
	return p, nil
}

// Assemble wires the services over already opened resources.
func Assemble(settings *config.Settings, res Resources, version string, logger *slog.Logger) *Components {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Components{
		Settings: settings,
		Logger:   logger,
		Store:    res.Store,
		Provider: res.Provider,
	}

	c.Codebases = repository.NewCodebases(res.Store, logger)
	c.Sessions = repository.NewSessions(res.Store, logger)
	c.Index = index.NewBleveIndex(settings.Index.Dir, index.NewHandleCache(), logger)

	filter := source.NewFileFilter(settings.Source.MaxFileSize)
	if len(settings.Source.ExcludePatterns) > 0 {
		patterns := append(append([]string(nil), source.DefaultExcludePatterns...), settings.Source.ExcludePatterns...)
		filter = source.NewFileFilterWithPatterns(patterns, settings.Source.MaxFileSize)
	}
	c.Source = source.NewClient(res.Cloner, filter, logger).WithCloneTimeout(settings.Source.CloneTimeout)

	serverCfg := mcputil.ServerConfig{Name: ServerName, Version: version}
	c.Code = mcputil.NewCodeTools(c.Codebases, c.Index, c.Source, settings.Source.Extensions, settings.RAG.MaxResults)

	c.Tools = toolbridge.NewRegistry(ServerName, version)
	c.Tools.RegisterInProcess(config.ReservedToolServer, func() *mcp.Server {
		return mcputil.NewCodebaseServer(context.Background(), serverCfg, c.Code, logger)
	})
	for _, name := range sortedToolServers(settings.ToolServers) {
		ts := settings.ToolServers[name]
		c.Tools.RegisterCommand(name, toolbridge.CommandSpec{Command: ts.Command, Args: ts.Args, Env: ts.Env})
	}

	var retriever rag.Retriever = rag.NewDirectRetriever(c.Index, settings.RAG.TopK)
	if settings.RAG.UseBridge {
		bridged := rag.NewBridgeRetriever(c.Tools, config.ReservedToolServer, settings.RAG.TopK)
		retriever = rag.NewFallbackRetriever(bridged, retriever, logger)
	}
	tools := rag.NewLocalTools(c.Index, c.Source, settings.RAG.TopK)
	c.Pipeline = rag.NewPipeline(retriever, res.Provider, tools, rag.Options{
		Agent:         settings.RAG.Agent,
		MaxAgentSteps: settings.RAG.MaxAgentSteps,
	}, logger)

	c.Cache = cache.New(c.Pipeline, res.Store, settings.RAG.CacheTTL, logger)
	c.Chat = chat.NewService(c.Codebases, c.Sessions, c.Cache, c.Pipeline, logger)
	c.Ingest = ingest.NewService(c.Codebases, c.Sessions, c.Index, c.Source, c.Cache, ingest.Settings{
		ReposDir:    settings.Ingest.ReposDir,
		Extensions:  settings.Source.Extensions,
		MaxParallel: settings.Ingest.MaxParallel,
	}, logger)
	c.App = mcputil.NewAppTools(c.Ingest, c.Chat)
	return c
}

func sortedToolServers(servers map[string]config.ToolServerSettings) []string {
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewServer creates the MCP server exposed by the binary.
func (c *Components) NewServer(ctx context.Context, version string) *mcp.Server {
	return mcputil.NewAppServer(ctx, mcputil.ServerConfig{Name: ServerName, Version: version}, c.Code, c.App, c.Logger)
}

// Warm ingests the configured repositories. Failures are logged.
func (c *Components) Warm(ctx context.Context) {
	urls := c.Settings.Ingest.Repositories
	if len(urls) == 0 {
		return
	}
	c.Logger.Info("Ingesting configured repositories", "count", len(urls))
	if err := c.Ingest.IngestAll(ctx, urls); err != nil {
		c.Logger.Warn("Configured repository ingestion incomplete", "error", err)
	}
}

// Close releases the index handles and the store. It is safe to call more than once.
func (c *Components) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = errors.Join(c.Index.Close(), c.Store.Close())
		if c.closeErr != nil {
			c.closeErr = fmt.Errorf("failed to close components: %w", c.closeErr)
		}
	})
	return c.closeErr
}
