package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Provider names accepted by NewLangChainProvider.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Config selects and tunes a model.
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	// Timeout bounds each call. Zero means no limit beyond the caller's context.
	Timeout time.Duration
}

// LangChainProvider adapts a langchaingo model to Provider.
type LangChainProvider struct {
	model  llms.Model
	cfg    Config
	logger *slog.Logger
}

// NewLangChainProvider creates the langchaingo model named by cfg.Provider.
func NewLangChainProvider(ctx context.Context, cfg Config, logger *slog.Logger) (*LangChainProvider, error) {
	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case ProviderGemini:
		opts := []googleai.Option{googleai.WithAPIKey(cfg.APIKey)}
		if cfg.Model != "" {
			opts = append(opts, googleai.WithDefaultModel(cfg.Model))
		}
		model, err = googleai.New(ctx, opts...)
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithToken(cfg.APIKey)}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
	case ProviderAnthropic:
		opts := []anthropic.Option{anthropic.WithToken(cfg.APIKey)}
		if cfg.Model != "" {
			opts = append(opts, anthropic.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		model, err = anthropic.New(opts...)
	case ProviderOllama:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		model, err = ollama.New(ollama.WithServerURL(baseURL), ollama.WithModel(cfg.Model))
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create model for provider %s: %w", cfg.Provider, err)
	}
	return NewLangChainProviderWithModel(model, cfg, logger), nil
}

// NewLangChainProviderWithModel wraps an existing model.
func NewLangChainProviderWithModel(model llms.Model, cfg Config, logger *slog.Logger) *LangChainProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &LangChainProvider{model: model, cfg: cfg, logger: logger}
}

func (p *LangChainProvider) callOptions(extra ...llms.CallOption) []llms.CallOption {
	opts := []llms.CallOption{llms.WithTemperature(p.cfg.Temperature)}
	if p.cfg.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(p.cfg.MaxTokens))
	}
	if p.cfg.Model != "" {
		opts = append(opts, llms.WithModel(p.cfg.Model))
	}
	return append(opts, extra...)
}

func (p *LangChainProvider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.cfg.Timeout)
}

// Generate performs one non-streaming call.
func (p *LangChainProvider) Generate(ctx context.Context, req Request) (Outcome, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var extra []llms.CallOption
	if len(req.Tools) > 0 {
		extra = append(extra, llms.WithTools(toLangChainTools(req.Tools)))
	}

	resp, err := p.model.GenerateContent(ctx, toMessageContents(req), p.callOptions(extra...)...)
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	choice := resp.Choices[0]
	if len(choice.ToolCalls) == 0 {
		return FinalAnswer{Text: choice.Content}, nil
	}

	calls := make([]ToolCall, 0, len(choice.ToolCalls))
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		args, err := DecodeArguments(tc.FunctionCall.Arguments)
		if err != nil {
			p.logger.WarnContext(ctx, "Dropping unparsable tool arguments", "tool", tc.FunctionCall.Name, "error", err)
			args = map[string]any{}
		}
		calls = append(calls, ToolCall{ID: tc.ID, Name: tc.FunctionCall.Name, Arguments: args})
	}
	if len(calls) == 0 {
		return FinalAnswer{Text: choice.Content}, nil
	}
	return ToolRequest{Text: choice.Content, Calls: calls}, nil
}

// Stream performs one streaming call, forwarding non-empty chunks to onFragment.
func (p *LangChainProvider) Stream(ctx context.Context, req Request, onFragment FragmentFunc) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	streaming := llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		return onFragment(ctx, string(chunk))
	})

	req.Tools = nil
	if _, err := p.model.GenerateContent(ctx, toMessageContents(req), p.callOptions(streaming)...); err != nil {
		return fmt.Errorf("streaming generation failed: %w", err)
	}
	return nil
}

// DecodeArguments parses model-produced tool arguments, repairing malformed JSON
// (trailing commas, single quotes, truncation) before giving up.
func DecodeArguments(raw string) (map[string]any, error) {
	args := map[string]any{}
	if raw == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args, nil
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	args = map[string]any{}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments after repair: %w", err)
	}
	return args, nil
}

func toLangChainTools(tools []Tool) []llms.Tool {
	out := make([]llms.Tool, len(tools))
	for i, t := range tools {
		out[i] = llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return out
}

func toMessageContents(req Request) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, m.Content))
		case RoleUser:
			msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, m.Content))
		case RoleAssistant:
			mc := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			if m.Content != "" {
				mc.Parts = append(mc.Parts, llms.TextContent{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Arguments)
				mc.Parts = append(mc.Parts, llms.ToolCall{
					ID:           tc.ID,
					Type:         "function",
					FunctionCall: &llms.FunctionCall{Name: tc.Name, Arguments: string(args)},
				})
			}
			msgs = append(msgs, mc)
		case RoleTool:
			msgs = append(msgs, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: m.ToolCallID,
					Name:       m.Name,
					Content:    m.Content,
				}},
			})
		}
	}
	return msgs
}
