package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sha1n/coderag/internal/domain"
	"github.com/sha1n/coderag/internal/llm"
)

// DefaultMaxAgentSteps bounds the number of provider calls per agent run.
const DefaultMaxAgentSteps = 8

// ErrAgentStepLimit is returned when the model keeps requesting tools past the step limit.
var ErrAgentStepLimit = errors.New("agent step limit reached")

// Agent runs the tool-calling loop.
type Agent struct {
	provider llm.Provider
	tools    Toolset
	maxSteps int
	logger   *slog.Logger
}

// NewAgent creates an agent. maxSteps <= 0 uses DefaultMaxAgentSteps.
func NewAgent(provider llm.Provider, tools Toolset, maxSteps int, logger *slog.Logger) *Agent {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxAgentSteps
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{provider: provider, tools: tools, maxSteps: maxSteps, logger: logger}
}

// Run loops until the model gives a final answer. It returns the answer and
// the files read along the way, in first-read order.
func (a *Agent) Run(ctx context.Context, codebase *domain.Codebase, system string, messages []llm.Message) (string, []string, error) {
	var readFiles []string
	tools := a.tools.Tools()

	for step := 1; step <= a.maxSteps; step++ {
		outcome, err := a.provider.Generate(ctx, llm.Request{System: system, Messages: messages, Tools: tools})
		if err != nil {
			return "", nil, fmt.Errorf("generation failed: %w", err)
		}

		switch o := outcome.(type) {
		case llm.FinalAnswer:
			return o.Text, readFiles, nil

		case llm.ToolRequest:
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: o.Text, ToolCalls: o.Calls})
			for _, call := range o.Calls {
				obs, err := a.tools.Execute(ctx, codebase, call)
				if err != nil {
					if ctx.Err() != nil {
						return "", nil, ctx.Err()
					}
					a.logger.Debug("Tool call failed", "tool", call.Name, "step", step, "error", err)
					obs = Observation{Text: fmt.Sprintf("Error: %s", err)}
				}
				if obs.ReadFile != "" {
					readFiles = appendUnique(readFiles, obs.ReadFile)
				}
				messages = append(messages, llm.Message{
					Role:       llm.RoleTool,
					Content:    obs.Text,
					ToolCallID: call.ID,
					Name:       call.Name,
				})
			}

		default:
			return "", nil, fmt.Errorf("unexpected provider outcome %T", outcome)
		}
	}

	return "", nil, fmt.Errorf("%w (%d steps)", ErrAgentStepLimit, a.maxSteps)
}
