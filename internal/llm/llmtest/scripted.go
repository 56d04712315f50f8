// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/sha1n/coderag/internal/llm"
)

// ErrScriptExhausted is returned when more calls are made than were scripted.
var ErrScriptExhausted = errors.New("llmtest: no scripted response left")

// Step is one scripted reply. Exactly one of Outcome or Err is normally set.
type Step struct {
	Outcome llm.Outcome
	Err     error
	// Fragments overrides how a FinalAnswer is split when streamed.
	Fragments []string
}

// Provider replays scripted steps in order and records every request.
type Provider struct {
	mu       sync.Mutex
	steps    []Step
	requests []llm.Request
	// Repeat, when set, is returned once the script is exhausted.
	Repeat *Step
}

// NewProvider creates a provider that replays steps in order.
func NewProvider(steps ...Step) *Provider {
	return &Provider{steps: steps}
}

// Answer is a shorthand for a FinalAnswer step.
func Answer(text string) Step {
	return Step{Outcome: llm.FinalAnswer{Text: text}}
}

// CallTool is a shorthand for a single-call ToolRequest step.
func CallTool(id, name string, args map[string]any) Step {
	return Step{Outcome: llm.ToolRequest{Calls: []llm.ToolCall{{ID: id, Name: name, Arguments: args}}}}
}

// Fail is a shorthand for an error step.
func Fail(err error) Step {
	return Step{Err: err}
}

func (p *Provider) next(req llm.Request) (Step, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.steps) == 0 {
		if p.Repeat != nil {
			return *p.Repeat, nil
		}
		return Step{}, ErrScriptExhausted
	}
	s := p.steps[0]
	p.steps = p.steps[1:]
	return s, nil
}

func (p *Provider) Generate(ctx context.Context, req llm.Request) (llm.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := p.next(req)
	if err != nil {
		return nil, err
	}
	return s.Outcome, s.Err
}

// Stream emits the scripted FinalAnswer split into words (or Fragments),
// stopping early when ctx is cancelled or onFragment fails.
func (p *Provider) Stream(ctx context.Context, req llm.Request, onFragment llm.FragmentFunc) error {
	s, err := p.next(req)
	if err != nil {
		return err
	}
	if s.Err != nil {
		return s.Err
	}
	answer, ok := s.Outcome.(llm.FinalAnswer)
	if !ok {
		return errors.New("llmtest: streamed step is not a final answer")
	}
	fragments := s.Fragments
	if fragments == nil {
		fragments = strings.SplitAfter(answer.Text, " ")
	}
	for _, f := range fragments {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onFragment(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// Calls returns how many requests were made.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Requests returns a copy of every request made.
func (p *Provider) Requests() []llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.Request(nil), p.requests...)
}
