package rag

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"

	"github.com/sha1n/coderag/internal/domain"
	"github.com/sha1n/coderag/internal/llm"
)

// ErrStreamConsumed is yielded when a fragment sequence is ranged over twice.
var ErrStreamConsumed = errors.New("stream already consumed")

// Query is one question about a codebase.
type Query struct {
	Codebase *domain.Codebase
	Text     string
	// History is the prior conversation, oldest first.
	History []domain.Message
}

// Answer is the generated reply and the files it drew on.
type Answer struct {
	Text    string
	Sources []string
}

// Stream is a reply that is still being generated. Sources are known up front.
// Fragments can be ranged over once; breaking out stops generation.
type Stream struct {
	Sources   []string
	Fragments iter.Seq2[string, error]
}

// Options tune the pipeline.
type Options struct {
	// Agent enables the tool-calling loop. It requires a Toolset.
	Agent         bool
	MaxAgentSteps int
}

// Pipeline runs retrieve then generate.
type Pipeline struct {
	retriever Retriever
	provider  llm.Provider
	agent     *Agent
	logger    *slog.Logger
}

// NewPipeline creates a pipeline. tools may be nil when opts.Agent is false.
func NewPipeline(retriever Retriever, provider llm.Provider, tools Toolset, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{retriever: retriever, provider: provider, logger: logger}
	if opts.Agent && tools != nil {
		p.agent = NewAgent(provider, tools, opts.MaxAgentSteps, logger)
	}
	return p
}

// AgentMode reports whether the tool-calling loop is active.
func (p *Pipeline) AgentMode() bool {
	return p.agent != nil
}

// Answer retrieves context and generates a complete reply.
func (p *Pipeline) Answer(ctx context.Context, q Query) (Answer, error) {
	retrieval, err := p.retriever.Retrieve(ctx, q.Codebase, q.Text)
	if err != nil {
		return Answer{}, err
	}

	if p.agent != nil {
		text, read, err := p.agent.Run(ctx, q.Codebase, renderPrompt(agentSystemPrompt, retrieval.Context), conversation(q))
		if err != nil {
			return Answer{}, err
		}
		return Answer{Text: text, Sources: appendUnique(append([]string(nil), retrieval.Sources...), read...)}, nil
	}

	outcome, err := p.provider.Generate(ctx, p.request(q, retrieval))
	if err != nil {
		return Answer{}, fmt.Errorf("generation failed: %w", err)
	}
	final, ok := outcome.(llm.FinalAnswer)
	if !ok {
		return Answer{}, fmt.Errorf("unexpected provider outcome %T", outcome)
	}

	p.logger.Debug("Generated answer", "codebase_id", q.Codebase.ID, "sources", len(retrieval.Sources))
	return Answer{Text: final.Text, Sources: retrieval.Sources}, nil
}

// Stream retrieves context before returning, then generates lazily as the
// fragments are consumed. In agent mode the whole loop runs before Stream
// returns and the answer arrives as a single fragment.
func (p *Pipeline) Stream(ctx context.Context, q Query) (*Stream, error) {
	if p.agent != nil {
		answer, err := p.Answer(ctx, q)
		if err != nil {
			return nil, err
		}
		return &Stream{Sources: answer.Sources, Fragments: once(func(yield func(string, error) bool) {
			yield(answer.Text, nil)
		})}, nil
	}

	retrieval, err := p.retriever.Retrieve(ctx, q.Codebase, q.Text)
	if err != nil {
		return nil, err
	}
	req := p.request(q, retrieval)

	fragments := func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		err := p.provider.Stream(ctx, req, func(_ context.Context, fragment string) error {
			// yield must not be called again once it has returned false.
			if stopped {
				return context.Canceled
			}
			if !yield(fragment, nil) {
				stopped = true
				cancel()
				return context.Canceled
			}
			return nil
		})
		if err != nil && !stopped {
			yield("", fmt.Errorf("generation failed: %w", err))
		}
	}

	return &Stream{Sources: retrieval.Sources, Fragments: once(fragments)}, nil
}

func (p *Pipeline) request(q Query, retrieval Retrieval) llm.Request {
	return llm.Request{
		System:   renderPrompt(systemPrompt, retrieval.Context),
		Messages: conversation(q),
	}
}

// conversation converts history plus the new question into provider messages.
// System messages from history are not replayed.
func conversation(q Query) []llm.Message {
	msgs := make([]llm.Message, 0, len(q.History)+1)
	for _, m := range q.History {
		switch m.Role {
		case domain.RoleUser:
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: m.Content})
		case domain.RoleAssistant:
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
		}
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: q.Text})
}

// once guards a sequence against being ranged over twice.
func once(seq iter.Seq2[string, error]) iter.Seq2[string, error] {
	var used atomic.Bool
	return func(yield func(string, error) bool) {
		if used.Swap(true) {
			yield("", ErrStreamConsumed)
			return
		}
		seq(yield)
	}
}
