package chat

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"

	"github.com/sha1n/coderag/internal/domain"
	"github.com/sha1n/coderag/internal/rag"
)

var (
	// ErrStreamIncomplete is returned by Finalize before the reply was fully consumed.
	ErrStreamIncomplete = errors.New("stream has not completed")
	// ErrAlreadyFinalized is returned by a second Finalize.
	ErrAlreadyFinalized = errors.New("reply already finalized")
)

// PendingReply is a streamed reply that is persisted only by Finalize.
type PendingReply struct {
	SessionID string
	Sources   []string

	service    *Service
	id         domain.SessionID
	codebaseID string
	question   domain.Message
	stream     *rag.Stream

	mu        sync.Mutex
	text      strings.Builder
	completed bool
	finalized bool
}

// StreamSend validates like Send and starts a streamed reply. Nothing is
// persisted until Finalize is called after the fragments were consumed.
func (s *Service) StreamSend(ctx context.Context, rawSessionID, codebaseID, text string) (*PendingReply, error) {
	id, codebase, err := s.prepare(ctx, rawSessionID, codebaseID, text)
	if err != nil {
		return nil, err
	}

	existing, err := s.loadOrCreate(ctx, id, codebaseID)
	if err != nil {
		return nil, err
	}

	question := domain.NewUserMessage(text)
	stream, err := s.streamer.Stream(ctx, rag.Query{Codebase: codebase, Text: text, History: existing.Messages()})
	if err != nil {
		return nil, err
	}

	return &PendingReply{
		SessionID:  id.String(),
		Sources:    stream.Sources,
		service:    s,
		id:         id,
		codebaseID: codebaseID,
		question:   question,
		stream:     stream,
	}, nil
}

// Fragments yields the reply text. It completes the reply only when ranged
// over to the end without error.
func (p *PendingReply) Fragments() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for fragment, err := range p.stream.Fragments {
			if err != nil {
				yield("", err)
				return
			}
			p.mu.Lock()
			p.text.WriteString(fragment)
			p.mu.Unlock()
			if !yield(fragment, nil) {
				return
			}
		}
		p.mu.Lock()
		p.completed = true
		p.mu.Unlock()
	}
}

// Text returns the reply accumulated so far.
func (p *PendingReply) Text() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.text.String()
}

// Finalize appends the question and the complete reply to the session and saves it.
func (p *PendingReply) Finalize(ctx context.Context) (*SendResult, error) {
	p.mu.Lock()
	switch {
	case p.finalized:
		p.mu.Unlock()
		return nil, ErrAlreadyFinalized
	case !p.completed:
		p.mu.Unlock()
		return nil, ErrStreamIncomplete
	}
	text := p.text.String()
	p.mu.Unlock()

	s := p.service
	unlock, err := s.locks.Lock(ctx, p.id.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, err := s.loadOrCreate(ctx, p.id, p.codebaseID)
	if err != nil {
		return nil, err
	}

	reply := domain.NewAssistantMessage(text, p.Sources, false)
	session.AddMessage(p.question)
	session.AddMessage(reply)
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.finalized = true
	p.mu.Unlock()

	return &SendResult{SessionID: p.SessionID, Message: reply, Sources: p.Sources}, nil
}
