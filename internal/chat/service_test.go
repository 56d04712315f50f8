package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/sha1n/coderag/internal/cache"
	"github.com/sha1n/coderag/internal/domain"
	"github.com/sha1n/coderag/internal/kvstore"
	"github.com/sha1n/coderag/internal/llm"
	"github.com/sha1n/coderag/internal/llm/llmtest"
	"github.com/sha1n/coderag/internal/rag"
	"github.com/sha1n/coderag/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubIndex struct {
	results []domain.SearchResult
}

func (s *stubIndex) CreateIndex(context.Context, string) error { return nil }

func (s *stubIndex) AddChunks(context.Context, string, []domain.CodeChunk) error { return nil }

func (s *stubIndex) DeleteIndex(context.Context, string) error { return nil }

func (s *stubIndex) Search(context.Context, string, string, int) ([]domain.SearchResult, error) {
	return s.results, nil
}

type fixture struct {
	service   *Service
	provider  *llmtest.Provider
	codebases *repository.Codebases
	sessions  *repository.Sessions
	ready     *domain.Codebase
	pending   *domain.Codebase
}

func newFixture(t *testing.T, steps ...llmtest.Step) *fixture {
	t.Helper()
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	codebases := repository.NewCodebases(store, nil)
	sessions := repository.NewSessions(store, nil)

	locator, err := domain.ParseRepositoryLocator("https://github.com/acme/widgets")
	require.NoError(t, err)
	ready := domain.NewCodebase("ready-id", locator, "/tmp/ready")
	require.NoError(t, ready.StartIndexing())
	require.NoError(t, ready.Complete(2))
	require.NoError(t, codebases.Save(ctx, ready))

	other, err := domain.ParseRepositoryLocator("https://github.com/acme/gadgets")
	require.NoError(t, err)
	pending := domain.NewCodebase("pending-id", other, "/tmp/pending")
	require.NoError(t, codebases.Save(ctx, pending))

	provider := llmtest.NewProvider(steps...)
	idx := &stubIndex{results: []domain.SearchResult{
		{Chunk: domain.NewWholeFileChunk("main.go", "package main"), Score: 1},
	}}
	pipeline := rag.NewPipeline(rag.NewDirectRetriever(idx, 5), provider, nil, rag.Options{}, nil)
	answerer := cache.New(pipeline, store, 0, nil)

	return &fixture{
		service:   NewService(codebases, sessions, answerer, pipeline, nil),
		provider:  provider,
		codebases: codebases,
		sessions:  sessions,
		ready:     ready,
		pending:   pending,
	}
}

func TestSend_NewSessionAndFollowUp(t *testing.T) {
	f := newFixture(t, llmtest.Answer("Hello there"), llmtest.Answer("Here is more"))
	ctx := context.Background()

	first, err := f.service.Send(ctx, "", f.ready.ID, "Hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello there", first.Message.Content)
	assert.Equal(t, domain.RoleAssistant, first.Message.Role)
	assert.Equal(t, []string{"main.go"}, first.Sources)
	assert.False(t, first.Cached)

	second, err := f.service.Send(ctx, first.SessionID, f.ready.ID, "More")
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, "Here is more", second.Message.Content)

	view, err := f.service.GetSession(ctx, first.SessionID, true)
	require.NoError(t, err)
	assert.Equal(t, 4, view.MessageCount)
	assert.Equal(t, "Hi", view.Title)
	require.Len(t, view.Messages, 4)
	assert.Equal(t, []string{"Hi", "Hello there", "More", "Here is more"}, []string{
		view.Messages[0].Content, view.Messages[1].Content, view.Messages[2].Content, view.Messages[3].Content,
	})
	assert.Equal(t, []string{"main.go"}, view.Messages[1].Sources())

	// History of the follow-up excludes the question being asked.
	reqs := f.provider.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: "Hi"},
		{Role: llm.RoleAssistant, Content: "Hello there"},
		{Role: llm.RoleUser, Content: "More"},
	}, reqs[1].Messages)
}

func TestSend_ConcurrentOnOneSession(t *testing.T) {
	const senders = 20
	f := newFixture(t)
	answer := llmtest.Answer("ok")
	f.provider.Repeat = &answer
	ctx := context.Background()
	sessionID := domain.NewSessionID().String()

	var wg sync.WaitGroup
	errs := make([]error, senders)
	for i := range senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.service.Send(ctx, sessionID, f.ready.ID, fmt.Sprintf("question %d", i))
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	view, err := f.service.GetSession(ctx, sessionID, true)
	require.NoError(t, err)
	assert.Equal(t, 2*senders, view.MessageCount)
	require.Len(t, view.Messages, 2*senders)

	seen := make(map[string]bool, senders)
	for i := 0; i < len(view.Messages); i += 2 {
		question, reply := view.Messages[i], view.Messages[i+1]
		assert.Equal(t, domain.RoleUser, question.Role)
		assert.Equal(t, domain.RoleAssistant, reply.Role)
		assert.False(t, seen[question.Content], "duplicate %q", question.Content)
		seen[question.Content] = true
	}
	assert.Len(t, seen, senders)
}

func TestSend_CachedReply(t *testing.T) {
	f := newFixture(t, llmtest.Answer("Answer"))
	ctx := context.Background()

	_, err := f.service.Send(ctx, "", f.ready.ID, "What is this?")
	require.NoError(t, err)
	res, err := f.service.Send(ctx, "", f.ready.ID, "what is   this?")
	require.NoError(t, err)

	assert.True(t, res.Cached)
	assert.Equal(t, "Answer", res.Message.Content)
	assert.True(t, res.Message.Metadata.Cached)
	assert.Equal(t, 1, f.provider.Calls())
}

func TestSend_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		sessionID string
		codebase  string
		text      string
		want      error
	}{
		{"empty text", "", "ready-id", "  ", domain.ErrEmptyMessage},
		{"malformed session", "not-a-uuid", "ready-id", "Hi", domain.ErrInvalidSessionID},
		{"unknown codebase", "", "missing", "Hi", domain.ErrCodebaseNotFound},
		{"pending codebase", "", "pending-id", "Hi", domain.ErrCodebaseNotReady},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Send(ctx, tt.sessionID, tt.codebase, tt.text)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	sessions, err := f.sessions.ListByCodebase(ctx, "pending-id")
	require.NoError(t, err)
	assert.Empty(t, sessions)
	assert.Equal(t, 0, f.provider.Calls())
}

func TestSend_GenerationFailureKeepsQuestion(t *testing.T) {
	boom := errors.New("provider down")
	f := newFixture(t, llmtest.Fail(boom))
	ctx := context.Background()
	id := domain.NewSessionID().String()

	_, err := f.service.Send(ctx, id, f.ready.ID, "Hi")
	assert.ErrorIs(t, err, boom)

	view, err := f.service.GetSession(ctx, id, true)
	require.NoError(t, err)
	require.Len(t, view.Messages, 1)
	assert.Equal(t, domain.RoleUser, view.Messages[0].Role)
}

func TestSend_SessionOfAnotherCodebase(t *testing.T) {
	f := newFixture(t, llmtest.Answer("ok"))
	ctx := context.Background()

	res, err := f.service.Send(ctx, "", f.ready.ID, "Hi")
	require.NoError(t, err)

	require.NoError(t, f.pending.StartIndexing())
	require.NoError(t, f.pending.Complete(1))
	require.NoError(t, f.codebases.Save(ctx, f.pending))

	_, err = f.service.Send(ctx, res.SessionID, f.pending.ID, "Hi again")
	assert.ErrorIs(t, err, domain.ErrInvalidSessionID)
}

func TestSessions_ListGetDelete(t *testing.T) {
	f := newFixture(t, llmtest.Answer("a"), llmtest.Answer("b"))
	ctx := context.Background()

	first, err := f.service.Send(ctx, "", f.ready.ID, "first question")
	require.NoError(t, err)
	second, err := f.service.Send(ctx, "", f.ready.ID, "second question")
	require.NoError(t, err)

	views, err := f.service.ListSessions(ctx, f.ready.ID)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, second.SessionID, views[0].ID)
	assert.Equal(t, first.SessionID, views[1].ID)
	assert.Nil(t, views[0].Messages)

	_, err = f.service.ListSessions(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrCodebaseNotFound)

	view, err := f.service.GetSession(ctx, first.SessionID, false)
	require.NoError(t, err)
	assert.Nil(t, view.Messages)
	assert.Equal(t, 2, view.MessageCount)

	require.NoError(t, f.service.DeleteSession(ctx, first.SessionID))
	assert.ErrorIs(t, f.service.DeleteSession(ctx, first.SessionID), domain.ErrSessionNotFound)
	_, err = f.service.GetSession(ctx, first.SessionID, false)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.ErrorIs(t, f.service.DeleteSession(ctx, "bogus"), domain.ErrInvalidSessionID)
}
