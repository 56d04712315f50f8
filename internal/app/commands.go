package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/sha1n/coderag/internal/chat"
	"github.com/sha1n/coderag/internal/domain"
	"github.com/spf13/pflag"
)

// ErrIngestionFailed is returned by RunIngest when any repository failed.
var ErrIngestionFailed = errors.New("ingestion failed")

// AskOptions configures one question.
type AskOptions struct {
	// Codebase is a codebase id or the URL of an ingested repository.
	Codebase  string
	SessionID string
	Question  string
	Stream    bool
}

// RunIngest ingests each URL in turn and prints the outcome.
func RunIngest(ctx context.Context, params RunParams, flags *pflag.FlagSet, version string, urls []string) error {
	out := params.out()
	return withComponents(ctx, params, flags, version, func(c *Components) error {
		failed := 0
		for _, url := range urls {
			outcome, err := c.Ingest.Ingest(ctx, url)
			if err != nil {
				return fmt.Errorf("failed to ingest %s: %w", url, err)
			}
			_, _ = fmt.Fprintf(out, "%s\t%s\t%s\t%d files\n", outcome.CodebaseID, outcome.Status, outcome.Repository, outcome.FileCount)
			if outcome.Status == domain.StatusFailed {
				_, _ = fmt.Fprintf(out, "  error: %s\n", outcome.ErrorMessage)
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%w: %d of %d repositories", ErrIngestionFailed, failed, len(urls))
		}
		return nil
	})
}

// RunCodebases prints a table of all codebases.
func RunCodebases(ctx context.Context, params RunParams, flags *pflag.FlagSet, version string) error {
	out := params.out()
	return withComponents(ctx, params, flags, version, func(c *Components) error {
		codebases, err := c.Ingest.List(ctx)
		if err != nil {
			return err
		}
		if len(codebases) == 0 {
			_, _ = fmt.Fprintln(out, "No codebases ingested.")
			return nil
		}
		return renderCodebases(out, codebases)
	})
}

func renderCodebases(out io.Writer, codebases []*domain.Codebase) error {
	data := pterm.TableData{{"ID", "STATUS", "FILES", "REPOSITORY", "REVISION"}}
	for _, cb := range codebases {
		data = append(data, []string{
			cb.ID,
			string(cb.Status),
			strconv.Itoa(cb.FileCount),
			cb.Locator.DisplayName(),
			shortRevision(cb.Revision),
		})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}
	_, err = fmt.Fprintln(out, table)
	return err
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// RunAsk asks one question about a codebase and prints the reply.
func RunAsk(ctx context.Context, params RunParams, flags *pflag.FlagSet, version string, opts AskOptions) error {
	out := params.out()
	return withComponents(ctx, params, flags, version, func(c *Components) error {
		codebase, err := c.resolveCodebase(ctx, opts.Codebase)
		if err != nil {
			return err
		}

		var result *chat.SendResult
		if opts.Stream {
			result, err = streamReply(ctx, c.Chat, out, opts.SessionID, codebase.ID, opts.Question)
		} else {
			result, err = c.Chat.Send(ctx, opts.SessionID, codebase.ID, opts.Question)
			if err == nil {
				_, _ = fmt.Fprintln(out, result.Message.Content)
			}
		}
		if err != nil {
			return err
		}

		if len(result.Sources) > 0 {
			_, _ = fmt.Fprintf(out, "\nSources:\n- %s\n", strings.Join(result.Sources, "\n- "))
		}
		_, _ = fmt.Fprintf(out, "\nsession_id: %s\n", result.SessionID)
		return nil
	})
}

func streamReply(ctx context.Context, svc *chat.Service, out io.Writer, sessionID, codebaseID, question string) (*chat.SendResult, error) {
	reply, err := svc.StreamSend(ctx, sessionID, codebaseID, question)
	if err != nil {
		return nil, err
	}
	for fragment, err := range reply.Fragments() {
		if err != nil {
			return nil, err
		}
		_, _ = fmt.Fprint(out, fragment)
	}
	_, _ = fmt.Fprintln(out)
	return reply.Finalize(ctx)
}

// resolveCodebase accepts a codebase id or a repository URL.
func (c *Components) resolveCodebase(ctx context.Context, ref string) (*domain.Codebase, error) {
	if ref == "" {
		return nil, errors.New("a codebase id or repository URL is required")
	}
	codebase, err := c.Codebases.GetByID(ctx, ref)
	if err == nil || !errors.Is(err, domain.ErrCodebaseNotFound) {
		return codebase, err
	}
	locator, parseErr := domain.ParseRepositoryLocator(ref)
	if parseErr != nil {
		return nil, err
	}
	return c.Codebases.GetByLocator(ctx, locator)
}
