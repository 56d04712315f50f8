package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sha1n/coderag/internal/app"
	"github.com/spf13/cobra"
)

var (
	// Version is injected at build time
	Version = "dev"
	// Build is injected at build time
	Build = "unknown"
	// ProgramName is injected at build time
	ProgramName = "coderag"
)

func main() {
	runMain(os.Args, os.Exit)
}

func runMain(args []string, exit func(int)) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := Execute(ctx, app.DefaultRunParams(), Version, Build, ProgramName, args[1:]); err != nil {
		exit(1)
	}
}

// Execute is the entry point for the CLI, extracted for testing
func Execute(ctx context.Context, params app.RunParams, version, build, programName string, args []string) error {
	serve := func(cmd *cobra.Command, _ []string) error {
		return app.RunWithDeps(cmd.Context(), params, cmd.Flags(), version)
	}

	rootCmd := &cobra.Command{
		Use:          programName,
		Short:        "Codebase investigator",
		Long:         "Ingests git repositories and answers questions about their code over MCP or the command line",
		Version:      version,
		SilenceUsage: true,
		RunE:         serve,
	}
	rootCmd.SetVersionTemplate(`{{.Version}} (` + build + `)
`)
	app.RegisterFlags(rootCmd.PersistentFlags())
	app.RegisterServeFlags(rootCmd.Flags())

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP server over stdio or SSE (default)",
		Args:  cobra.NoArgs,
		RunE:  serve,
	}
	app.RegisterServeFlags(serveCmd.Flags())

	ingestCmd := &cobra.Command{
		Use:   "ingest <repository-url>...",
		Short: "Clone and index repositories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunIngest(cmd.Context(), params, cmd.Flags(), version, args)
		},
	}

	var askOpts app.AskOptions
	askCmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question about an ingested codebase",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			askOpts.Question = strings.Join(args, " ")
			return app.RunAsk(cmd.Context(), params, cmd.Flags(), version, askOpts)
		},
	}
	askCmd.Flags().StringVar(&askOpts.Codebase, "codebase", "", "Codebase id or repository URL")
	askCmd.Flags().StringVarP(&askOpts.SessionID, "session", "s", "", "Continue an existing session")
	askCmd.Flags().BoolVar(&askOpts.Stream, "stream", false, "Print the reply as it is generated")
	_ = askCmd.MarkFlagRequired("codebase")

	codebasesCmd := &cobra.Command{
		Use:   "codebases",
		Short: "List ingested codebases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.RunCodebases(cmd.Context(), params, cmd.Flags(), version)
		},
	}

	rootCmd.AddCommand(serveCmd, ingestCmd, askCmd, codebasesCmd)
	rootCmd.SetArgs(args)

	return rootCmd.ExecuteContext(ctx)
}
