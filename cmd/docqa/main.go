// Docqa answers questions from a workspace's PDF evidence, with a semantic
// cache of curated answers in front of the retrieval pipeline.
//
// Configuration is read from ~/.config/docqa/config.yaml and overridden by
// environment variables (and a .env file in the working directory).
//
// Usage:
//
//	# Load evidence and a curated answer sheet
//	docqa ingest --workspace Finance --mode evidence reports/
//	docqa ingest --workspace Finance --mode cache faq.csv
//
//	# Ask from the command line, or serve the HTTP API
//	docqa ask --workspace Finance "What was Q3 revenue?"
//	docqa serve
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	workspace  string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "docqa",
		Short: "Question answering over workspace documents",
		Long: `docqa ingests PDF evidence and curated question/answer sheets into
per-workspace collections and answers questions from them.

A question is first matched against the workspace's answer cache. On a
miss the closest evidence passages are retrieved, reranked, and handed to
the language model, whose answer is streamed back.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default ~/.config/docqa/config.yaml)")
	root.PersistentFlags().StringVarP(&flags.workspace, "workspace", "w", "Default Workspace", "workspace name")

	root.AddCommand(
		newServeCmd(flags),
		newIngestCmd(flags),
		newAskCmd(flags),
		newFilesCmd(flags),
		newWorkspacesCmd(flags),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "docqa by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}

// withApp builds the pipeline, runs fn, and releases everything afterwards.
func withApp(cmd *cobra.Command, flags *rootFlags, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, flags.configPath)
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)
	if err := a.close(); err != nil && runErr == nil {
		return err
	}
	return runErr
}
