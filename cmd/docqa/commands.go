package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	docqahttp "github.com/fyrsmithlabs/docqa/internal/http"
	"github.com/fyrsmithlabs/docqa/internal/orchestrator"
	"github.com/fyrsmithlabs/docqa/internal/workspace"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the HTTP API until interrupted.

Endpoints:
  GET  /health
  GET  /metrics
  GET  /api/v1/workspaces
  GET  /api/v1/workspaces/:workspace/files
  POST /api/v1/workspaces/:workspace/ask      {"question": "..."}
  POST /api/v1/workspaces/:workspace/ingest   {"mode": "evidence|cache", "paths": [...]}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, runServe)
		},
	}
}

func runServe(ctx context.Context, a *app) error {
	srv, err := docqahttp.NewServer(a.pipeline, a.gateway, a.registry, a.logger.Underlying().Named("http"), &docqahttp.Config{
		Host:       a.cfg.Server.Host,
		Port:       a.cfg.Server.Port,
		IngestRoot: a.cfg.Server.IngestRoot,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		a.logger.Info(context.Background(), "received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

func newIngestCmd(flags *rootFlags) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Ingest PDFs or answer-sheet CSVs into a workspace",
		Long: `Ingest files into a workspace. A directory contributes its files.

Modes:
  evidence - PDFs are split into passages and stored as evidence
  cache    - CSVs with question and answer columns fill the answer cache;
             other files are ignored`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := orchestrator.ParseMode(mode)
			if err != nil {
				return err
			}
			files, err := orchestrator.ReadFiles(args)
			if err != nil {
				return err
			}
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				report, err := a.pipeline.Ingest(ctx, flags.workspace, m, files)
				if err != nil {
					return err
				}
				printIngestReport(cmd, report)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", string(orchestrator.ModeEvidence), "ingest mode: evidence or cache")
	return cmd
}

func printIngestReport(cmd *cobra.Command, r *orchestrator.IngestReport) {
	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tCHUNKS\tENTRIES\tSKIPPED")
	for _, f := range r.Files {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", f.Name, f.Chunks, f.Entries, f.SkippedRows)
	}
	_ = w.Flush()
	for _, name := range r.Ignored {
		fmt.Fprintf(out, "ignored: %s\n", name)
	}
	fmt.Fprintf(out, "ingested %d file(s) into %q (%s) in %s\n", len(r.Files), r.Workspace, r.Mode, r.Duration.Round(time.Millisecond))
}

func newAskCmd(flags *rootFlags) *cobra.Command {
	var sources bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question and stream the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				ans, err := a.pipeline.Ask(ctx, flags.workspace, question)
				if err != nil {
					return err
				}
				return printAnswer(cmd, ans, sources, a)
			})
		},
	}
	cmd.Flags().BoolVar(&sources, "sources", false, "list the passages the answer was generated from")
	return cmd
}

func printAnswer(cmd *cobra.Command, ans *orchestrator.Answer, sources bool, a *app) error {
	out := cmd.OutOrStdout()
	if ans.Stream == nil {
		fmt.Fprintln(out, ans.Text)
		if ans.CacheHit != nil {
			a.logger.Debug(cmd.Context(), "answered from cache", zap.Float64("match_percent", ans.CacheHit.Percent))
		}
		return nil
	}

	defer ans.Stream.Close()
	for ans.Stream.Next() {
		fmt.Fprint(out, ans.Stream.Token())
	}
	fmt.Fprintln(out)
	if err := ans.Stream.Err(); err != nil {
		return fmt.Errorf("generating answer: %w", err)
	}
	if sources {
		for _, d := range ans.Relevant {
			fmt.Fprintf(out, "  [%.3f] %s\n", d.RerankerScore, d.ID)
		}
	}
	return nil
}

func newFilesCmd(flags *rootFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "files",
		Short: "List the evidence files stored in a workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				stats, err := a.gateway.Stats(ctx, flags.workspace)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(stats)
				}
				fmt.Fprintf(out, "%s: %d chunk(s) in %d file(s)\n", stats.Collection, stats.Chunks, len(stats.Files))
				for _, f := range stats.Files {
					fmt.Fprintf(out, "  %s\n", f)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newWorkspacesCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "workspaces",
		Short: "List configured workspaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(_ context.Context, a *app) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tID")
				for _, name := range a.registry.Names() {
					id, err := workspace.Identifier(name)
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "%s\t%s\n", name, id)
				}
				return w.Flush()
			})
		},
	}
}
