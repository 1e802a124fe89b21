package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/kapiw0n/terraform-log-viewer/viewer"
)

func newIngestCmd() *cobra.Command {
	var (
		cf           configFlags
		inputs       []string
		session      string
		processedDir string
		errorDir     string
		workers      int
	)
	cmd := &cobra.Command{
		Use:   "ingest --input-glob PATTERN [--input-glob PATTERN...]",
		Short: "Load log files into the viewer database",
		Long: `Parse every file matching the input globs and store it under one session, so it
can be browsed in the viewer with that session id. Files whose content the session
already holds are skipped.

Examples:
  tflog ingest --input-glob "/var/log/terraform/**/*.log" --session nightly
  tflog ingest --input-glob plan.log --processed-dir done --error-dir failed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cf.resolve(cmd)
			if err != nil {
				return err
			}
			svc, closeStore, err := openService(cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			runner, err := viewer.NewRunner(svc, viewer.RunnerConfig{
				Inputs:       inputs,
				SessionID:    session,
				ProcessedDir: processedDir,
				ErrorDir:     errorDir,
				Workers:      workers,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			stats, err := runner.RunOnce(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "matched %d, ingested %d, skipped %d, failed %d\n",
				stats.Matched, stats.Ingested, stats.Skipped, stats.Failed)
			files, err := svc.Files(ctx, session)
			if err != nil {
				return err
			}
			renderFiles(out, session, files)
			if stats.Failed > 0 {
				return fmt.Errorf("%d file(s) failed to ingest", stats.Failed)
			}
			return nil
		},
	}
	cf.register(cmd, false)
	fs := cmd.Flags()
	fs.StringArrayVar(&inputs, "input-glob", nil, "Input glob(s); ** matches nested directories. Can be repeated.")
	fs.StringVar(&session, "session", "cli", "Session the files are stored under.")
	fs.StringVar(&processedDir, "processed-dir", "", "Move ingested inputs here.")
	fs.StringVar(&errorDir, "error-dir", "", "Move inputs that failed to parse here.")
	fs.IntVar(&workers, "workers", 1, "Files ingested in parallel.")
	_ = cmd.MarkFlagRequired("input-glob")
	return cmd
}

func renderFiles(w io.Writer, session string, files []viewer.LogFile) {
	if len(files) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("session %s", session)
	t.AppendHeader(table.Row{"File Id", "Name", "Entries", "Size", "Uploaded"})
	for _, f := range files {
		t.AppendRow(table.Row{
			f.ID,
			f.Filename,
			f.EntryCount,
			humanize.Bytes(uint64(f.SizeBytes)),
			humanize.Time(f.UploadedAt),
		})
	}
	t.Render()
}
