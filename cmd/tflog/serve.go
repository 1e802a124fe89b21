package main

import (
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kapiw0n/terraform-log-viewer/viewer"
)

func newServeCmd() *cobra.Command {
	var cf configFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web viewer",
		Long: `Serve the upload and query endpoints used by the viewer front end.

Expired uploads are removed every cleanup_interval. When inbox.dir is configured,
files dropped into it are ingested into the inbox session.`,
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

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := viewer.NewServer(svc, viewer.ServerOptions{
				MaxUploadBytes:  cfg.MaxUploadBytes,
				DefaultPageSize: cfg.PageSize,
			})

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				svc.RunCleanup(gctx, cfg.CleanupInterval, cfg.Retention)
				return nil
			})
			if cfg.Inbox.Dir != "" {
				runner, err := viewer.NewRunner(svc, viewer.RunnerConfig{
					SessionID:    cfg.Inbox.Session,
					ProcessedDir: cfg.Inbox.ProcessedDir,
					ErrorDir:     cfg.Inbox.ErrorDir,
				})
				if err != nil {
					return err
				}
				inbox, err := viewer.NewInbox(cfg.Inbox.Dir, cfg.Inbox.Settle, runner)
				if err != nil {
					return err
				}
				log.WithFields(log.Fields{"dir": cfg.Inbox.Dir, "session_id": cfg.Inbox.Session}).Info("watching inbox")
				g.Go(func() error { return inbox.Run(gctx) })
			}
			g.Go(func() error { return srv.Run(gctx, cfg.Listen) })

			err = g.Wait()
			log.Info("server stopped")
			return err
		},
	}
	cf.register(cmd, true)
	return cmd
}
