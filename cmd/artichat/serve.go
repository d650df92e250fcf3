package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/thinkscotty/artichat/internal/metrics"
	"github.com/thinkscotty/artichat/internal/pipeline"
	"github.com/thinkscotty/artichat/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the conversation over a JSON HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		m := metrics.New()
		sess, kv, err := openSession(pipeline.Hooks{}, m)
		if err != nil {
			return err
		}
		defer kv.Close()

		if err := sess.Start(); err != nil {
			return err
		}

		slog.Info("Starting artichat", "version", version)
		srv := server.New(cfg.Server, sess, m, version, buildTime)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			slog.Info("Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		serveErr := g.Wait()

		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sess.Close(closeCtx); err != nil {
			slog.Error("Failed to close session", "error", err)
		}
		return serveErr
	},
}
