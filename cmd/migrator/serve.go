package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"blog_migrator/internal/logger"
	"blog_migrator/internal/scheduler"
	"blog_migrator/internal/server"
	"blog_migrator/internal/worker"

	"github.com/spf13/cobra"
)

var (
	servePoll     bool
	serveConfigID string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the due-post poller",
	RunE:  withApp(true, runServe),
}

func init() {
	serveCmd.Flags().BoolVar(&servePoll, "poll", true, "Publish scheduled posts when they come due")
	serveCmd.Flags().StringVar(&serveConfigID, "publish-config", "", "Publisher config for due posts (default: resolved per batch)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, a *app, _ []string) error {
	logger.Init()
	defer logger.Log.Info("Application stopped")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.store.Migrate(ctx); err != nil {
		return err
	}

	// Планировщик публикаций
	var poller *scheduler.Poller
	if servePoll {
		wrk := worker.NewWorker(a.pipeline, serveConfigID)
		poller = scheduler.NewPoller(a.cfg.DuePollSchedule, wrk.HandleTask)
		if err := poller.Start(ctx); err != nil {
			return err
		}
	}

	// HTTP сервер
	srv := server.NewServer(a.store, a.pipeline, a.metrics, a.cfg.MaxPosts)
	httpServer := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Infof("Starting HTTP server on %s", a.cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			stop()
			if poller != nil {
				poller.Stop()
			}
			return err
		}
	case <-ctx.Done():
	}

	logger.Log.Info("Shutting down...")
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if poller != nil {
		poller.Stop()
	}
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		return err
	}
	return nil
}
