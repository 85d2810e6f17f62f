package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jo-hoe/reelsmith/internal/common"
	"github.com/jo-hoe/reelsmith/internal/config"
	"github.com/jo-hoe/reelsmith/internal/jobs"
	"github.com/jo-hoe/reelsmith/internal/logging"
	"github.com/jo-hoe/reelsmith/internal/pipeline"
	"github.com/jo-hoe/reelsmith/internal/server"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the job workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(runCtx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.address)")
	return cmd
}

func runServer(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(logging.Options{Level: cfg.Server.LogLevel, Format: cfg.Server.LogFormat})
	if err != nil {
		return err
	}

	lock := flock.New(filepath.Join(cfg.Server.StorageDir, common.LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire server lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another reelsmith server is using %s", cfg.Server.StorageDir)
	}
	defer func() { _ = lock.Unlock() }()

	store, err := jobs.NewSQLiteStore(cfg.Server.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	orch, models, err := newOrchestrator(cfg, logger, store)
	if err != nil {
		return err
	}

	queue := jobs.NewQueue(logger, cfg.Server.QueueCapacity, cfg.Server.WorkerCount)
	if err := queue.Start(ctx, orch); err != nil {
		return fmt.Errorf("start queue: %w", err)
	}
	if n, err := pipeline.Recover(ctx, logger, store, queue); err != nil {
		logger.Warn("recover unfinished jobs", "recovered", n, "err", err)
	} else if n > 0 {
		logger.Info("unfinished jobs re-enqueued", "count", n)
	}

	httpSrv := server.NewHTTPServer(&server.Service{
		Log:         logger,
		Cfg:         cfg,
		Store:       store,
		Queue:       queue,
		VideoModels: models,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server starting", "address", cfg.Server.Addr, "llm", cfg.LLM.Provider, "media", cfg.Media.Provider)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		queue.Shutdown(cfg.Server.ShutdownGrace)
		return err
	})

	err = g.Wait()
	logger.Info("server stopped")
	return err
}
