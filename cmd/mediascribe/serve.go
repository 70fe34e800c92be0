package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jo-hoe/mediascribe/internal/common"
	"github.com/jo-hoe/mediascribe/internal/engine"
	"github.com/jo-hoe/mediascribe/internal/engine/provider"
	"github.com/jo-hoe/mediascribe/internal/ingest"
	"github.com/jo-hoe/mediascribe/internal/jobs"
	"github.com/jo-hoe/mediascribe/internal/media"
	"github.com/jo-hoe/mediascribe/internal/processor"
	"github.com/jo-hoe/mediascribe/internal/server"
	"github.com/jo-hoe/mediascribe/internal/status"
	"github.com/jo-hoe/mediascribe/internal/storage"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		logger.Error("open store", common.LogKeyErr, err)
		return err
	}
	defer func() { _ = store.Close() }()

	layout := storage.NewLayout(cfg.Server.StorageDir)
	if err := layout.Ensure(); err != nil {
		logger.Error("prepare storage", common.LogKeyErr, err)
		return err
	}

	// A broken engine leaves the server up; jobs fail with engine unavailable.
	var eng engine.Engine
	if e, err := provider.New(cfg); err != nil {
		logger.Error("engine unavailable", "provider", cfg.Engine.Provider, common.LogKeyErr, err)
	} else {
		eng = e
		logger.Info("engine ready", "provider", cfg.Engine.Provider)
	}

	// Nothing runs yet, so every unfinished job was orphaned by a previous process.
	if n, err := jobs.FailUnfinished(parent, store, time.Now().UTC(), jobs.RestartReason, logger); err != nil {
		logger.Warn("fail orphaned jobs", common.LogKeyErr, err)
	} else if n > 0 {
		logger.Warn("failed jobs orphaned by a previous run", "count", n)
	}

	worker := processor.New(logger, cfg, store, eng, media.NewFFmpeg(cfg.Extractor))
	queue := jobs.NewQueue(logger, cfg.Server.QueueCapacity, cfg.Server.WorkerCount)
	rootCtx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := queue.Start(rootCtx, worker); err != nil {
		logger.Error("start queue", common.LogKeyErr, err)
		return err
	}

	if cfg.Pipeline.JobTimeout > 0 {
		wd := jobs.NewWatchdog(store, cfg.Pipeline.JobTimeout, cfg.Pipeline.WatchInterval, logger)
		go wd.Run(rootCtx)
	}

	svc := &server.Service{
		Log:      logger,
		Cfg:      cfg,
		Ingestor: ingest.New(logger, store, storage.NewUploader(), layout, queue),
		Status:   status.NewProjector(logger, store),
	}
	httpSrv := server.NewHTTPServer(svc)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "address", cfg.Server.Addr, "storage_dir", cfg.Server.StorageDir, "store", cfg.Store.Driver)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error("server error", common.LogKeyErr, serveErr)
		}
	}

	// Graceful shutdown
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", common.LogKeyErr, err)
	}
	queue.Shutdown(cfg.Server.ShutdownGrace)
	leftCtx, cancelLeft := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelLeft()
	if n, err := jobs.FailUnfinished(leftCtx, store, time.Now().UTC(), jobs.ShutdownReason, logger); err != nil {
		logger.Warn("fail unfinished jobs", common.LogKeyErr, err)
	} else if n > 0 {
		logger.Warn("failed jobs left unfinished at shutdown", "count", n)
	}
	logger.Info("server stopped")
	return serveErr
}
