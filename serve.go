package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the job queue and its HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	config, logger, cleanup, err := setup("serve")
	if err != nil {
		return err
	}
	defer cleanup()

	if config.DatabasePath == "" {
		return errors.New("missing database path in config")
	}

	logger.WithFields(StructFields(config)).Debug("Loaded config")

	store, err := NewSqlite(config.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.RunMigrations(); err != nil {
		return err
	}

	hub, err := NewHub()
	if err != nil {
		return err
	}

	jobs, err := store.GetQueuedJobs()
	if err != nil {
		return fmt.Errorf("restoring queue: %w", err)
	}

	logger.Infof("Restored %d queued jobs", len(jobs))
	queue := NewQueue(jobs, hub)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var uploader Uploader
	if config.Storage.Endpoint != "" {
		storage, err := NewStorage(config.Storage)
		if err != nil {
			return err
		}

		if err := storage.EnsureBucket(ctx); err != nil {
			return err
		}

		uploader = storage
	}

	poolLogger, err := CreateLogger("pool")
	if err != nil {
		return err
	}

	poolWorker := NewPoolWorker(ctx, poolLogger, queue, config, store, hub, uploader, newModelFactory(config, logger))

	go hub.Run(ctx)
	go poolWorker.RunDispatcher()

	gin.SetMode(gin.ReleaseMode)
	api := &API{
		logger:     logger,
		queue:      queue,
		store:      store,
		poolWorker: poolWorker,
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", config.BindAddress, config.Port),
		Handler: NewRouter(api, hub),
	}

	go func() {
		logger.Info("Listening on ", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error: ", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down, waiting for workers")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown: ", err)
	}

	poolWorker.Wait()
	logger.Info("Stopped")
	return nil
}
