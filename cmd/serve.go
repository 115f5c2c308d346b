package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papertrawl/papertrawl/internal/api"
	"github.com/papertrawl/papertrawl/internal/clock/system"
	"github.com/papertrawl/papertrawl/internal/config"
	"github.com/papertrawl/papertrawl/internal/id/uuid"
	"github.com/papertrawl/papertrawl/internal/job"
	"github.com/papertrawl/papertrawl/internal/logging"
	"github.com/papertrawl/papertrawl/internal/metrics"
	qmemory "github.com/papertrawl/papertrawl/internal/queue/memory"
	"github.com/papertrawl/papertrawl/internal/scholar"
	smemory "github.com/papertrawl/papertrawl/internal/storage/memory"
	"github.com/papertrawl/papertrawl/internal/storage/postgres"
	"github.com/papertrawl/papertrawl/internal/worker"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the extraction service",
		Long: `Starts the HTTP API and the job worker. Searches are submitted as
jobs over the API, executed one at a time by the worker, and checkpointed so
a restart resumes them where they left off.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	metrics.Init()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		jobs    scholar.JobStore
		records scholar.RecordStore
	)
	if cfg.DB.DSN != "" {
		store, err := postgres.NewStore(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetimeMin) * time.Minute,
		})
		if err != nil {
			return err
		}
		defer store.Close()
		jobs, records = store, store
		logger.Info("using postgres persistence")
	} else {
		jobs, records = smemory.NewJobStore(), smemory.NewRecordStore()
		logger.Info("using in-memory persistence")
	}

	queue := qmemory.NewQueue(cfg.Queue.Depth)
	defer queue.Close()

	rotator := buildRotator(cfg, logger)
	if rotator == nil {
		logger.Warn("circuit rotation disabled, blocks will not be recoverable")
	}
	searchers, err := buildSearcherFactory(cfg, rotator, logger)
	if err != nil {
		return err
	}

	clk := system.New()
	runner := job.NewRunner(jobs, records, searchers, clk, logger.Named("runner"))
	w := worker.New(queue, runner, logger.Named("worker"))
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		w.Run(ctx)
	}()

	server := api.NewServer(jobs, records, queue, runner, uuid.NewGenerator(), clk, logger.Named("api"))
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
	// Running jobs observe the canceled context and checkpoint as paused.
	<-workerDone
	logger.Info("shutdown complete")
	return nil
}
