package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joseph-ayodele/receipts-classifier/internal/app"
	"github.com/joseph-ayodele/receipts-classifier/internal/async"
	"github.com/joseph-ayodele/receipts-classifier/internal/backup"
	"github.com/joseph-ayodele/receipts-classifier/internal/common"
	"github.com/joseph-ayodele/receipts-classifier/internal/export"
	"github.com/joseph-ayodele/receipts-classifier/internal/feedback"
	"github.com/joseph-ayodele/receipts-classifier/internal/ingest"
	"github.com/joseph-ayodele/receipts-classifier/internal/metrics"
	"github.com/joseph-ayodele/receipts-classifier/internal/scheduler"
	"github.com/joseph-ayodele/receipts-classifier/internal/server"
	"github.com/joseph-ayodele/receipts-classifier/internal/services/analytics"
	"github.com/joseph-ayodele/receipts-classifier/internal/services/jobs"
	"github.com/joseph-ayodele/receipts-classifier/internal/services/receipts"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logger := common.LoggerFromEnv()
	slog.SetDefault(logger)

	cfg, err := common.LoadConfig()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("receipts-classifier stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *common.Config, logger *slog.Logger) error {
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.DB.HealthCheck(ctx, 5*time.Second); err != nil {
		return err
	}
	if err := a.DB.Migrate(ctx); err != nil {
		return err
	}
	if err := a.Retrain.Bootstrap(ctx, cfg.Classifier.Bootstrap); err != nil {
		return err
	}

	queue := async.NewProcessorQueue(a.Processor, a.Jobs, logger,
		async.WithWorkers(cfg.Orchestrator.Workers),
		async.WithQueueSize(cfg.Orchestrator.QueueSize),
		async.WithProcessTimeout(cfg.Orchestrator.ProcessTimeout),
		async.WithLease(cfg.Orchestrator.LeaseDuration),
	)
	sweeper := async.NewSweeper(a.Jobs, queue, logger,
		async.WithSweepInterval(cfg.Orchestrator.SweepInterval),
		async.WithMaxReclaims(cfg.Orchestrator.MaxReclaims),
		async.WithRetention(time.Duration(cfg.Orchestrator.RetentionHours)*time.Hour),
	)
	if _, err := sweeper.RequeuePending(ctx); err != nil {
		logger.Warn("failed to re-enqueue pending jobs", "error", err)
	}
	go sweeper.Run(ctx)

	jobSvc := jobs.NewService(a.Jobs, a.Blobs, queue, cfg.Server.MaxUploadBytes, logger)
	receiptSvc := receipts.NewService(a.Receipts, logger)
	feedbackSvc := feedback.NewService(a.DB, a.Receipts, a.Corrections, a.Retrain, logger)
	exportSvc := export.NewService(a.Receipts, logger)
	analyticsSvc := analytics.NewService(a.Receipts, a.Jobs, a.Corrections, a.Models, logger)
	backupSvc := backup.NewService(a.Receipts, a.Corrections, a.Models, a.Blobs, 0, logger)

	sched := scheduler.New(logger)
	if err := sched.Add("job-cleanup", cfg.Orchestrator.CleanupSchedule, func(ctx context.Context) error {
		_, err := sweeper.Cleanup(ctx)
		return err
	}); err != nil {
		return err
	}
	if err := sched.Add("backup", cfg.Backup.Schedule, func(ctx context.Context) error {
		_, err := backupSvc.Run(ctx)
		return err
	}); err != nil {
		return err
	}
	if err := sched.Add("retrain", cfg.Retrain.Schedule, a.Retrain.TriggerScheduled); err != nil {
		return err
	}
	sched.Start()

	if cfg.Ingest.WatchDir != "" {
		inbox, err := ingest.NewInbox(cfg.Ingest.WatchDir, cfg.Ingest.Debounce, jobSvc, logger)
		if err != nil {
			return err
		}
		go func() {
			if err := inbox.Run(ctx); err != nil {
				logger.Error("inbox stopped", "error", err)
			}
		}()
	}

	mw := metrics.NewMiddleware("receipts-classifier")
	mw.MustRegister(nil)
	api := server.New(server.Deps{
		Jobs:           jobSvc,
		Receipts:       receiptSvc,
		Feedback:       feedbackSvc,
		Export:         exportSvc,
		Retrain:        a.Retrain,
		Models:         a.Models,
		Analytics:      analyticsSvc,
		Metrics:        mw,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Logger:         logger,
	})
	httpSrv := server.NewHTTPServer(cfg.Server, api.Handler())

	var health *server.HealthServer
	if cfg.Server.GRPCHealthAddr != "" {
		if health, err = server.NewHealthServer(cfg.Server.GRPCHealthAddr, logger); err != nil {
			return err
		}
		go func() {
			if err := health.Serve(); err != nil {
				logger.Error("grpc health serve error", "error", err)
			}
		}()
		health.SetServing(true)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("receipts-classifier listening", "addr", cfg.Server.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if health != nil {
		health.SetServing(false)
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	sched.Stop(shutdownCtx)
	queue.Shutdown(shutdownCtx)
	if health != nil {
		health.Stop()
	}
	return serveErr
}
