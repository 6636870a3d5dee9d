package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/clouddfe/cfsq/internal/config"
	"github.com/clouddfe/cfsq/internal/worker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.LoadWorker()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	host, _ := os.Hostname()
	workerID := host + "-" + uuid.NewString()
	logger = logger.With(zap.String("worker", workerID))

	blobs, err := worker.NewDirStore(cfg.ResultDir)
	if err != nil {
		logger.Fatal("result dir", zap.Error(err))
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Warn("metrics server", zap.Error(err))
		}
	}()

	pool := &worker.Pool{
		Client:            worker.NewClient(cfg.SchedulerURL, workerID),
		Compute:           worker.Solver(cfg.SolverBin),
		Blobs:             blobs,
		Log:               logger,
		Slots:             cfg.Slots,
		BackoffBase:       cfg.PollBackoffBase,
		BackoffMax:        cfg.PollBackoffMax,
		HeartbeatInterval: cfg.HeartbeatInterval,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("worker started",
		zap.Int("slots", cfg.Slots),
		zap.String("scheduler", cfg.SchedulerURL),
		zap.String("solver", cfg.SolverBin))
	if err := pool.Run(ctx); err != nil {
		logger.Fatal("pool", zap.Error(err))
	}
	logger.Info("worker stopped, in-flight leases will expire")
}
