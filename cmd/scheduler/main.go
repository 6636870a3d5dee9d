// The janitor process. One instance per deployment is enough; extras stay
// idle behind a Postgres advisory lock and take over if the leader dies.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/clouddfe/cfsq/internal/config"
	"github.com/clouddfe/cfsq/internal/janitor"
	"github.com/clouddfe/cfsq/internal/queue"
	"github.com/clouddfe/cfsq/internal/storage"
)

// Advisory lock key for janitor leader election.
const leaderLockID = 461229

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.LoadJanitor()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("postgres", zap.Error(err))
	}
	defer pool.Close()
	store := storage.NewPostgres(pool)

	var ready janitor.ReadyList
	if cfg.RedisAddr != "" {
		rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		ready = queue.New(rdb)
	}

	// The advisory lock is session scoped, so it needs one pinned
	// connection rather than the pool.
	lockDB, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("postgres", zap.Error(err))
	}
	defer lockDB.Close()
	lockConn, err := lockDB.Conn(ctx)
	if err != nil {
		logger.Fatal("postgres", zap.Error(err))
	}
	defer lockConn.Close()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Warn("metrics server", zap.Error(err))
		}
	}()

	j := janitor.New(store, ready, cfg.Batch, logger)
	logger.Info("janitor running", zap.Duration("tick", cfg.Tick))

	tick := time.NewTicker(cfg.Tick)
	defer tick.Stop()
	leading := false
	for range tick.C {
		var ok bool
		if err := lockConn.QueryRowContext(ctx,
			"select pg_try_advisory_lock($1)", leaderLockID).Scan(&ok); err != nil {
			logger.Error("leader lock", zap.Error(err))
			continue
		}
		if !ok {
			leading = false
			continue
		}
		if !leading {
			logger.Info("became janitor leader")
			leading = true
		}
		if err := j.Sweep(ctx); err != nil {
			logger.Error("sweep", zap.Error(err))
		}
	}
}
