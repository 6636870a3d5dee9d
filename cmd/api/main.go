package main

import (
	"context"
	"database/sql"
	"net/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/clouddfe/cfsq/internal/api"
	"github.com/clouddfe/cfsq/internal/config"
	"github.com/clouddfe/cfsq/internal/lease"
	"github.com/clouddfe/cfsq/internal/queue"
	"github.com/clouddfe/cfsq/internal/storage"
	"github.com/clouddfe/cfsq/migrations"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.LoadAPI()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	ctx := context.Background()

	var store storage.Store
	if cfg.PostgresDSN != "" {
		if err := migrate(cfg.PostgresDSN); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("postgres", zap.Error(err))
		}
		defer pool.Close()
		store = storage.NewPostgres(pool)
	} else {
		logger.Warn("POSTGRES_DSN not set, using in-memory store; jobs will not survive a restart")
		store = storage.NewMemory()
	}

	var hints lease.Hints
	if cfg.RedisAddr != "" {
		rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		hints = queue.New(rdb)
	}

	leases := lease.NewManager(store, hints, cfg.LeaseDuration, logger)
	srv := api.NewServer(store, leases, hints, cfg.MaxAttempts, logger)

	logger.Info("scheduler API listening",
		zap.String("addr", cfg.Addr),
		zap.Duration("lease_duration", cfg.LeaseDuration),
		zap.Int("max_attempts", cfg.MaxAttempts))
	if err := http.ListenAndServe(cfg.Addr, srv.Router()); err != nil {
		logger.Fatal("serve", zap.Error(err))
	}
}

func migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, ".")
}
