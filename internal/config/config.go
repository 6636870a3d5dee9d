// Package config loads per-binary configuration from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// API configures the scheduler API server (cmd/api).
type API struct {
	Addr          string        `env:"API_ADDR" envDefault:":8080"`
	PostgresDSN   string        `env:"POSTGRES_DSN"` // empty selects the in-memory store (dev mode)
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	LeaseDuration time.Duration `env:"LEASE_DURATION" envDefault:"10m"`
	MaxAttempts   int           `env:"MAX_ATTEMPTS" envDefault:"3"`
}

// Janitor configures the background sweeper (cmd/scheduler).
type Janitor struct {
	PostgresDSN   string        `env:"POSTGRES_DSN,notEmpty"`
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	Tick          time.Duration `env:"JANITOR_TICK" envDefault:"5s"`
	Batch         int           `env:"JANITOR_BATCH" envDefault:"500"`
	MetricsAddr   string        `env:"METRICS_ADDR" envDefault:":9102"`
}

// Worker configures a worker process (cmd/worker).
type Worker struct {
	SchedulerURL      string        `env:"SCHEDULER_URL,notEmpty"`
	Slots             int           `env:"WORKER_SLOTS" envDefault:"4"`
	PollBackoffBase   time.Duration `env:"POLL_BACKOFF_BASE" envDefault:"1s"`
	PollBackoffMax    time.Duration `env:"POLL_BACKOFF_MAX" envDefault:"30s"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"0"` // 0 derives lease/3 from the scheduler
	SolverBin         string        `env:"SOLVER_BIN" envDefault:"cfs-solver"`
	ResultDir         string        `env:"RESULT_DIR" envDefault:"./results"`
	MetricsAddr       string        `env:"METRICS_ADDR" envDefault:":9103"`
}

func LoadAPI() (API, error) {
	var c API
	err := env.Parse(&c)
	return c, err
}

func LoadJanitor() (Janitor, error) {
	var c Janitor
	err := env.Parse(&c)
	return c, err
}

func LoadWorker() (Worker, error) {
	var c Worker
	err := env.Parse(&c)
	return c, err
}
