package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/clouddfe/cfsq/internal/domain"
	"github.com/clouddfe/cfsq/migrations"
)

// pgStore connects to the database named by CFSQ_TEST_POSTGRES_DSN, runs the
// migrations and truncates the jobs table. Skipped when the variable is
// unset so the suite stays self-contained by default.
func pgStore(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("CFSQ_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CFSQ_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatal(err)
	}
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		t.Fatal(err)
	}
	if err := goose.Up(db, "."); err != nil {
		t.Fatal(err)
	}
	db.Close()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, `truncate jobs`); err != nil {
		t.Fatal(err)
	}
	return NewPostgres(pool)
}

func TestPostgresLeaseLifecycle(t *testing.T) {
	s := pgStore(t)
	ctx := context.Background()

	p := domain.Params{Srcmod: "s2011TOHOKU01AMMO.fsp"}
	p.ApplyDefaults()
	job := &domain.Job{ID: p.JobID(), Params: p, State: domain.Pending, MaxAttempts: 2}
	if err := s.CreateJobs(ctx, []*domain.Job{job}); err != nil {
		t.Fatal(err)
	}
	// Resubmission is a no-op.
	if err := s.CreateJobs(ctx, []*domain.Job{job}); err != nil {
		t.Fatal(err)
	}
	counts, err := s.CountByState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[domain.Pending] != 1 {
		t.Fatalf("got counts %v, want one pending", counts)
	}

	now := time.Now().UTC()
	leased, err := s.Lease(ctx, job.ID, "w1", now.Add(10*time.Minute), now)
	if err != nil {
		t.Fatal(err)
	}
	if leased.Attempts != 1 || leased.LeaseOwner == nil || *leased.LeaseOwner != "w1" {
		t.Fatalf("bad lease: %+v", leased)
	}
	if _, err := s.Lease(ctx, job.ID, "w2", now.Add(10*time.Minute), now); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}

	if err := s.Complete(ctx, job.ID, "w2", "file:///r"); !errors.Is(err, domain.ErrNotOwner) {
		t.Fatalf("got %v, want ErrNotOwner", err)
	}
	if err := s.Complete(ctx, job.ID, "w1", "file:///r"); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != domain.Done || got.ResultURI == nil || *got.ResultURI != "file:///r" {
		t.Fatalf("bad done job: %+v", got)
	}
}

func TestPostgresFailAndReclaim(t *testing.T) {
	s := pgStore(t)
	ctx := context.Background()

	var jobs []*domain.Job
	for i := 0; i < 2; i++ {
		p := domain.Params{Srcmod: fmt.Sprintf("s%d.fsp", i)}
		p.ApplyDefaults()
		jobs = append(jobs, &domain.Job{ID: p.JobID(), Params: p, State: domain.Pending, MaxAttempts: 1})
	}
	if err := s.CreateJobs(ctx, jobs); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	if _, err := s.Lease(ctx, jobs[0].ID, "w1", now.Add(time.Minute), now); err != nil {
		t.Fatal(err)
	}
	state, err := s.Fail(ctx, jobs[0].ID, "w1", "no convergence")
	if err != nil {
		t.Fatal(err)
	}
	if state != domain.Failed {
		t.Fatalf("got %s, want failed on last attempt", state)
	}
	got, _ := s.Get(ctx, jobs[0].ID)
	if got.LastError() != "no convergence" {
		t.Fatalf("reason not recorded: %v", got.Errors)
	}

	// Expired lease on the attempt budget edge reclaims straight to failed.
	if _, err := s.Lease(ctx, jobs[1].ID, "w2", now.Add(-time.Minute), now.Add(-2*time.Minute)); err != nil {
		t.Fatal(err)
	}
	state, err = s.Reclaim(ctx, jobs[1].ID, now)
	if err != nil {
		t.Fatal(err)
	}
	if state != domain.Failed {
		t.Fatalf("got %s, want failed", state)
	}

	if err := s.Restart(ctx, jobs[1].ID); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Get(ctx, jobs[1].ID)
	if got.State != domain.Pending || got.Attempts != 0 || len(got.Errors) != 0 {
		t.Fatalf("restart did not reset: %+v", got)
	}
}
