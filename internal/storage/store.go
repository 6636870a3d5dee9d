// Package storage holds the job store, the single source of truth for job
// state. Every transition goes through a per-job compare-and-set: an update
// whose guard no longer matches returns domain.ErrConflict (stale state) or
// domain.ErrNotOwner (lease ownership lost), and the caller retries or
// abandons accordingly.
package storage

import (
	"context"
	"time"

	"github.com/clouddfe/cfsq/internal/domain"
)

type Store interface {
	// CreateJobs inserts the jobs that do not exist yet. A job whose id is
	// already present is left untouched; duplicates are never an error.
	CreateJobs(ctx context.Context, jobs []*domain.Job) error

	Get(ctx context.Context, id string) (*domain.Job, error)

	// List returns jobs in the given state, or all jobs when state is "".
	List(ctx context.Context, state domain.State) ([]*domain.Job, error)

	CountByState(ctx context.Context) (map[domain.State]int, error)

	// RunningLeases counts leases that have not expired at now.
	RunningLeases(ctx context.Context, now time.Time) (int, error)

	// Candidates returns jobs eligible for leasing at now (pending, or
	// leased with a lapsed lease), ordered priority desc, attempts asc,
	// creation time asc.
	Candidates(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error)

	// Expired returns leased jobs whose lease lapsed before now.
	Expired(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error)

	// Lease transitions an eligible job to leased, records the owner and
	// expiry and increments the attempt counter. Returns the updated job.
	Lease(ctx context.Context, id, owner string, expiry, now time.Time) (*domain.Job, error)

	// Renew extends the lease expiry. Fails with domain.ErrNotOwner when
	// the job is not leased by owner.
	Renew(ctx context.Context, id, owner string, expiry time.Time) error

	// Complete transitions a leased job to done and records the result URI.
	Complete(ctx context.Context, id, owner, resultURI string) error

	// Fail records the reason and returns the job to pending, or to failed
	// when its attempt budget is spent. Returns the resulting state.
	Fail(ctx context.Context, id, owner, reason string) (domain.State, error)

	// MarkExhausted moves an eligible job whose attempts reached the
	// budget to failed.
	MarkExhausted(ctx context.Context, id string, now time.Time) error

	// Reclaim frees a job whose lease lapsed before now: back to pending,
	// or failed when exhausted. Returns the resulting state.
	Reclaim(ctx context.Context, id string, now time.Time) (domain.State, error)

	// Restart resets a done or failed job to pending with a fresh attempt
	// budget.
	Restart(ctx context.Context, id string) error
}
