// Package janitor is the background sweep that keeps the queue healthy:
// reclaiming expired leases, topping up the ready list and exporting
// per-state gauges. Correctness never depends on it — an expired lease is
// already eligible at pull time — it just shortens the path.
package janitor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/clouddfe/cfsq/internal/domain"
	"github.com/clouddfe/cfsq/internal/metrics"
	"github.com/clouddfe/cfsq/internal/storage"
)

// ReadyList is the Redis-backed hint queue, optional.
type ReadyList interface {
	Push(ctx context.Context, ids ...string) error
	Len(ctx context.Context) (int64, error)
}

type Janitor struct {
	store storage.Store
	ready ReadyList // may be nil
	batch int
	log   *zap.Logger
	now   func() time.Time
}

func New(store storage.Store, ready ReadyList, batch int, log *zap.Logger) *Janitor {
	return &Janitor{store: store, ready: ready, batch: batch, log: log, now: time.Now}
}

// Sweep runs one pass. Races with concurrent pulls are expected and benign:
// every transition is a compare-and-set.
func (j *Janitor) Sweep(ctx context.Context) error {
	now := j.now().UTC()

	expired, err := j.store.Expired(ctx, now, j.batch)
	if err != nil {
		return err
	}
	var requeued []string
	for _, job := range expired {
		state, err := j.store.Reclaim(ctx, job.ID, now)
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
			continue // someone else got there first
		}
		if err != nil {
			return err
		}
		metrics.LeasesReclaimedTotal.Inc()
		owner := ""
		if job.LeaseOwner != nil {
			owner = *job.LeaseOwner
		}
		j.log.Info("lease expired, job reclaimed",
			zap.String("job", job.ID), zap.String("was_owned_by", owner),
			zap.String("state", string(state)))
		if state == domain.Pending {
			requeued = append(requeued, job.ID)
		}
	}
	j.push(ctx, requeued)

	if err := j.reconcile(ctx); err != nil {
		return err
	}

	counts, err := j.store.CountByState(ctx)
	if err != nil {
		return err
	}
	for _, st := range domain.States {
		metrics.JobsByState.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
	return nil
}

// reconcile tops the ready list up with pending ids when it runs low, so
// pulls keep hitting the fast path. Duplicate hints are harmless; the
// compare-and-set filters them.
func (j *Janitor) reconcile(ctx context.Context) error {
	if j.ready == nil {
		return nil
	}
	depth, err := j.ready.Len(ctx)
	if err != nil {
		j.log.Warn("ready list unavailable", zap.Error(err))
		return nil
	}
	if depth >= int64(j.batch) {
		return nil
	}
	pending, err := j.store.List(ctx, domain.Pending)
	if err != nil {
		return err
	}
	room := j.batch - int(depth)
	var ids []string
	for _, job := range pending {
		if len(ids) >= room {
			break
		}
		ids = append(ids, job.ID)
	}
	j.push(ctx, ids)
	return nil
}

func (j *Janitor) push(ctx context.Context, ids []string) {
	if j.ready == nil || len(ids) == 0 {
		return
	}
	if err := j.ready.Push(ctx, ids...); err != nil {
		j.log.Warn("ready list push failed", zap.Error(err))
	}
}
