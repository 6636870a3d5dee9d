// Package lease grants and reclaims time-bounded job leases. At most one
// worker holds an unexpired lease on a job; the store's compare-and-set is
// the only synchronization point, so racing acquirers of a nominally
// expired lease resolve without a global lock.
package lease

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/clouddfe/cfsq/internal/domain"
	"github.com/clouddfe/cfsq/internal/storage"
)

// Hints is an optional fast path (the Redis ready list) consulted before
// scanning the store for candidates. Hints may be stale or wrong; every id
// still goes through the store's compare-and-set.
type Hints interface {
	Next(ctx context.Context) (string, bool, error)
	Push(ctx context.Context, ids ...string) error
}

// candidateBatch bounds how many eligible jobs one acquire scans before
// giving up. Contention on the head of the queue is resolved within the
// batch: a loser just moves to the next candidate.
const candidateBatch = 16

type Manager struct {
	store    storage.Store
	hints    Hints // may be nil
	duration time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func NewManager(store storage.Store, hints Hints, duration time.Duration, log *zap.Logger) *Manager {
	return &Manager{
		store:    store,
		hints:    hints,
		duration: duration,
		log:      log,
		now:      time.Now,
	}
}

// Duration returns the configured lease duration.
func (m *Manager) Duration() time.Duration { return m.duration }

// Acquire leases one eligible job to workerID, or returns nil when nothing
// is eligible. Jobs whose attempt budget is already spent are moved to
// failed instead of being handed out.
func (m *Manager) Acquire(ctx context.Context, workerID string) (*domain.Job, error) {
	now := m.now().UTC()
	expiry := now.Add(m.duration)

	if m.hints != nil {
		for i := 0; i < candidateBatch; i++ {
			id, ok, err := m.hints.Next(ctx)
			if err != nil {
				m.log.Warn("ready list unavailable, falling back to store scan", zap.Error(err))
				break
			}
			if !ok {
				break
			}
			j, err := m.tryLease(ctx, id, workerID, expiry, now)
			if err != nil {
				return nil, err
			}
			if j != nil {
				return j, nil
			}
		}
	}

	candidates, err := m.store.Candidates(ctx, now, candidateBatch)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		j, err := m.tryLease(ctx, c.ID, workerID, expiry, now)
		if err != nil {
			return nil, err
		}
		if j != nil {
			return j, nil
		}
	}
	return nil, nil
}

// tryLease attempts the compare-and-set for a single candidate. A lost race
// (conflict or vanished job) returns (nil, nil) so the caller moves on.
func (m *Manager) tryLease(ctx context.Context, id, workerID string, expiry, now time.Time) (*domain.Job, error) {
	j, err := m.store.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !j.Eligible(now) {
		return nil, nil
	}
	if j.Exhausted() {
		if err := m.store.MarkExhausted(ctx, id, now); err != nil && !isBenignRace(err) {
			return nil, err
		}
		m.log.Info("job out of attempts, marked failed",
			zap.String("job", id), zap.Int("attempts", j.Attempts))
		return nil, nil
	}

	leased, err := m.store.Lease(ctx, id, workerID, expiry, now)
	if isBenignRace(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.log.Debug("lease granted",
		zap.String("job", id), zap.String("worker", workerID),
		zap.Int("attempt", leased.Attempts), zap.Time("expires", expiry))
	return leased, nil
}

// Renew extends workerID's lease on jobID by the configured duration.
func (m *Manager) Renew(ctx context.Context, workerID, jobID string) error {
	expiry := m.now().UTC().Add(m.duration)
	return m.store.Renew(ctx, jobID, workerID, expiry)
}

// Complete finishes jobID with its result URI. Only the current lease
// owner may complete; a late report from a displaced worker gets
// domain.ErrNotOwner and discards its result.
func (m *Manager) Complete(ctx context.Context, workerID, jobID, resultURI string) error {
	if err := m.store.Complete(ctx, jobID, workerID, resultURI); err != nil {
		return err
	}
	m.log.Info("job done", zap.String("job", jobID), zap.String("result", resultURI))
	return nil
}

// Fail records a computation failure. The job returns to pending for
// another attempt, or to failed once its budget is spent.
func (m *Manager) Fail(ctx context.Context, workerID, jobID, reason string) error {
	state, err := m.store.Fail(ctx, jobID, workerID, reason)
	if err != nil {
		return err
	}
	if state == domain.Failed {
		m.log.Warn("job failed terminally", zap.String("job", jobID), zap.String("reason", reason))
	} else {
		m.log.Info("job failed, will retry", zap.String("job", jobID), zap.String("reason", reason))
		if m.hints != nil {
			if err := m.hints.Push(ctx, jobID); err != nil {
				m.log.Warn("ready list push failed", zap.Error(err))
			}
		}
	}
	return nil
}

func isBenignRace(err error) bool {
	return errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound)
}
