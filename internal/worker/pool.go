// Package worker runs the pull loop on a compute node: a bounded number of
// slots that each pull a job, run the CFS solver with periodic heartbeats,
// and report the outcome. A slot never crashes the process over one job;
// scheduler unreachability is retried with backoff, and any lease held by a
// dead slot simply expires.
package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/clouddfe/cfsq/internal/domain"
	"github.com/clouddfe/cfsq/internal/metrics"
)

type Pool struct {
	Client  SchedulerClient
	Compute ComputeFunc
	Blobs   BlobStore
	Log     *zap.Logger

	Slots             int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	HeartbeatInterval time.Duration // 0 derives a third of the lease time
}

// Run blocks until ctx is cancelled, processing jobs on all slots.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.Slots; i++ {
		slot := i
		g.Go(func() error {
			p.runSlot(ctx, slot)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) runSlot(ctx context.Context, slot int) {
	log := p.Log.With(zap.Int("slot", slot))
	backoff := p.BackoffBase
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.Client.Pull(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("pull failed, backing off", zap.Error(err), zap.Duration("backoff", backoff))
			if !sleep(ctx, backoff) {
				return
			}
			backoff = grow(backoff, p.BackoffMax)
			continue
		}
		if job == nil {
			if !sleep(ctx, backoff) {
				return
			}
			backoff = grow(backoff, p.BackoffMax)
			continue
		}
		backoff = p.BackoffBase
		p.process(ctx, log, job)
	}
}

func (p *Pool) process(ctx context.Context, log *zap.Logger, job *PulledJob) {
	log = log.With(zap.String("job", job.ID), zap.String("srcmod", job.Params.Srcmod),
		zap.Int("attempt", job.Attempt))
	log.Info("job started")

	interval := p.HeartbeatInterval
	if interval <= 0 {
		interval = time.Until(job.LeaseExpiresAt) / 3
	}
	if interval < time.Second {
		interval = time.Second
	}

	// Heartbeats run alongside the computation. Losing the lease cancels
	// the compute; its result would be discarded anyway.
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var leaseLost atomic.Bool
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-cctx.Done():
				return
			case <-ticker.C:
				err := p.Client.Heartbeat(cctx, job.ID)
				switch {
				case err == nil:
				case errors.Is(err, domain.ErrNotOwner), errors.Is(err, domain.ErrNotFound):
					log.Warn("lease lost, abandoning job", zap.Error(err))
					leaseLost.Store(true)
					cancel()
					return
				default:
					// Transient scheduler trouble. Keep computing; the
					// lease may still be renewed on the next tick.
					log.Warn("heartbeat failed", zap.Error(err))
				}
			}
		}
	}()

	start := time.Now()
	result, err := p.Compute(cctx, job.Params)
	cancel()
	<-hbDone
	metrics.ComputeDurationSeconds.Observe(time.Since(start).Seconds())

	if leaseLost.Load() {
		metrics.WorkerJobsTotal.WithLabelValues("abandoned").Inc()
		return
	}
	if ctx.Err() != nil {
		// Shutdown mid-compute: report nothing, the lease expires on its own.
		metrics.WorkerJobsTotal.WithLabelValues("abandoned").Inc()
		return
	}
	if err != nil {
		p.report(ctx, log, job.ID, truncateReason(err.Error()))
		return
	}

	uri, err := p.Blobs.Put(ctx, job.Params.ResultName(), result)
	if err != nil {
		p.report(ctx, log, job.ID, truncateReason("store result: "+err.Error()))
		return
	}

	if err := p.Client.Complete(ctx, job.ID, uri); err != nil {
		if errors.Is(err, domain.ErrNotOwner) || errors.Is(err, domain.ErrNotFound) {
			log.Warn("completion rejected, result discarded", zap.Error(err))
			metrics.WorkerJobsTotal.WithLabelValues("abandoned").Inc()
			return
		}
		log.Error("complete report failed", zap.Error(err))
		metrics.WorkerJobsTotal.WithLabelValues("abandoned").Inc()
		return
	}
	log.Info("job done", zap.String("result", uri), zap.Duration("took", time.Since(start)))
	metrics.WorkerJobsTotal.WithLabelValues("done").Inc()
}

func (p *Pool) report(ctx context.Context, log *zap.Logger, jobID, reason string) {
	log.Warn("job failed", zap.String("reason", reason))
	if err := p.Client.Fail(ctx, jobID, reason); err != nil {
		log.Warn("failure report not delivered, lease will expire", zap.Error(err))
	}
	metrics.WorkerJobsTotal.WithLabelValues("failed").Inc()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func grow(d, max time.Duration) time.Duration {
	d *= 2
	if d > max {
		return max
	}
	return d
}

const maxReasonLen = 1500

// truncateReason keeps failure reasons short enough for the status surface.
func truncateReason(s string) string {
	if len(s) > maxReasonLen {
		return s[:maxReasonLen]
	}
	return s
}
