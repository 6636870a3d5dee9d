package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/clouddfe/cfsq/internal/domain"
)

// Memory is a mutex-guarded in-process store. It backs tests and the
// single-node dev mode; Postgres is the store for real deployments.
type Memory struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]*domain.Job)}
}

var _ Store = (*Memory)(nil)

func (m *Memory) CreateJobs(ctx context.Context, jobs []*domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range jobs {
		if _, ok := m.jobs[j.ID]; ok {
			continue
		}
		c := clone(j)
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}
		c.UpdatedAt = c.CreatedAt
		if c.State == "" {
			c.State = domain.Pending
		}
		m.jobs[j.ID] = c
	}
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(j), nil
}

func (m *Memory) List(ctx context.Context, state domain.State) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if state != "" && j.State != state {
			continue
		}
		out = append(out, clone(j))
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.Before(out[b].CreatedAt)
		}
		return out[a].ID < out[b].ID
	})
	return out, nil
}

func (m *Memory) CountByState(ctx context.Context) (map[domain.State]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[domain.State]int)
	for _, j := range m.jobs {
		counts[j.State]++
	}
	return counts, nil
}

func (m *Memory) RunningLeases(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.jobs {
		if j.State == domain.Leased && !j.LeaseExpired(now) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Candidates(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Job
	for _, j := range m.jobs {
		if j.Eligible(now) {
			out = append(out, clone(j))
		}
	}
	sortCandidates(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Expired(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Job
	for _, j := range m.jobs {
		if j.LeaseExpired(now) {
			out = append(out, clone(j))
		}
	}
	sortCandidates(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Lease(ctx context.Context, id, owner string, expiry, now time.Time) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !j.Eligible(now) {
		return nil, domain.ErrConflict
	}
	j.State = domain.Leased
	j.LeaseOwner = &owner
	e := expiry
	j.LeaseExpiresAt = &e
	j.Attempts++
	j.UpdatedAt = now
	return clone(j), nil
}

func (m *Memory) Renew(ctx context.Context, id, owner string, expiry time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if j.State != domain.Leased || j.LeaseOwner == nil || *j.LeaseOwner != owner {
		return domain.ErrNotOwner
	}
	e := expiry
	j.LeaseExpiresAt = &e
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) Complete(ctx context.Context, id, owner, resultURI string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if j.State != domain.Leased || j.LeaseOwner == nil || *j.LeaseOwner != owner {
		return domain.ErrNotOwner
	}
	j.State = domain.Done
	j.ResultURI = &resultURI
	j.LeaseOwner = nil
	j.LeaseExpiresAt = nil
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) Fail(ctx context.Context, id, owner, reason string) (domain.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return "", domain.ErrNotFound
	}
	if j.State != domain.Leased || j.LeaseOwner == nil || *j.LeaseOwner != owner {
		return "", domain.ErrNotOwner
	}
	j.Errors = append(j.Errors, reason)
	j.LeaseOwner = nil
	j.LeaseExpiresAt = nil
	if j.Exhausted() {
		j.State = domain.Failed
	} else {
		j.State = domain.Pending
	}
	j.UpdatedAt = time.Now().UTC()
	return j.State, nil
}

func (m *Memory) MarkExhausted(ctx context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !j.Eligible(now) || !j.Exhausted() {
		return domain.ErrConflict
	}
	j.State = domain.Failed
	j.LeaseOwner = nil
	j.LeaseExpiresAt = nil
	j.UpdatedAt = now
	return nil
}

func (m *Memory) Reclaim(ctx context.Context, id string, now time.Time) (domain.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return "", domain.ErrNotFound
	}
	if !j.LeaseExpired(now) {
		return "", domain.ErrConflict
	}
	j.LeaseOwner = nil
	j.LeaseExpiresAt = nil
	if j.Exhausted() {
		j.State = domain.Failed
	} else {
		j.State = domain.Pending
	}
	j.UpdatedAt = now
	return j.State, nil
}

func (m *Memory) Restart(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if j.State != domain.Done && j.State != domain.Failed {
		return domain.ErrConflict
	}
	j.State = domain.Pending
	j.Attempts = 0
	j.Errors = nil
	j.LeaseOwner = nil
	j.LeaseExpiresAt = nil
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func sortCandidates(jobs []*domain.Job) {
	sort.Slice(jobs, func(a, b int) bool {
		ja, jb := jobs[a], jobs[b]
		if ja.Priority != jb.Priority {
			return ja.Priority
		}
		if ja.Attempts != jb.Attempts {
			return ja.Attempts < jb.Attempts
		}
		if !ja.CreatedAt.Equal(jb.CreatedAt) {
			return ja.CreatedAt.Before(jb.CreatedAt)
		}
		return ja.ID < jb.ID
	})
}

func clone(j *domain.Job) *domain.Job {
	c := *j
	if j.LeaseOwner != nil {
		v := *j.LeaseOwner
		c.LeaseOwner = &v
	}
	if j.LeaseExpiresAt != nil {
		v := *j.LeaseExpiresAt
		c.LeaseExpiresAt = &v
	}
	if j.ResultURI != nil {
		v := *j.ResultURI
		c.ResultURI = &v
	}
	if j.Errors != nil {
		c.Errors = append([]string(nil), j.Errors...)
	}
	return &c
}
