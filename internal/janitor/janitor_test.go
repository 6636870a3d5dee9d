package janitor

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/clouddfe/cfsq/internal/domain"
	"github.com/clouddfe/cfsq/internal/storage"
)

type fakeReady struct {
	pushed []string
}

func (f *fakeReady) Push(ctx context.Context, ids ...string) error {
	f.pushed = append(f.pushed, ids...)
	return nil
}

func (f *fakeReady) Len(ctx context.Context) (int64, error) {
	return int64(len(f.pushed)), nil
}

func seed(t *testing.T, store storage.Store, id string, maxAttempts int) {
	t.Helper()
	p := domain.Params{Srcmod: "s" + id + ".fsp"}
	p.ApplyDefaults()
	j := &domain.Job{ID: id, Params: p, State: domain.Pending, MaxAttempts: maxAttempts}
	if err := store.CreateJobs(context.Background(), []*domain.Job{j}); err != nil {
		t.Fatal(err)
	}
}

func TestSweepReclaimsExpiredLeases(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	ready := &fakeReady{}
	j := New(store, ready, 100, zap.NewNop())

	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return now }

	seed(t, store, "crashed", 3)
	seed(t, store, "alive", 3)
	if _, err := store.Lease(ctx, "crashed", "w1", now.Add(10*time.Minute), now); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Lease(ctx, "alive", "w2", now.Add(10*time.Minute), now); err != nil {
		t.Fatal(err)
	}
	if err := store.Renew(ctx, "alive", "w2", now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	now = now.Add(11 * time.Minute)
	if err := j.Sweep(ctx); err != nil {
		t.Fatal(err)
	}

	crashed, _ := store.Get(ctx, "crashed")
	if crashed.State != domain.Pending {
		t.Fatalf("crashed worker's job not reclaimed: %s", crashed.State)
	}
	alive, _ := store.Get(ctx, "alive")
	if alive.State != domain.Leased {
		t.Fatalf("renewed lease was reclaimed: %s", alive.State)
	}
	if len(ready.pushed) == 0 || ready.pushed[0] != "crashed" {
		t.Fatalf("reclaimed job not re-announced: %v", ready.pushed)
	}
}

func TestSweepMovesExhaustedToFailed(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	j := New(store, nil, 100, zap.NewNop())

	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return now }

	seed(t, store, "spent", 1)
	if _, err := store.Lease(ctx, "spent", "w1", now.Add(10*time.Minute), now); err != nil {
		t.Fatal(err)
	}

	now = now.Add(11 * time.Minute)
	if err := j.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ := store.Get(ctx, "spent")
	if got.State != domain.Failed {
		t.Fatalf("got %s, want failed", got.State)
	}
}

func TestReconcileTopsUpReadyList(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	ready := &fakeReady{}
	j := New(store, ready, 10, zap.NewNop())

	for _, id := range []string{"a", "b", "c"} {
		seed(t, store, id, 3)
	}
	if err := j.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	if len(ready.pushed) != 3 {
		t.Fatalf("got %d hints, want 3", len(ready.pushed))
	}
}
