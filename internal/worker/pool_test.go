package worker

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/clouddfe/cfsq/internal/api"
	"github.com/clouddfe/cfsq/internal/domain"
	"github.com/clouddfe/cfsq/internal/lease"
	"github.com/clouddfe/cfsq/internal/storage"
)

func testScheduler(t *testing.T, maxAttempts int) (*httptest.Server, storage.Store) {
	t.Helper()
	store := storage.NewMemory()
	leases := lease.NewManager(store, nil, time.Minute, zap.NewNop())
	srv := api.NewServer(store, leases, nil, maxAttempts, zap.NewNop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, store
}

func seedJob(t *testing.T, store storage.Store, maxAttempts int) string {
	t.Helper()
	p := domain.Params{Srcmod: "s2010MAULEC01HAYE.fsp"}
	p.ApplyDefaults()
	j := &domain.Job{ID: p.JobID(), Params: p, State: domain.Pending, MaxAttempts: maxAttempts}
	if err := store.CreateJobs(context.Background(), []*domain.Job{j}); err != nil {
		t.Fatal(err)
	}
	return j.ID
}

// waitForState polls until the job reaches want or the deadline passes.
func waitForState(t *testing.T, store storage.Store, id string, want domain.State) *domain.Job {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			j, _ := store.Get(context.Background(), id)
			t.Fatalf("job never reached %s, still %+v", want, j)
			return nil
		case <-time.After(10 * time.Millisecond):
			j, err := store.Get(context.Background(), id)
			if err == nil && j.State == want {
				return j
			}
		}
	}
}

func runPool(t *testing.T, p *Pool) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("pool did not stop")
		}
	})
	return cancel
}

func TestPoolComputesAndCompletes(t *testing.T) {
	ts, store := testScheduler(t, 3)
	id := seedJob(t, store, 3)
	dir := t.TempDir()
	blobs, err := NewDirStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	pool := &Pool{
		Client: NewClient(ts.URL, "w1"),
		Compute: func(ctx context.Context, p domain.Params) (io.Reader, error) {
			return strings.NewReader("cfs result for " + p.Srcmod), nil
		},
		Blobs:       blobs,
		Log:         zap.NewNop(),
		Slots:       2,
		BackoffBase: 10 * time.Millisecond,
		BackoffMax:  50 * time.Millisecond,
	}
	runPool(t, pool)

	j := waitForState(t, store, id, domain.Done)
	if j.ResultURI == nil || !strings.HasPrefix(*j.ResultURI, "file://") {
		t.Fatalf("bad result uri: %v", j.ResultURI)
	}
	data, err := os.ReadFile(strings.TrimPrefix(*j.ResultURI, "file://"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "cfs result for s2010MAULEC01HAYE.fsp" {
		t.Fatalf("bad blob contents: %q", data)
	}
}

func TestPoolReportsFailure(t *testing.T) {
	ts, store := testScheduler(t, 1)
	id := seedJob(t, store, 1)
	blobs, err := NewDirStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	pool := &Pool{
		Client: NewClient(ts.URL, "w1"),
		Compute: func(ctx context.Context, p domain.Params) (io.Reader, error) {
			return nil, fmt.Errorf("okada solver: singular subfault matrix")
		},
		Blobs:       blobs,
		Log:         zap.NewNop(),
		Slots:       1,
		BackoffBase: 10 * time.Millisecond,
		BackoffMax:  50 * time.Millisecond,
	}
	runPool(t, pool)

	j := waitForState(t, store, id, domain.Failed)
	if j.LastError() != "okada solver: singular subfault matrix" {
		t.Fatalf("reason not reported: %v", j.Errors)
	}
}

func TestPoolSurvivesUnreachableScheduler(t *testing.T) {
	// Point the client at a closed server: every pull fails. The slot must
	// keep retrying rather than exit.
	ts := httptest.NewServer(nil)
	url := ts.URL
	ts.Close()

	blobs, err := NewDirStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	pool := &Pool{
		Client: NewClient(url, "w1"),
		Compute: func(ctx context.Context, p domain.Params) (io.Reader, error) {
			return strings.NewReader("unreachable"), nil
		},
		Blobs:       blobs,
		Log:         zap.NewNop(),
		Slots:       1,
		BackoffBase: 5 * time.Millisecond,
		BackoffMax:  20 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := pool.Run(ctx); err != nil {
		t.Fatalf("pool exited with error: %v", err)
	}
}

func TestBackoffGrowth(t *testing.T) {
	d := grow(time.Second, 30*time.Second)
	if d != 2*time.Second {
		t.Fatalf("got %v, want 2s", d)
	}
	d = grow(20*time.Second, 30*time.Second)
	if d != 30*time.Second {
		t.Fatalf("got %v, want capped 30s", d)
	}
}

func TestTruncateReason(t *testing.T) {
	long := strings.Repeat("x", 5000)
	if got := truncateReason(long); len(got) != maxReasonLen {
		t.Fatalf("got %d chars, want %d", len(got), maxReasonLen)
	}
	if got := truncateReason("short"); got != "short" {
		t.Fatalf("got %q", got)
	}
}
