package queue

import (
	"context"
	"os"
	"testing"

	r "github.com/redis/go-redis/v9"
)

func redisQ(t *testing.T) *RedisQ {
	t.Helper()
	addr := os.Getenv("CFSQ_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CFSQ_TEST_REDIS_ADDR not set")
	}
	rdb := r.NewClient(&r.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })
	if err := rdb.Del(context.Background(), readyKey).Err(); err != nil {
		t.Fatal(err)
	}
	return New(rdb)
}

func TestReadyListFIFO(t *testing.T) {
	q := redisQ(t)
	ctx := context.Background()

	if _, ok, err := q.Next(ctx); err != nil || ok {
		t.Fatalf("empty list: got ok=%v err=%v", ok, err)
	}
	if err := q.Push(ctx, "a", "b", "c"); err != nil {
		t.Fatal(err)
	}
	n, err := q.Len(ctx)
	if err != nil || n != 3 {
		t.Fatalf("got len %d err %v, want 3", n, err)
	}

	for _, want := range []string{"a", "b", "c"} {
		id, ok, err := q.Next(ctx)
		if err != nil || !ok {
			t.Fatalf("pop: ok=%v err=%v", ok, err)
		}
		if id != want {
			t.Fatalf("got %s, want %s", id, want)
		}
	}
}
