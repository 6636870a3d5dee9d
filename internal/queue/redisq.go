// Package queue holds the Redis ready list: a fast-path hint of job ids
// that are probably eligible for leasing. The database stays authoritative;
// a stale hint just loses its compare-and-set and is dropped.
package queue

import (
	"context"
	"time"

	r "github.com/redis/go-redis/v9"
)

const readyKey = "cfsq:ready"

type RedisQ struct{ rdb *r.Client }

func New(rdb *r.Client) *RedisQ { return &RedisQ{rdb} }

// Push appends job ids to the ready list.
func (q *RedisQ) Push(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	vals := make([]interface{}, len(ids))
	for i, id := range ids {
		vals[i] = id
	}
	return q.rdb.LPush(ctx, readyKey, vals...).Err()
}

// Next pops one hinted id, or returns false when the list is empty.
func (q *RedisQ) Next(ctx context.Context) (string, bool, error) {
	id, err := q.rdb.RPop(ctx, readyKey).Result()
	if err == r.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// Wait blocks up to block for a hinted id.
func (q *RedisQ) Wait(ctx context.Context, block time.Duration) (string, bool, error) {
	res, err := q.rdb.BRPop(ctx, block, readyKey).Result()
	if err == r.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if len(res) == 2 {
		return res[1], true, nil
	}
	return "", false, nil
}

// Len reports the current depth of the ready list.
func (q *RedisQ) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, readyKey).Result()
}
