package client

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// WorkloadCounter keeps the number of open purchase requests per buyer in a
// Redis hash. Increments are best-effort; Replace resynchronises the hash
// from the store.
type WorkloadCounter struct {
	client *redis.Client
	key    string
}

// NewWorkloadCounter stores counts under key.
func NewWorkloadCounter(client *redis.Client, key string) *WorkloadCounter {
	return &WorkloadCounter{client: client, key: key}
}

// Move shifts n units of work from one buyer to another. Either side may be empty.
func (w *WorkloadCounter) Move(ctx context.Context, fromBuyerID, toBuyerID string, n int64) error {
	if n == 0 || (fromBuyerID == "" && toBuyerID == "") {
		return nil
	}
	pipe := w.client.Pipeline()
	if fromBuyerID != "" {
		pipe.HIncrBy(ctx, w.key, fromBuyerID, -n)
	}
	if toBuyerID != "" {
		pipe.HIncrBy(ctx, w.key, toBuyerID, n)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Replace overwrites every count atomically.
func (w *WorkloadCounter) Replace(ctx context.Context, counts map[string]int64) error {
	_, err := w.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, w.key)
		if len(counts) == 0 {
			return nil
		}
		fields := make(map[string]any, len(counts))
		for buyer, n := range counts {
			fields[buyer] = n
		}
		pipe.HSet(ctx, w.key, fields)
		return nil
	})
	return err
}

// Counts returns the current count per buyer.
func (w *WorkloadCounter) Counts(ctx context.Context) (map[string]int64, error) {
	raw, err := w.client.HGetAll(ctx, w.key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for buyer, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[buyer] = n
	}
	return out, nil
}
