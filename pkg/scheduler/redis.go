package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "orgflow:timers"

// RedisStore keeps timers in a sorted set scored by due time. Each timer body
// lives under its own key and every execution has a set of its timer ids.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store on client. An empty prefix uses "orgflow:timers".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}

	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisStoreFromURL parses a redis:// URL and connects.
func NewRedisStoreFromURL(ctx context.Context, url string) (*RedisStore, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStore(client, ""), nil
}

func (r *RedisStore) dueKey() string {
	return r.prefix + ":due"
}

func (r *RedisStore) timerKey(id string) string {
	return r.prefix + ":timer:" + id
}

func (r *RedisStore) executionKey(executionID string) string {
	return r.prefix + ":execution:" + executionID
}

func (r *RedisStore) Schedule(ctx context.Context, timer *Timer) error {
	body, err := json.Marshal(timer)
	if err != nil {
		return fmt.Errorf("failed to marshal timer %s: %w", timer.ID, err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.timerKey(timer.ID), body, 0)
	pipe.ZAdd(ctx, r.dueKey(), redis.Z{Score: float64(timer.DueAt.UnixMilli()), Member: timer.ID})
	pipe.SAdd(ctx, r.executionKey(timer.ExecutionID), timer.ID)

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to schedule timer %s: %w", timer.ID, err)
	}

	return nil
}

func (r *RedisStore) Due(ctx context.Context, now time.Time, limit int) ([]*Timer, error) {
	query := &redis.ZRangeBy{Min: "-inf", Max: strconv.FormatInt(now.UnixMilli(), 10)}
	if limit > 0 {
		query.Count = int64(limit)
	}

	ids, err := r.client.ZRangeByScore(ctx, r.dueKey(), query).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query due timers: %w", err)
	}

	timers := make([]*Timer, 0, len(ids))

	for _, id := range ids {
		timer, err := r.get(ctx, id)
		if err != nil {
			return nil, err
		}

		if timer == nil {
			r.client.ZRem(ctx, r.dueKey(), id)

			continue
		}

		timers = append(timers, timer)
	}

	return timers, nil
}

func (r *RedisStore) get(ctx context.Context, id string) (*Timer, error) {
	body, err := r.client.Get(ctx, r.timerKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to load timer %s: %w", id, err)
	}

	var timer Timer

	err = json.Unmarshal(body, &timer)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal timer %s: %w", id, err)
	}

	return &timer, nil
}

func (r *RedisStore) Remove(ctx context.Context, id string) error {
	timer, err := r.get(ctx, id)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.ZRem(ctx, r.dueKey(), id)
	pipe.Del(ctx, r.timerKey(id))

	if timer != nil {
		pipe.SRem(ctx, r.executionKey(timer.ExecutionID), id)
	}

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to remove timer %s: %w", id, err)
	}

	return nil
}

func (r *RedisStore) RemoveForExecution(ctx context.Context, executionID string) error {
	ids, err := r.client.SMembers(ctx, r.executionKey(executionID)).Result()
	if err != nil {
		return fmt.Errorf("failed to list timers of execution %s: %w", executionID, err)
	}

	pipe := r.client.TxPipeline()

	for _, id := range ids {
		pipe.ZRem(ctx, r.dueKey(), id)
		pipe.Del(ctx, r.timerKey(id))
	}

	pipe.Del(ctx, r.executionKey(executionID))

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to remove timers of execution %s: %w", executionID, err)
	}

	return nil
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
