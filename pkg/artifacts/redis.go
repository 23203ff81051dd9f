package artifacts

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps artifacts in Redis so multiple coordinator processes
// can share a run's artifact namespace. Keys carry the run id, letting
// Release expire a whole run at once.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects a Redis-backed artifact store.
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return &RedisStore{client: redis.NewClient(opts)}, nil
}

func artifactKey(runID, name string) string {
	return "conveyor:artifact:" + runID + ":" + name
}

func runSetKey(runID string) string {
	return "conveyor:artifacts:" + runID
}

func (s *RedisStore) Put(ctx context.Context, runID, name, producingJobID string, payload []byte) error {
	key := artifactKey(runID, name)

	// HSETNX on the payload field gives us create-only semantics.
	created, err := s.client.HSetNX(ctx, key, "payload", payload).Result()
	if err != nil {
		return fmt.Errorf("redis put %s: %w", name, err)
	}

	if !created {
		return fmt.Errorf("%w: %s in run %s", ErrAlreadyExists, name, runID)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "producer", producingJobID, "sealed", "0",
		"created_at", time.Now().UTC().Format(time.RFC3339Nano))
	pipe.SAdd(ctx, runSetKey(runID), name)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put %s: %w", name, err)
	}

	return nil
}

func (s *RedisStore) Get(ctx context.Context, runID, name string) ([]byte, error) {
	vals, err := s.client.HMGet(ctx, artifactKey(runID, name), "payload", "sealed").Result()
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", name, err)
	}

	payload, ok := vals[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s in run %s", ErrNotFound, name, runID)
	}

	if sealed, _ := vals[1].(string); sealed != "1" {
		return nil, fmt.Errorf("%w: %s in run %s", ErrNotFound, name, runID)
	}

	return []byte(payload), nil
}

func (s *RedisStore) Seal(ctx context.Context, runID, producingJobID string) error {
	names, err := s.client.SMembers(ctx, runSetKey(runID)).Result()
	if err != nil {
		return fmt.Errorf("redis seal run %s: %w", runID, err)
	}

	for _, name := range names {
		key := artifactKey(runID, name)

		producer, err := s.client.HGet(ctx, key, "producer").Result()
		if err != nil {
			return fmt.Errorf("redis seal %s: %w", name, err)
		}

		if producer != producingJobID {
			continue
		}

		if err := s.client.HSet(ctx, key, "sealed", "1").Err(); err != nil {
			return fmt.Errorf("redis seal %s: %w", name, err)
		}
	}

	return nil
}

func (s *RedisStore) Release(ctx context.Context, runID string, retention time.Duration) error {
	names, err := s.client.SMembers(ctx, runSetKey(runID)).Result()
	if err != nil {
		return fmt.Errorf("redis release run %s: %w", runID, err)
	}

	pipe := s.client.TxPipeline()

	if retention <= 0 {
		for _, name := range names {
			pipe.Del(ctx, artifactKey(runID, name))
		}

		pipe.Del(ctx, runSetKey(runID))
	} else {
		for _, name := range names {
			pipe.Expire(ctx, artifactKey(runID, name), retention)
		}

		pipe.Expire(ctx, runSetKey(runID), retention)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis release run %s: %w", runID, err)
	}

	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
