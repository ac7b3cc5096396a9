package transcript

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "transcript:"

// RedisStore backs the transcript log with a shared key-value store so
// observers can tail calls handled by any replica.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Append(ctx context.Context, key string, e Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, redisKeyPrefix+key, payload)
	pipe.Expire(ctx, redisKeyPrefix+key, TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}
	return nil
}

func (s *RedisStore) Range(ctx context.Context, key string, cursor int) ([]Entry, int, error) {
	if cursor < 0 {
		cursor = 0
	}
	raw, err := s.client.LRange(ctx, redisKeyPrefix+key, int64(cursor), -1).Result()
	if err != nil {
		return nil, cursor, fmt.Errorf("range transcript: %w", err)
	}
	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			// A malformed line is skipped rather than wedging the reader; the
			// cursor still advances past it.
			continue
		}
		entries = append(entries, e)
	}
	return entries, cursor + len(raw), nil
}
