package transcript

import (
	"context"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// FallbackStore prefers a shared backend but degrades to in-process memory
// when it errors. A transcript hiccup must never terminate a call.
type FallbackStore struct {
	primary  Store
	fallback Store
	logger   *slog.Logger

	mu       sync.Mutex
	degraded map[string]bool // keys that have fallen back
}

func NewFallbackStore(primary, fallback Store, logger *slog.Logger) *FallbackStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		degraded: make(map[string]bool),
	}
}

func (s *FallbackStore) Append(ctx context.Context, key string, e Entry) error {
	if !s.isDegraded(key) {
		if err := s.primary.Append(ctx, key, e); err == nil {
			return nil
		} else {
			s.logger.Warn("transcript backend unavailable, falling back to memory", "key", key, "error", err)
			s.markDegraded(key)
		}
	}
	return s.fallback.Append(ctx, key, e)
}

func (s *FallbackStore) Range(ctx context.Context, key string, cursor int) ([]Entry, int, error) {
	if !s.isDegraded(key) {
		entries, next, err := s.primary.Range(ctx, key, cursor)
		if err == nil {
			return entries, next, nil
		}
		s.logger.Warn("transcript backend read failed, falling back to memory", "key", key, "error", err)
		s.markDegraded(key)
	}
	return s.fallback.Range(ctx, key, cursor)
}

func (s *FallbackStore) isDegraded(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded[key]
}

func (s *FallbackStore) markDegraded(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded[key] = true
}

// New builds the process-wide store: Redis-backed with memory fallback when
// redisURL is set, in-process memory otherwise.
func New(redisURL string, logger *slog.Logger) Store {
	mem := NewMemoryStore()
	if redisURL == "" {
		return mem
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		if logger != nil {
			logger.Warn("invalid redis url, using in-process transcripts", "error", err)
		}
		return mem
	}
	return NewFallbackStore(NewRedisStore(redis.NewClient(opts)), mem, logger)
}
