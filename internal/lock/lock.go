// Package lock provides per-object mutual exclusion shared across all running
// server instances, backed by an atomic set-if-absent with TTL.
package lock

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ametnes/nesis-sub000/internal/apperr"
)

// Locker acquires short leases keyed by an object's canonical self-link.
// Acquire returns apperr.ErrLocked when another worker holds the key; that is
// a normal skip signal, not a failure.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

type redisLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, logger zerolog.Logger) Locker {
	return &redisLocker{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "lock").Logger(),
	}
}

func (l *redisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	key = CleanKey(key)
	ok, err := l.client.SetNX(ctx, key, "1", l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.ErrLocked
	}
	release := func() {
		// Best effort. A leaked entry expires with the TTL and only risks a
		// duplicate-processing skip on the next run.
		if err := l.client.Del(context.Background(), key).Err(); err != nil {
			l.logger.Warn().Err(err).Str("key", key).Msg("failed to release lock")
		}
	}
	return release, nil
}

// CleanKey strips control characters from a self-link so it is usable as a
// cache key.
func CleanKey(key string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, key)
}
