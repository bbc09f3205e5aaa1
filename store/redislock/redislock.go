// Package redislock implements generic.Locker on Redis so that several
// service instances serialize mutations of the same school.
package redislock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/BilalTali/mdmseva-sub000/generic"
)

const (
	defaultTTL   = 30 * time.Second
	defaultRetry = 25 * time.Millisecond
)

// unlockScript deletes the key only while it still holds our token, so an
// expired lock taken over by another holder is never released by us.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker acquires keys with SET NX PX and a random token.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

// Option configures a Locker.
type Option func(*Locker)

// WithTTL bounds how long a crashed holder keeps the key.
func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithRetry sets the polling interval while waiting for a held key.
func WithRetry(d time.Duration) Option {
	return func(l *Locker) {
		if d > 0 {
			l.retry = d
		}
	}
}

// New wraps a redis client.
func New(client *redis.Client, opts ...Option) *Locker {
	l := &Locker{client: client, ttl: defaultTTL, retry: defaultRetry}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ generic.Locker = (*Locker)(nil)

// Lock polls until the key is acquired or ctx is done. A done context
// yields generic.ErrLockTimeout.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, generic.ErrLockTimeout
			}
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			return l.unlocker(key, token), nil
		}
		select {
		case <-ctx.Done():
			return nil, generic.ErrLockTimeout
		case <-ticker.C:
		}
	}
}

func (l *Locker) unlocker(key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be done; the key expires
			// after ttl if this fails.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = unlockScript.Run(ctx, l.client, []string{key}, token).Err()
		})
	}
}
