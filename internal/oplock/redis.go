// Package oplock provides a Redis-backed single-writer lock so several API
// replicas serialize vault mutations through one key.
package oplock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultKey    = "capvault:oplock"
	defaultTries  = 120
	defaultDelay  = 250 * time.Millisecond
	defaultExpiry = 60 * time.Second
)

var ErrEmptyKey = errors.New("lock key cannot be empty")

// Options tune lock acquisition.
type Options struct {
	Key        string
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

// Redis hands out a cluster-wide exclusive lock. While held, the lock is
// extended in the background every half expiry, so operations that wait on
// slow external calls keep ownership.
type Redis struct {
	rs     *redsync.Redsync
	opts   Options
	logger *slog.Logger
}

func NewRedis(client *redis.Client, opts Options, logger *slog.Logger) (*Redis, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.Expiry <= 0 {
		opts.Expiry = defaultExpiry
	}
	if opts.Tries <= 0 {
		opts.Tries = defaultTries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts,
		logger: logger,
	}, nil
}

// Lock blocks until the lock is acquired, the tries are exhausted or ctx is
// done. The returned func releases it and must be called exactly once.
func (r *Redis) Lock(ctx context.Context) (func(), error) {
	mutex := r.rs.NewMutex(
		r.opts.Key,
		redsync.WithExpiry(r.opts.Expiry),
		redsync.WithTries(r.opts.Tries),
		redsync.WithRetryDelay(r.opts.RetryDelay),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", r.opts.Key, err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(mutex, stop, done)

	return func() {
		close(stop)
		<-done
		// Release must happen even if the caller's context was cancelled.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if ok, err := mutex.UnlockContext(releaseCtx); !ok || err != nil {
			r.logger.Error("failed to release operation lock",
				slog.String("lock_key", r.opts.Key), slog.Bool("unlock_ok", ok), slog.Any("error", err))
		}
	}, nil
}

func (r *Redis) keepAlive(mutex *redsync.Mutex, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.opts.Expiry / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.opts.Expiry/2)
			ok, err := mutex.ExtendContext(ctx)
			cancel()
			if !ok || err != nil {
				r.logger.Warn("failed to extend operation lock",
					slog.String("lock_key", r.opts.Key), slog.Any("error", err))
			}
		}
	}
}
