package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/redis"
	"go.uber.org/zap"
)

// redisClient is the subset of *redis.Client used here.
type redisClient interface {
	Lock(ctx context.Context, name string, ttl time.Duration) (string, error)
	Unlock(ctx context.Context, name, token string) error
	Renew(ctx context.Context, name, token string, ttl time.Duration) error
}

type redisLocks struct {
	client redisClient
	local  *localLocks
	opts   Options
	logger *logger.Logger

	mu     sync.Mutex
	tokens map[string]string
}

func (r *redisLocks) acquire(ctx context.Context, name string, deadline time.Time) (func(), error) {
	releaseLocal, err := r.local.acquire(ctx, name, deadline)
	if err != nil {
		return nil, err
	}

	for {
		token, err := r.client.Lock(ctx, name, r.opts.TTL)
		if err == nil {
			r.setToken(name, token)
			return func() {
				r.release(name, token)
				releaseLocal()
			}, nil
		}
		if !errors.Is(err, redis.ErrLockHeld) {
			releaseLocal()
			return nil, err
		}
		if err := sleep(ctx, r.opts.RetryDelay, deadline); err != nil {
			releaseLocal()
			return nil, err
		}
	}
}

func (r *redisLocks) release(name, token string) {
	r.mu.Lock()
	delete(r.tokens, name)
	r.mu.Unlock()

	// the task context may already be canceled; the lock must still be freed
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Unlock(ctx, name, token); err != nil {
		r.logger.Warn("failed to release redis lock", logger.LockName(name), zap.Error(err))
	}
}

func (r *redisLocks) setToken(name, token string) {
	r.mu.Lock()
	r.tokens[name] = token
	r.mu.Unlock()
}

func (r *redisLocks) renew(ctx context.Context, name string) error {
	r.mu.Lock()
	token, ok := r.tokens[name]
	r.mu.Unlock()
	if !ok {
		return ErrNotHeld
	}
	if err := r.client.Renew(ctx, name, token, r.opts.TTL); err != nil {
		if errors.Is(err, redis.ErrLockNotHeld) {
			return ErrNotHeld
		}
		return err
	}
	return nil
}

// NewRedis returns a Service whose locks exclude every process sharing the Redis deployment.
func NewRedis(client *redis.Client, opts Options, log *logger.Logger) *Service {
	return newRedisService(client, opts, log)
}

func newRedisService(client redisClient, opts Options, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	b := &redisLocks{
		client: client,
		local:  newLocalLocks(),
		opts:   opts.withDefaults(),
		logger: log.Named("lock"),
		tokens: make(map[string]string),
	}
	return newService("redis", b, opts, log)
}
