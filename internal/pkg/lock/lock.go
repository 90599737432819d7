// Package lock provides named mutual exclusion for archive operations.
//
// A Service runs a function while holding a name. Three backends exist: an in-process one,
// a Redis one shared by every archiver process using the same Redis, and a file one shared by
// processes on the same host. The Redis and file backends also serialize goroutines of the
// current process through an in-process lock so only one goroutine polls the backend per name.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
	"go.uber.org/zap"
)

var (
	// ErrLockTimeout is returned when a name could not be acquired before the wait expired.
	ErrLockTimeout = errors.New("lock: timeout waiting for lock")
	// ErrNotHeld is returned by Renew when the name is not held by this process.
	ErrNotHeld = errors.New("lock: not held")
)

// Options tunes a Service.
type Options struct {
	// TTL bounds how long a backend keeps a lock whose holder disappeared. Holders renew it.
	TTL time.Duration
	// WaitTimeout bounds RunWithLock.
	WaitTimeout time.Duration
	// RetryDelay is the pause between two attempts on a contended backend lock.
	RetryDelay time.Duration
	// RenewMargin is how long before TTL expiry a keep-alive loop renews.
	RenewMargin time.Duration
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		TTL:         time.Minute,
		WaitTimeout: 5 * time.Minute,
		RetryDelay:  100 * time.Millisecond,
		RenewMargin: time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TTL <= 0 {
		o.TTL = d.TTL
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = d.WaitTimeout
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = d.RetryDelay
	}
	if o.RenewMargin <= 0 || o.RenewMargin >= o.TTL {
		o.RenewMargin = o.TTL / 10
	}
	return o
}

// RenewInterval is the period of a keep-alive loop.
func (o Options) RenewInterval() time.Duration {
	return o.TTL - o.RenewMargin
}

// backend is the per-name primitive each implementation provides.
type backend interface {
	// acquire blocks until name is held, ctx is done or deadline passes (ErrLockTimeout).
	acquire(ctx context.Context, name string, deadline time.Time) (release func(), err error)
	renew(ctx context.Context, name string) error
}

// Service runs functions under named locks.
type Service struct {
	backend backend
	opts    Options
	logger  *logger.Logger
	kind    string
}

func newService(kind string, b backend, opts Options, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{backend: b, opts: opts.withDefaults(), logger: log.Named("lock"), kind: kind}
}

// Kind names the backend ("local", "redis" or "file").
func (s *Service) Kind() string {
	return s.kind
}

// Options returns the effective options.
func (s *Service) Options() Options {
	return s.opts
}

// RunWithLock waits at most the configured wait timeout for name, then runs fn while
// holding it. ErrLockTimeout is returned when the lock was not acquired; fn did not run.
func (s *Service) RunWithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ok, err := s.TryRunWithLock(ctx, name, s.opts.WaitTimeout, fn)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s after %s", ErrLockTimeout, name, s.opts.WaitTimeout)
	}
	return nil
}

// TryRunWithLock waits at most timeout for name. It reports whether fn ran; a lock that could
// not be acquired in time is not an error.
func (s *Service) TryRunWithLock(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) (bool, error) {
	start := time.Now()
	release, err := s.backend.acquire(ctx, name, start.Add(timeout))
	if errors.Is(err, ErrLockTimeout) {
		s.logger.Debug("lock not acquired", logger.LockName(name), zap.Duration("timeout", timeout))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	defer release()
	stop := s.KeepAlive(ctx, name)
	defer stop()

	s.logger.Debug("lock acquired", logger.LockName(name), logger.Elapsed(start))
	return true, fn(ctx)
}

// Renew extends the backend expiry of a lock held by this process.
func (s *Service) Renew(ctx context.Context, name string) error {
	return s.backend.renew(ctx, name)
}

// sleep waits d or until ctx is done or deadline passes, whichever comes first.
func sleep(ctx context.Context, d time.Duration, deadline time.Time) error {
	if left := time.Until(deadline); left < d {
		d = left
	}
	if d <= 0 {
		return ErrLockTimeout
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
