package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
	"go.uber.org/zap"
)

// RunWithLocks acquires names in order through RunWithLock and runs fn once all are held.
func (s *Service) RunWithLocks(ctx context.Context, names []string, fn func(ctx context.Context) error) error {
	if len(names) == 0 {
		return fn(ctx)
	}
	return s.RunWithLock(ctx, names[0], func(ctx context.Context) error {
		return s.RunWithLocks(ctx, names[1:], fn)
	})
}

// KeepAlive renews names every RenewInterval until the returned stop function is called or
// ctx is done. A failed renewal is logged and retried on the next tick; ErrNotHeld ends the
// loop for that name.
func (s *Service) KeepAlive(ctx context.Context, names ...string) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.opts.RenewInterval())
		defer ticker.Stop()

		live := append([]string(nil), names...)
		for len(live) > 0 {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			kept := live[:0]
			for _, name := range live {
				err := s.Renew(ctx, name)
				switch {
				case err == nil:
					kept = append(kept, name)
				case errors.Is(err, ErrNotHeld):
					s.logger.Warn("lock lost, stop renewing", logger.LockName(name))
				default:
					s.logger.Warn("failed to renew lock", logger.LockName(name), zap.Error(err))
					kept = append(kept, name)
				}
			}
			live = kept
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
}
