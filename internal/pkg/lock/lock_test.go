package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		TTL:         2 * time.Second,
		WaitTimeout: 2 * time.Second,
		RetryDelay:  5 * time.Millisecond,
		RenewMargin: 1900 * time.Millisecond,
	}
}

// services builds one Service per backend; the Redis one runs against miniredis.
func services(t *testing.T) map[string]*Service {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	client := redis.NewFromUniversal(rdb, redis.DefaultConfig(), logger.NewNop())

	fileSvc, err := NewFile(t.TempDir(), testOptions(), logger.NewNop())
	require.NoError(t, err)

	return map[string]*Service{
		"local": NewLocal(testOptions(), logger.NewNop()),
		"redis": NewRedis(client, testOptions(), logger.NewNop()),
		"file":  fileSvc,
	}
}

func TestMutualExclusion(t *testing.T) {
	for kind, svc := range services(t) {
		t.Run(kind, func(t *testing.T) {
			assert.Equal(t, kind, svc.Kind())

			var inside, maxInside atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := svc.RunWithLock(context.Background(), "LOCK_/root/a_STORE", func(ctx context.Context) error {
						n := inside.Add(1)
						for {
							m := maxInside.Load()
							if n <= m || maxInside.CompareAndSwap(m, n) {
								break
							}
						}
						time.Sleep(5 * time.Millisecond)
						inside.Add(-1)
						return nil
					})
					assert.NoError(t, err)
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), maxInside.Load())
		})
	}
}

func TestDistinctNamesRunConcurrently(t *testing.T) {
	for kind, svc := range services(t) {
		t.Run(kind, func(t *testing.T) {
			entered := make(chan struct{})
			release := make(chan struct{})

			go func() {
				_ = svc.RunWithLock(context.Background(), "LOCK_/root/a_STORE", func(ctx context.Context) error {
					close(entered)
					<-release
					return nil
				})
			}()
			<-entered

			ran, err := svc.TryRunWithLock(context.Background(), "LOCK_/root/b_STORE", 100*time.Millisecond,
				func(ctx context.Context) error { return nil })
			close(release)
			require.NoError(t, err)
			assert.True(t, ran)
		})
	}
}

func TestTimeout(t *testing.T) {
	for kind, svc := range services(t) {
		t.Run(kind, func(t *testing.T) {
			held := make(chan struct{})
			release := make(chan struct{})
			done := make(chan struct{})
			go func() {
				defer close(done)
				_ = svc.RunWithLock(context.Background(), "n", func(ctx context.Context) error {
					close(held)
					<-release
					return nil
				})
			}()
			<-held

			ran, err := svc.TryRunWithLock(context.Background(), "n", 20*time.Millisecond,
				func(ctx context.Context) error { return nil })
			require.NoError(t, err)
			assert.False(t, ran)

			close(release)
			<-done

			ran, err = svc.TryRunWithLock(context.Background(), "n", 20*time.Millisecond,
				func(ctx context.Context) error { return nil })
			require.NoError(t, err)
			assert.True(t, ran)
		})
	}
}

func TestRunWithLockTimeoutError(t *testing.T) {
	opts := testOptions()
	opts.WaitTimeout = 10 * time.Millisecond
	svc := NewLocal(opts, nil)

	err := svc.RunWithLock(context.Background(), "n", func(ctx context.Context) error {
		return svc.RunWithLock(ctx, "n", func(ctx context.Context) error { return nil })
	})
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestErrorAndPanicRelease(t *testing.T) {
	svc := NewLocal(testOptions(), nil)
	boom := errors.New("boom")

	err := svc.RunWithLock(context.Background(), "n", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	assert.Panics(t, func() {
		_ = svc.RunWithLock(context.Background(), "n", func(ctx context.Context) error { panic("task") })
	})

	ran, err := svc.TryRunWithLock(context.Background(), "n", 10*time.Millisecond,
		func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestLocalEviction(t *testing.T) {
	locks := newLocalLocks()
	release, err := locks.acquire(context.Background(), "a", time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, locks.size())
	require.NoError(t, locks.renew(context.Background(), "a"))

	release()
	assert.Equal(t, 0, locks.size())
	assert.ErrorIs(t, locks.renew(context.Background(), "a"), ErrNotHeld)
}

func TestContextCancel(t *testing.T) {
	svc := NewLocal(testOptions(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	err := svc.RunWithLock(context.Background(), "n", func(context.Context) error {
		cancel()
		_, err := svc.TryRunWithLock(ctx, "n", time.Second, func(context.Context) error { return nil })
		return err
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRenew(t *testing.T) {
	for kind, svc := range services(t) {
		t.Run(kind, func(t *testing.T) {
			assert.ErrorIs(t, svc.Renew(context.Background(), "n"), ErrNotHeld)
			err := svc.RunWithLock(context.Background(), "n", func(ctx context.Context) error {
				return svc.Renew(ctx, "n")
			})
			assert.NoError(t, err)
		})
	}
}

func TestRunWithLocks(t *testing.T) {
	svc := NewLocal(testOptions(), nil)
	var order []string

	err := svc.RunWithLocks(context.Background(), []string{"archive", "node"}, func(ctx context.Context) error {
		for _, n := range []string{"archive", "node"} {
			if svc.Renew(ctx, n) == nil {
				order = append(order, n)
			}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"archive", "node"}, order)

	ran := false
	require.NoError(t, svc.RunWithLocks(context.Background(), nil, func(context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestKeepAlive(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	client := redis.NewFromUniversal(rdb, redis.DefaultConfig(), logger.NewNop())

	opts := Options{TTL: 200 * time.Millisecond, WaitTimeout: time.Second, RetryDelay: 5 * time.Millisecond, RenewMargin: 150 * time.Millisecond}
	svc := NewRedis(client, opts, logger.NewNop())
	require.Equal(t, 50*time.Millisecond, svc.Options().RenewInterval())

	err := svc.RunWithLock(context.Background(), "slow", func(ctx context.Context) error {
		stop := svc.KeepAlive(ctx, "slow")
		defer stop()

		// miniredis TTLs only move with FastForward; the renewal resets the TTL each tick
		time.Sleep(120 * time.Millisecond)
		assert.Equal(t, 200*time.Millisecond, mr.TTL("glacier:slow"))
		mr.FastForward(100 * time.Millisecond)
		time.Sleep(80 * time.Millisecond)
		assert.Equal(t, 200*time.Millisecond, mr.TTL("glacier:slow"))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists("glacier:slow"))
}

func TestRunWithLockRenewsWhileRunning(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	client := redis.NewFromUniversal(rdb, redis.DefaultConfig(), logger.NewNop())

	opts := Options{TTL: 2 * time.Second, WaitTimeout: time.Second, RetryDelay: 5 * time.Millisecond, RenewMargin: time.Second}
	holder := NewRedis(client, opts, logger.NewNop())
	other := NewRedis(client, opts, logger.NewNop())

	err := holder.RunWithLocks(context.Background(), []string{"archive", "node"}, func(ctx context.Context) error {
		// two fast-forwards add up past the TTL; only the renewal in between keeps the locks
		for i := 0; i < 3; i++ {
			time.Sleep(1250 * time.Millisecond)
			mr.FastForward(1500 * time.Millisecond)
			for _, name := range []string{"archive", "node"} {
				ran, err := other.TryRunWithLock(ctx, name, 10*time.Millisecond,
					func(ctx context.Context) error { return nil })
				require.NoError(t, err)
				assert.False(t, ran, "%s acquired by another service on round %d", name, i)
			}
		}
		return nil
	})
	require.NoError(t, err)

	ran, err := other.TryRunWithLock(context.Background(), "archive", 10*time.Millisecond,
		func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, ran)
}
