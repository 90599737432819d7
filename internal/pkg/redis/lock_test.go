package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log, err := logger.New(&logger.Config{Level: "debug", Format: "json", Output: "console"})
	require.NoError(t, err)

	return NewFromUniversal(rdb, DefaultConfig(), log), mr
}

func TestDistributedLock(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()
	const name = "LOCK_/root/node_STORE"

	t.Run("acquire and release", func(t *testing.T) {
		token, err := client.Lock(ctx, name, time.Minute)
		require.NoError(t, err)
		require.NotEmpty(t, token)
		assert.True(t, mr.Exists("glacier:"+name))

		_, err = client.Lock(ctx, name, time.Minute)
		assert.ErrorIs(t, err, ErrLockHeld)

		require.NoError(t, client.Unlock(ctx, name, token))
		assert.False(t, mr.Exists("glacier:"+name))
	})

	t.Run("foreign token cannot release", func(t *testing.T) {
		token, err := client.Lock(ctx, name, time.Minute)
		require.NoError(t, err)

		assert.ErrorIs(t, client.Unlock(ctx, name, "not-mine"), ErrLockNotHeld)
		require.NoError(t, client.Unlock(ctx, name, token))
	})

	t.Run("renew extends ttl", func(t *testing.T) {
		token, err := client.Lock(ctx, name, time.Second)
		require.NoError(t, err)

		require.NoError(t, client.Renew(ctx, name, token, time.Minute))
		assert.Greater(t, mr.TTL("glacier:"+name), 30*time.Second)

		assert.ErrorIs(t, client.Renew(ctx, name, "not-mine", time.Minute), ErrLockNotHeld)
		require.NoError(t, client.Unlock(ctx, name, token))
	})

	t.Run("expired lock can be taken again", func(t *testing.T) {
		token, err := client.Lock(ctx, name, time.Second)
		require.NoError(t, err)

		mr.FastForward(2 * time.Second)
		assert.ErrorIs(t, client.Renew(ctx, name, token, time.Minute), ErrLockNotHeld)

		other, err := client.Lock(ctx, name, time.Minute)
		require.NoError(t, err)
		require.NoError(t, client.Unlock(ctx, name, other))
	})
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Mode = ModeSentinel
	assert.Error(t, cfg.Validate())
	cfg.SentinelAddrs = []string{"localhost:26379"}
	cfg.MasterName = "mymaster"
	assert.NoError(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Mode = "read-write"
	assert.Error(t, cfg.Validate())
}
