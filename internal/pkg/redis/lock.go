package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 只有持有者（token 一致）才能释放或续期
var (
	unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

	renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
)

// Lock 尝试获取一次分布式锁，成功返回 token；锁被占用时返回 ErrLockHeld
func (c *Client) Lock(ctx context.Context, name string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, c.key(name), token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	if !ok {
		return "", ErrLockHeld
	}

	c.logger.Debug("redis lock acquired", logger.LockName(name), zap.Duration("ttl", ttl))
	return token, nil
}

// Unlock 释放分布式锁
func (c *Client) Unlock(ctx context.Context, name, token string) error {
	n, err := unlockScript.Run(ctx, c.rdb, []string{c.key(name)}, token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", name, err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}

	c.logger.Debug("redis lock released", logger.LockName(name))
	return nil
}

// Renew 续期分布式锁，锁已过期或被他人持有时返回 ErrLockNotHeld
func (c *Client) Renew(ctx context.Context, name, token string, ttl time.Duration) error {
	n, err := renewScript.Run(ctx, c.rdb, []string{c.key(name)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to renew lock %s: %w", name, err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}
