package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var ErrPoolClosed = errors.New("worker pool is closed")

// Config Worker Pool 配置
type Config struct {
	Workers         int           `mapstructure:"workers"`          // 并行任务数
	ExpiryDuration  time.Duration `mapstructure:"expiry_duration"`  // 空闲 worker 回收时间
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"` // 关闭时等待运行中任务的时间
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Workers:         20,
		ExpiryDuration:  time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Statistics 统计信息
type Statistics struct {
	Submitted int64 // 已提交
	Completed int64 // 已完成
	Panicked  int64 // 发生 panic
	Running   int64 // 运行中
}

// Pool 基于 ants 的有界并行执行器
type Pool struct {
	pool   *ants.Pool
	config *Config
	logger *logger.Logger

	submitted atomic.Int64
	completed atomic.Int64
	panicked  atomic.Int64
	running   atomic.Int64
}

// New 创建 Worker Pool
func New(config *Config, log *logger.Logger) (*Pool, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Workers <= 0 {
		return nil, fmt.Errorf("worker pool: workers must be > 0, got %d", config.Workers)
	}
	if log == nil {
		log = logger.NewNop()
	}

	p := &Pool{config: config, logger: log.Named("workerpool")}

	opts := []ants.Option{
		ants.WithPanicHandler(func(v any) {
			p.panicked.Add(1)
			p.logger.Error("worker panic", zap.Any("error", v))
		}),
	}
	if config.ExpiryDuration > 0 {
		opts = append(opts, ants.WithExpiryDuration(config.ExpiryDuration))
	}

	antsPool, err := ants.NewPool(config.Workers, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}
	p.pool = antsPool
	return p, nil
}

// Submit 提交任务，worker 全忙时阻塞等待
func (p *Pool) Submit(task func()) error {
	p.submitted.Add(1)
	err := p.pool.Submit(func() {
		p.running.Add(1)
		defer func() {
			p.running.Add(-1)
			p.completed.Add(1)
		}()
		task()
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		p.submitted.Add(-1)
		return ErrPoolClosed
	}
	if err != nil {
		p.submitted.Add(-1)
	}
	return err
}

// Run 并行执行一批任务并等待全部结束。
// 提交失败（池已关闭或 ctx 已取消）的任务由调用方在返回的索引列表中得到，不会被执行。
func (p *Pool) Run(ctx context.Context, tasks []func(ctx context.Context)) (rejected []int) {
	var wg sync.WaitGroup
	for i, task := range tasks {
		if ctx.Err() != nil {
			rejected = append(rejected, i)
			continue
		}
		wg.Add(1)
		task := task
		if err := p.Submit(func() {
			defer wg.Done()
			task(ctx)
		}); err != nil {
			wg.Done()
			p.logger.Warn("task rejected", zap.Int("index", i), zap.Error(err))
			rejected = append(rejected, i)
		}
	}
	wg.Wait()
	return rejected
}

// Stats 返回统计信息快照
func (p *Pool) Stats() Statistics {
	return Statistics{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
		Running:   p.running.Load(),
	}
}

// Cap 返回并行度
func (p *Pool) Cap() int {
	return p.pool.Cap()
}

// Shutdown 关闭，等待运行中的任务最多 ShutdownTimeout
func (p *Pool) Shutdown() {
	timeout := p.config.ShutdownTimeout
	if timeout <= 0 {
		p.pool.Release()
		return
	}
	if err := p.pool.ReleaseTimeout(timeout); err != nil {
		p.logger.Warn("worker pool released with running tasks", zap.Error(err))
	}
}
