// Package service drives the archive engine from the outside: periodic flush and cache
// clean runs for the long-lived server.
package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lk2023060901/glacier-archiver/internal/archive/biz"
	"github.com/lk2023060901/glacier-archiver/internal/archive/progress"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
	"go.uber.org/zap"
)

// PeriodicRunner 周期任务的执行方, 由 *biz.Archiver 实现
type PeriodicRunner interface {
	RunPeriodicAction(ctx context.Context, rep progress.PeriodicReporter)
	CleanCache(ctx context.Context) (biz.CleanReport, error)
}

// SchedulerConfig 调度参数
type SchedulerConfig struct {
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	CleanInterval time.Duration `mapstructure:"clean_interval"`
	RunOnStart    bool          `mapstructure:"run_on_start"`
}

// DefaultSchedulerConfig 默认调度参数
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		FlushInterval: 10 * time.Minute,
		CleanInterval: time.Hour,
	}
}

// Validate 校验参数
func (c SchedulerConfig) Validate() error {
	if c.FlushInterval <= 0 || c.CleanInterval <= 0 {
		return errors.New("scheduler: flush and clean intervals must be > 0")
	}
	return nil
}

// Scheduler 定时触发归档上传和缓存清理
type Scheduler struct {
	runner   PeriodicRunner
	reporter progress.Reporter
	config   SchedulerConfig
	logger   *logger.Logger

	flushing atomic.Bool
	cleaning atomic.Bool
	flushes  atomic.Int64
	cleans   atomic.Int64

	wg      sync.WaitGroup
	stopCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewScheduler 创建调度器, reporter 为 nil 时只记录日志
func NewScheduler(runner PeriodicRunner, reporter progress.Reporter, config SchedulerConfig, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.L()
	}
	log = log.Named("scheduler")
	if reporter == nil {
		reporter = progress.NewLogReporter(log)
	}
	return &Scheduler{
		runner:   runner,
		reporter: reporter,
		config:   config,
		logger:   log,
	}
}

// Start 启动调度循环
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler already running")
	}
	if err := s.config.Validate(); err != nil {
		return err
	}

	s.running = true
	s.stopCh = make(chan struct{})
	s.logger.Info("starting scheduler",
		zap.Duration("flush_interval", s.config.FlushInterval),
		zap.Duration("clean_interval", s.config.CleanInterval),
	)

	s.wg.Add(2)
	go s.loop(ctx, "flush", s.config.FlushInterval, s.Flush)
	go s.loop(ctx, "clean", s.config.CleanInterval, s.Clean)
	return nil
}

// Stop 停止调度并等待进行中的任务结束
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.logger.Info("stopping scheduler")
	close(s.stopCh)
	s.wg.Wait()
	s.running = false
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, run func(ctx context.Context) bool) {
	defer s.wg.Done()

	log := s.logger.With(zap.String("job", name))
	if s.config.RunOnStart {
		run(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			log.Debug("job loop stopping")
			return
		case <-ctx.Done():
			log.Debug("context cancelled, job loop stopping")
			return
		case <-ticker.C:
			if !run(ctx) {
				log.Warn("previous run still in progress, tick skipped")
			}
		}
	}
}

// Flush 执行一次上传, 已有上传在进行时直接返回 false
func (s *Scheduler) Flush(ctx context.Context) bool {
	if !s.flushing.CompareAndSwap(false, true) {
		return false
	}
	defer s.flushing.Store(false)

	tracker := progress.NewTracker("periodic action", s.reporter, s.logger)
	s.runner.RunPeriodicAction(ctx, tracker)
	tracker.Complete()
	s.flushes.Add(1)
	return true
}

// Clean 执行一次缓存清理, 已有清理在进行时直接返回 false
func (s *Scheduler) Clean(ctx context.Context) bool {
	if !s.cleaning.CompareAndSwap(false, true) {
		return false
	}
	defer s.cleaning.Store(false)

	if _, err := s.runner.CleanCache(ctx); err != nil {
		s.logger.Error("cache clean failed", zap.Error(err))
	}
	s.cleans.Add(1)
	return true
}

// Runs 返回已完成的上传和清理次数
func (s *Scheduler) Runs() (flushes, cleans int64) {
	return s.flushes.Load(), s.cleans.Load()
}
