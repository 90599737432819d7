// Package biz implements the small-file archiving engine: aggregation of small files into
// rolling zip archives, periodic flush to cold storage, restore, delete and pending-action
// reconciliation. Every per-file operation runs on the worker pool under the lock names
// lockkey.For derives for it.
package biz

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/lk2023060901/glacier-archiver/internal/archive/naming"
	"github.com/lk2023060901/glacier-archiver/internal/archive/types"
	"github.com/lk2023060901/glacier-archiver/internal/archive/workspace"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/lock"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/workerpool"
)

// ObjectStore 冷存储能力
type ObjectStore interface {
	// Put 上传 size 字节, md5 为十六进制摘要(可为空), 超过分片阈值时由实现走分片上传
	Put(ctx context.Context, key string, r io.Reader, size int64, md5 string) error
	// Get 读取对象, 不存在返回 ErrNotFound
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete 删除对象, 不存在视为成功
	Delete(ctx context.Context, key string) error
	// Status 查询恢复状态, 不存在返回 ErrNotFound
	Status(ctx context.Context, key string) (types.ObjectStatus, error)
	// Restore 发起恢复, 可能返回 ErrNotFound / ErrInvalidObjectState / ErrRestoreInProgress
	Restore(ctx context.Context, key string) error
}

// Config 归档引擎参数
type Config struct {
	RootPath string

	SmallFileMaxSize  int64         // 小于等于该值的文件进入归档
	ArchiveMaxSize    int64         // 单个归档的最大字节数
	ArchiveMaxEntries int           // 单个归档的最大文件数, 0 表示不限
	ArchiveMaxAge     time.Duration // current 目录超过该时长后被关闭上传
	CacheLifetime     time.Duration // 缓存目录中文件的保留时长

	AccessTimeout       time.Duration // 等待冷存储恢复的最长时间
	RestoreInitialDelay time.Duration // 恢复轮询初始间隔, 之后翻倍
	UnreachableAttempts int           // 轮询期间容忍的连续错误次数
	CleanAcquireTimeout time.Duration // 清理缓存时等待归档锁的时间
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		SmallFileMaxSize:    1 << 20,
		ArchiveMaxSize:      10 << 20,
		ArchiveMaxAge:       24 * time.Hour,
		CacheLifetime:       24 * time.Hour,
		AccessTimeout:       time.Hour,
		RestoreInitialDelay: time.Second,
		UnreachableAttempts: 5,
		CleanAcquireTimeout: time.Minute,
	}
}

// Validate 校验参数
func (c Config) Validate() error {
	if c.ArchiveMaxSize <= 0 {
		return errors.New("archive: archive max size must be > 0")
	}
	if c.SmallFileMaxSize > c.ArchiveMaxSize {
		return fmt.Errorf("archive: small file max size %d exceeds archive max size %d", c.SmallFileMaxSize, c.ArchiveMaxSize)
	}
	if c.ArchiveMaxEntries < 0 {
		return errors.New("archive: archive max entries must be >= 0")
	}
	if c.ArchiveMaxAge <= 0 || c.CacheLifetime <= 0 {
		return errors.New("archive: archive max age and cache lifetime must be > 0")
	}
	if c.AccessTimeout <= 0 || c.RestoreInitialDelay <= 0 {
		return errors.New("archive: access timeout and restore initial delay must be > 0")
	}
	return nil
}

// Archiver 归档引擎
type Archiver struct {
	cfg    Config
	ws     *workspace.Workspace
	store  ObjectStore
	locks  *lock.Service
	pool   *workerpool.Pool
	logger *logger.Logger
	now    func() time.Time

	// 每个节点最近使用的归档时间戳, 保证同一节点的归档名严格递增
	stampMu sync.Mutex
	stamps  map[string]time.Time
}

// Option 可选项
type Option func(*Archiver)

// WithClock 替换时钟, 用于测试
func WithClock(now func() time.Time) Option {
	return func(a *Archiver) { a.now = now }
}

// NewArchiver 创建归档引擎
func NewArchiver(cfg Config, ws *workspace.Workspace, store ObjectStore, locks *lock.Service, pool *workerpool.Pool, log *logger.Logger, opts ...Option) (*Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ws == nil || store == nil || locks == nil || pool == nil {
		return nil, errors.New("archive: workspace, store, locks and pool are required")
	}
	if cfg.UnreachableAttempts <= 0 {
		cfg.UnreachableAttempts = 1
	}
	if cfg.CleanAcquireTimeout <= 0 {
		cfg.CleanAcquireTimeout = DefaultConfig().CleanAcquireTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}
	cfg.RootPath = naming.Join(cfg.RootPath)

	a := &Archiver{
		cfg:    cfg,
		ws:     ws,
		store:  store,
		locks:  locks,
		pool:   pool,
		logger: log.Named("archiver"),
		now:    time.Now,
		stamps: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Config 返回生效的参数
func (a *Archiver) Config() Config {
	return a.cfg
}

// Workspace 返回本地工作区
func (a *Archiver) Workspace() *workspace.Workspace {
	return a.ws
}

// parseLocation resolves a storage URL of this root.
func (a *Archiver) parseLocation(url string) (naming.Location, error) {
	loc, err := naming.ParseURL(a.cfg.RootPath, url)
	if err != nil {
		return naming.Location{}, fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}
	return loc, nil
}

func (a *Archiver) archiveKey(node, ts string) string {
	return naming.ArchiveKey(a.cfg.RootPath, node, ts)
}

// nextTimestamp returns a timestamp for a new building directory of node, strictly after
// every timestamp already used for it.
func (a *Archiver) nextTimestamp(node string) (time.Time, error) {
	onDisk, err := a.ws.LastTimestamp(node)
	if err != nil {
		return time.Time{}, err
	}

	a.stampMu.Lock()
	defer a.stampMu.Unlock()
	last := a.stamps[node]
	if onDisk.After(last) {
		last = onDisk
	}
	ts := naming.NextTimestamp(a.now(), last)
	a.stamps[node] = ts
	return ts, nil
}

// exists reports whether the remote object is present.
func (a *Archiver) exists(ctx context.Context, key string) (bool, error) {
	_, err := a.store.Status(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
