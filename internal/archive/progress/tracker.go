package progress

import (
	"sync/atomic"
	"time"

	"github.com/lk2023060901/glacier-archiver/internal/archive/types"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
	"go.uber.org/zap"
)

// Reporter 同时实现全部四种回调
type Reporter interface {
	StorageReporter
	RetrieveReporter
	DeletionReporter
	PeriodicReporter
}

// Tracker 批量任务进度跟踪器, 统计结果后转发给下游 Reporter
type Tracker struct {
	next   Reporter
	logger *logger.Logger
	name   string
	start  time.Time

	completed    atomic.Int32
	successCount atomic.Int32
	pendingCount atomic.Int32
	failedCount  atomic.Int32
}

// NewTracker 创建进度跟踪器, next 为 nil 时只统计
func NewTracker(name string, next Reporter, log *logger.Logger) *Tracker {
	if next == nil {
		next = Nop{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Tracker{next: next, logger: log, name: name, start: time.Now()}
}

func (t *Tracker) success() {
	t.successCount.Add(1)
	t.completed.Add(1)
}

func (t *Tracker) pending() {
	t.pendingCount.Add(1)
	t.completed.Add(1)
}

func (t *Tracker) failure() {
	t.failedCount.Add(1)
	t.completed.Add(1)
}

func (t *Tracker) StoreSucceeded(req types.StoreRequest, url string, size int64) {
	t.success()
	t.next.StoreSucceeded(req, url, size)
}

func (t *Tracker) StoreSucceededPending(req types.StoreRequest, url string, size int64) {
	t.pending()
	t.next.StoreSucceededPending(req, url, size)
}

func (t *Tracker) StoreFailed(req types.StoreRequest, cause error) {
	t.failure()
	t.next.StoreFailed(req, cause)
}

func (t *Tracker) RetrieveSucceeded(req types.RetrieveRequest, path string, size int64, expiresAt *time.Time) {
	t.success()
	t.next.RetrieveSucceeded(req, path, size, expiresAt)
}

func (t *Tracker) RetrieveFailed(req types.RetrieveRequest, cause error) {
	t.failure()
	t.next.RetrieveFailed(req, cause)
}

func (t *Tracker) DeleteSucceeded(req types.DeleteRequest) {
	t.success()
	t.next.DeleteSucceeded(req)
}

func (t *Tracker) DeleteSucceededPending(req types.DeleteRequest) {
	t.pending()
	t.next.DeleteSucceededPending(req)
}

func (t *Tracker) DeleteFailed(req types.DeleteRequest, cause error) {
	t.failure()
	t.next.DeleteFailed(req, cause)
}

func (t *Tracker) PendingActionSucceeded(url string) {
	t.success()
	t.next.PendingActionSucceeded(url)
}

func (t *Tracker) PendingActionFailed(url string, cause error) {
	t.failure()
	t.next.PendingActionFailed(url, cause)
}

func (t *Tracker) ArchiveDeleted(url string) {
	t.success()
	t.next.ArchiveDeleted(url)
}

func (t *Tracker) AllPendingActionsProcessed() {
	t.next.AllPendingActionsProcessed()
}

// Complete 输出汇总日志
func (t *Tracker) Complete() {
	completed, success, pending, failed := t.GetStats()
	t.logger.Info("batch completed",
		zap.String("batch", t.name),
		zap.Int("completed", completed),
		zap.Int("succeeded", success),
		zap.Int("pending", pending),
		zap.Int("failed", failed),
		logger.Elapsed(t.start),
	)
}

// GetStats 获取当前统计信息
func (t *Tracker) GetStats() (completed, success, pending, failed int) {
	return int(t.completed.Load()), int(t.successCount.Load()), int(t.pendingCount.Load()), int(t.failedCount.Load())
}

// GetSuccessRate 获取成功率(0-100), pending 计为成功
func (t *Tracker) GetSuccessRate() float64 {
	completed := int(t.completed.Load())
	if completed == 0 {
		return 0
	}
	ok := int(t.successCount.Load()) + int(t.pendingCount.Load())
	return float64(ok) / float64(completed) * 100
}
