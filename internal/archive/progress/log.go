package progress

import (
	"time"

	"github.com/lk2023060901/glacier-archiver/internal/archive/types"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
	"go.uber.org/zap"
)

// LogReporter writes every outcome as a structured log line.
type LogReporter struct {
	logger *logger.Logger
}

func NewLogReporter(log *logger.Logger) *LogReporter {
	if log == nil {
		log = logger.NewNop()
	}
	return &LogReporter{logger: log.Named("progress")}
}

func (r *LogReporter) StoreSucceeded(req types.StoreRequest, url string, size int64) {
	r.logger.Info("file stored", zap.String("request_id", req.ID), zap.String("url", url), logger.Size(size))
}

func (r *LogReporter) StoreSucceededPending(req types.StoreRequest, url string, size int64) {
	r.logger.Info("file stored, upload pending", zap.String("request_id", req.ID), zap.String("url", url), logger.Size(size))
}

func (r *LogReporter) StoreFailed(req types.StoreRequest, cause error) {
	r.logger.Error("failed to store file", zap.String("request_id", req.ID), zap.String("file", req.Entry.FileName), zap.Error(cause))
}

func (r *LogReporter) RetrieveSucceeded(req types.RetrieveRequest, path string, size int64, expiresAt *time.Time) {
	fields := []zap.Field{zap.String("request_id", req.ID), zap.String("path", path), logger.Size(size)}
	if expiresAt != nil {
		fields = append(fields, zap.Time("expires_at", *expiresAt))
	}
	r.logger.Info("file retrieved", fields...)
}

func (r *LogReporter) RetrieveFailed(req types.RetrieveRequest, cause error) {
	r.logger.Error("failed to retrieve file", zap.String("request_id", req.ID), zap.String("url", req.Location), zap.Error(cause))
}

func (r *LogReporter) DeleteSucceeded(req types.DeleteRequest) {
	r.logger.Info("file deleted", zap.String("request_id", req.ID), zap.String("url", req.Location))
}

func (r *LogReporter) DeleteSucceededPending(req types.DeleteRequest) {
	r.logger.Info("file deleted, archive rewrite pending", zap.String("request_id", req.ID), zap.String("url", req.Location))
}

func (r *LogReporter) DeleteFailed(req types.DeleteRequest, cause error) {
	r.logger.Error("failed to delete file", zap.String("request_id", req.ID), zap.String("url", req.Location), zap.Error(cause))
}

func (r *LogReporter) PendingActionSucceeded(url string) {
	r.logger.Info("pending action succeeded", zap.String("url", url))
}

func (r *LogReporter) PendingActionFailed(url string, cause error) {
	r.logger.Warn("pending action failed", zap.String("url", url), zap.Error(cause))
}

func (r *LogReporter) ArchiveDeleted(url string) {
	r.logger.Info("empty archive deleted", zap.String("url", url))
}

func (r *LogReporter) AllPendingActionsProcessed() {
	r.logger.Debug("all pending actions processed")
}

// Multi fans every callback out to several reporters in order.
type Multi []Reporter

func (m Multi) StoreSucceeded(req types.StoreRequest, url string, size int64) {
	for _, r := range m {
		r.StoreSucceeded(req, url, size)
	}
}

func (m Multi) StoreSucceededPending(req types.StoreRequest, url string, size int64) {
	for _, r := range m {
		r.StoreSucceededPending(req, url, size)
	}
}

func (m Multi) StoreFailed(req types.StoreRequest, cause error) {
	for _, r := range m {
		r.StoreFailed(req, cause)
	}
}

func (m Multi) RetrieveSucceeded(req types.RetrieveRequest, path string, size int64, expiresAt *time.Time) {
	for _, r := range m {
		r.RetrieveSucceeded(req, path, size, expiresAt)
	}
}

func (m Multi) RetrieveFailed(req types.RetrieveRequest, cause error) {
	for _, r := range m {
		r.RetrieveFailed(req, cause)
	}
}

func (m Multi) DeleteSucceeded(req types.DeleteRequest) {
	for _, r := range m {
		r.DeleteSucceeded(req)
	}
}

func (m Multi) DeleteSucceededPending(req types.DeleteRequest) {
	for _, r := range m {
		r.DeleteSucceededPending(req)
	}
}

func (m Multi) DeleteFailed(req types.DeleteRequest, cause error) {
	for _, r := range m {
		r.DeleteFailed(req, cause)
	}
}

func (m Multi) PendingActionSucceeded(url string) {
	for _, r := range m {
		r.PendingActionSucceeded(url)
	}
}

func (m Multi) PendingActionFailed(url string, cause error) {
	for _, r := range m {
		r.PendingActionFailed(url, cause)
	}
}

func (m Multi) ArchiveDeleted(url string) {
	for _, r := range m {
		r.ArchiveDeleted(url)
	}
}

func (m Multi) AllPendingActionsProcessed() {
	for _, r := range m {
		r.AllPendingActionsProcessed()
	}
}
