// Package data implements the cold-storage capability the archive engine consumes, on top of
// the MinIO and AWS S3 clients, plus an in-memory store.
package data

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/lk2023060901/glacier-archiver/internal/archive/biz"
	"github.com/lk2023060901/glacier-archiver/internal/archive/types"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
	pkgminio "github.com/lk2023060901/glacier-archiver/internal/pkg/minio"
)

// StoreOptions 存储后端公共参数
type StoreOptions struct {
	Bucket             string
	MultipartThreshold int64  // 超过该字节数走分片上传, 也是分片大小
	RestoreDays        int    // 恢复副本保留天数
	RestoreTier        string // Standard / Bulk / Expedited
}

func (o StoreOptions) withDefaults() StoreOptions {
	if o.MultipartThreshold <= 0 {
		o.MultipartThreshold = 5 << 20
	}
	if o.RestoreDays <= 0 {
		o.RestoreDays = 1
	}
	if o.RestoreTier == "" {
		o.RestoreTier = "Standard"
	}
	return o
}

// MinIOStore 基于 MinIO 客户端的冷存储
type MinIOStore struct {
	client *pkgminio.Client
	opts   StoreOptions
	logger *logger.Logger
	now    func() time.Time
}

var _ biz.ObjectStore = (*MinIOStore)(nil)

// NewMinIOStore 创建 MinIO 冷存储
func NewMinIOStore(client *pkgminio.Client, opts StoreOptions, lgr *logger.Logger) *MinIOStore {
	if lgr == nil {
		lgr = logger.L()
	}
	return &MinIOStore{client: client, opts: opts.withDefaults(), logger: lgr.Named("minio-store"), now: time.Now}
}

// EnsureBucket 确保 Bucket 存在
func (s *MinIOStore) EnsureBucket(ctx context.Context) error {
	return s.client.EnsureBucket(ctx, s.opts.Bucket)
}

// Put 上传对象, 超过阈值时由 minio-go 按 MultipartThreshold 分片
func (s *MinIOStore) Put(ctx context.Context, key string, r io.Reader, size int64, md5 string) error {
	_, err := s.client.PutObject(ctx, s.opts.Bucket, key, r, size, uint64(s.opts.MultipartThreshold), md5 != "")
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// Get 下载对象
func (s *MinIOStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.opts.Bucket, key)
	if err != nil {
		return nil, mapMinIOError(key, err)
	}
	// GetObject is lazy: a missing key only shows on the first request
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, mapMinIOError(key, err)
	}
	return obj, nil
}

// Delete 删除对象, 不存在视为成功
func (s *MinIOStore) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.opts.Bucket, key)
	if err != nil && !pkgminio.IsNotFound(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Status 查询恢复状态
func (s *MinIOStore) Status(ctx context.Context, key string) (types.ObjectStatus, error) {
	info, err := s.client.StatObject(ctx, s.opts.Bucket, key)
	if err != nil {
		return types.ObjectStatus{}, mapMinIOError(key, err)
	}
	r := restoreState{}
	if info.Restore != nil {
		r = restoreState{present: true, ongoing: info.Restore.Ongoing, expiry: info.Restore.ExpiryTime}
	}
	return objectStatus(info.StorageClass, info.Size, r, s.now()), nil
}

// Restore 发起恢复
func (s *MinIOStore) Restore(ctx context.Context, key string) error {
	if err := s.client.RestoreObject(ctx, s.opts.Bucket, key, s.opts.RestoreDays, s.opts.RestoreTier); err != nil {
		return mapMinIOError(key, err)
	}
	return nil
}

func mapMinIOError(key string, err error) error {
	switch {
	case pkgminio.IsNotFound(err):
		return fmt.Errorf("%w: %s: %v", biz.ErrNotFound, key, err)
	case pkgminio.IsInvalidObjectState(err):
		return fmt.Errorf("%w: %s: %v", biz.ErrInvalidObjectState, key, err)
	case pkgminio.IsRestoreInProgress(err):
		return fmt.Errorf("%w: %s: %v", biz.ErrRestoreInProgress, key, err)
	default:
		return fmt.Errorf("%s: %w", key, err)
	}
}
