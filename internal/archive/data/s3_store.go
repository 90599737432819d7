package data

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/lk2023060901/glacier-archiver/internal/archive/biz"
	"github.com/lk2023060901/glacier-archiver/internal/archive/types"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
	pkgs3 "github.com/lk2023060901/glacier-archiver/internal/pkg/s3"
)

// S3Store 基于 AWS SDK 的冷存储
type S3Store struct {
	client *pkgs3.Client
	opts   StoreOptions
	logger *logger.Logger
	now    func() time.Time
}

var _ biz.ObjectStore = (*S3Store)(nil)

// NewS3Store 创建 S3 冷存储
func NewS3Store(client *pkgs3.Client, opts StoreOptions, lgr *logger.Logger) *S3Store {
	if lgr == nil {
		lgr = logger.L()
	}
	return &S3Store{client: client, opts: opts.withDefaults(), logger: lgr.Named("s3-store"), now: time.Now}
}

func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, size int64, md5 string) error {
	var digest []byte
	if md5 != "" {
		b, err := hex.DecodeString(md5)
		if err != nil {
			return fmt.Errorf("invalid md5 %q for %s: %w", md5, key, err)
		}
		digest = b
	}
	if err := s.client.PutObject(ctx, s.opts.Bucket, key, r, size, s.opts.MultipartThreshold, digest); err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := s.client.GetObject(ctx, s.opts.Bucket, key)
	if err != nil {
		return nil, mapS3Error(key, err)
	}
	return rc, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	if err := s.client.DeleteObject(ctx, s.opts.Bucket, key); err != nil && !pkgs3.IsNotFound(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) Status(ctx context.Context, key string) (types.ObjectStatus, error) {
	info, err := s.client.HeadObject(ctx, s.opts.Bucket, key)
	if err != nil {
		return types.ObjectStatus{}, mapS3Error(key, err)
	}
	r := restoreState{}
	if info.Restore != nil {
		r = restoreState{present: true, ongoing: info.Restore.Ongoing, expiry: info.Restore.ExpiryTime}
	}
	class := info.StorageClass
	if class == "" {
		// HeadObject omits the class for STANDARD objects
		class = "STANDARD"
	}
	return objectStatus(class, info.Size, r, s.now()), nil
}

func (s *S3Store) Restore(ctx context.Context, key string) error {
	if err := s.client.RestoreObject(ctx, s.opts.Bucket, key, s.opts.RestoreDays, s.opts.RestoreTier); err != nil {
		return mapS3Error(key, err)
	}
	return nil
}

func mapS3Error(key string, err error) error {
	switch {
	case pkgs3.IsNotFound(err):
		return fmt.Errorf("%w: %s: %v", biz.ErrNotFound, key, err)
	case pkgs3.IsInvalidObjectState(err):
		return fmt.Errorf("%w: %s: %v", biz.ErrInvalidObjectState, key, err)
	case pkgs3.IsRestoreInProgress(err):
		return fmt.Errorf("%w: %s: %v", biz.ErrRestoreInProgress, key, err)
	default:
		return fmt.Errorf("%s: %w", key, err)
	}
}
