package minio

import (
	"context"
	"io"
	"time"

	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// UploadInfo represents information about an uploaded object
type UploadInfo struct {
	Bucket    string
	Key       string
	ETag      string
	Size      int64
	VersionID string
}

// ObjectInfo is the subset of object metadata the archive engine needs
type ObjectInfo struct {
	Key          string
	Size         int64
	StorageClass string
	// Restore is nil when no restore was ever requested for the object
	Restore *RestoreInfo
}

// RestoreInfo mirrors the x-amz-restore header
type RestoreInfo struct {
	Ongoing    bool
	ExpiryTime time.Time
}

// PutObject uploads an object. Payloads larger than partSize go through multipart upload.
// contentMD5 asks the server to verify the payload.
func (c *Client) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, partSize uint64, contentMD5 bool) (UploadInfo, error) {
	if err := c.checkClosed(); err != nil {
		return UploadInfo{}, err
	}
	if bucketName == "" {
		return UploadInfo{}, WrapError("PutObject", ErrInvalidBucketName, bucketName, objectName)
	}
	if objectName == "" {
		return UploadInfo{}, WrapError("PutObject", ErrInvalidObjectName, bucketName, objectName)
	}

	opts := minio.PutObjectOptions{
		ContentType:    "application/zip",
		StorageClass:   c.config.StorageClass,
		PartSize:       partSize,
		SendContentMd5: contentMD5,
	}

	start := time.Now()
	info, err := c.client.PutObject(ctx, bucketName, objectName, reader, objectSize, opts)
	if err != nil {
		return UploadInfo{}, WrapError("PutObject", err, bucketName, objectName)
	}

	c.logger.Info("object uploaded successfully",
		zap.String("bucket", bucketName),
		logger.Key(objectName),
		logger.Size(info.Size),
		zap.String("etag", info.ETag),
		logger.Elapsed(start),
	)

	return UploadInfo{
		Bucket:    info.Bucket,
		Key:       info.Key,
		ETag:      info.ETag,
		Size:      info.Size,
		VersionID: info.VersionID,
	}, nil
}

// GetObject opens an object for reading. The first Read or Stat surfaces a missing object.
func (c *Client) GetObject(ctx context.Context, bucketName, objectName string) (*minio.Object, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}

	obj, err := c.client.GetObject(ctx, bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, WrapError("GetObject", err, bucketName, objectName)
	}
	return obj, nil
}

// FGetObject downloads an object to a local file
func (c *Client) FGetObject(ctx context.Context, bucketName, objectName, filePath string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}

	start := time.Now()
	if err := c.client.FGetObject(ctx, bucketName, objectName, filePath, minio.GetObjectOptions{}); err != nil {
		return WrapError("FGetObject", err, bucketName, objectName)
	}

	c.logger.Info("object downloaded successfully",
		zap.String("bucket", bucketName),
		logger.Key(objectName),
		zap.String("file", filePath),
		logger.Elapsed(start),
	)
	return nil
}

// StatObject returns object metadata including its restore status
func (c *Client) StatObject(ctx context.Context, bucketName, objectName string) (ObjectInfo, error) {
	if err := c.checkClosed(); err != nil {
		return ObjectInfo{}, err
	}

	info, err := c.client.StatObject(ctx, bucketName, objectName, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, WrapError("StatObject", err, bucketName, objectName)
	}

	out := ObjectInfo{Key: info.Key, Size: info.Size, StorageClass: info.StorageClass}
	if info.Restore != nil {
		out.Restore = &RestoreInfo{Ongoing: info.Restore.OngoingRestore, ExpiryTime: info.Restore.ExpiryTime}
	}
	return out, nil
}

// RemoveObject removes an object
func (c *Client) RemoveObject(ctx context.Context, bucketName, objectName string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}

	if err := c.client.RemoveObject(ctx, bucketName, objectName, minio.RemoveObjectOptions{}); err != nil {
		return WrapError("RemoveObject", err, bucketName, objectName)
	}

	c.logger.Info("object removed successfully", zap.String("bucket", bucketName), logger.Key(objectName))
	return nil
}

// RestoreObject asks the archive tier to make a readable copy of the object for days days
func (c *Client) RestoreObject(ctx context.Context, bucketName, objectName string, days int, tier string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}

	req := minio.RestoreRequest{}
	req.SetDays(days)
	req.SetGlacierJobParameters(minio.GlacierJobParameters{Tier: minio.TierType(tier)})

	if err := c.client.RestoreObject(ctx, bucketName, objectName, "", req); err != nil {
		return WrapError("RestoreObject", err, bucketName, objectName)
	}

	c.logger.Info("object restore requested",
		zap.String("bucket", bucketName),
		logger.Key(objectName),
		zap.Int("days", days),
		zap.String("tier", tier),
	)
	return nil
}
