package s3

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
	"go.uber.org/zap"
)

// ObjectInfo is the subset of HeadObject the archive engine needs
type ObjectInfo struct {
	Size         int64
	StorageClass string
	// Restore is nil when the object carries no x-amz-restore header
	Restore *RestoreInfo
}

// RestoreInfo is the parsed x-amz-restore header
type RestoreInfo struct {
	Ongoing    bool
	ExpiryTime time.Time
}

var expiryRe = regexp.MustCompile(`expiry-date="([^"]+)"`)

// ParseRestoreHeader parses `ongoing-request="false", expiry-date="Fri, 21 Dec 2012 00:00:00 GMT"`
func ParseRestoreHeader(h string) *RestoreInfo {
	if h == "" {
		return nil
	}
	info := &RestoreInfo{Ongoing: strings.Contains(h, `ongoing-request="true"`)}
	if m := expiryRe.FindStringSubmatch(h); m != nil {
		if t, err := http.ParseTime(m[1]); err == nil {
			info.ExpiryTime = t
		}
	}
	return info
}

// PutObject uploads size bytes from r. Payloads above partSize go through multipart upload.
// md5 is the raw digest of the payload and is only sent on single part uploads.
func (c *Client) PutObject(ctx context.Context, bucket, key string, r io.Reader, size, partSize int64, md5 []byte) error {
	start := time.Now()
	var err error
	if partSize > 0 && size > partSize {
		err = c.putMultipart(ctx, bucket, key, r, partSize)
	} else {
		in := &s3.PutObjectInput{
			Bucket:        aws.String(bucket),
			Key:           aws.String(key),
			Body:          r,
			ContentLength: aws.Int64(size),
			ContentType:   aws.String("application/zip"),
		}
		if c.config.StorageClass != "" {
			in.StorageClass = types.StorageClass(c.config.StorageClass)
		}
		if len(md5) > 0 {
			in.ContentMD5 = aws.String(base64.StdEncoding.EncodeToString(md5))
		}
		_, err = c.api.PutObject(ctx, in)
	}
	if err != nil {
		return fmt.Errorf("s3: put %s/%s: %w", bucket, key, err)
	}

	c.logger.Info("object uploaded successfully",
		zap.String("bucket", bucket),
		logger.Key(key),
		logger.Size(size),
		logger.Elapsed(start),
	)
	return nil
}

func (c *Client) putMultipart(ctx context.Context, bucket, key string, r io.Reader, partSize int64) error {
	create := &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		ContentType: aws.String("application/zip"),
	}
	if c.config.StorageClass != "" {
		create.StorageClass = types.StorageClass(c.config.StorageClass)
	}
	up, err := c.api.CreateMultipartUpload(ctx, create)
	if err != nil {
		return fmt.Errorf("create multipart upload: %w", err)
	}

	abort := func(cause error) error {
		// the upload context may be canceled; parts must not linger
		timeout := c.config.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		actx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := c.api.AbortMultipartUpload(actx, &s3.AbortMultipartUploadInput{
			Bucket: aws.String(bucket), Key: aws.String(key), UploadId: up.UploadId,
		}); err != nil {
			c.logger.Warn("failed to abort multipart upload", logger.Key(key), zap.Error(err))
		}
		return cause
	}

	var parts []types.CompletedPart
	buf := make([]byte, partSize)
	for n := int32(1); ; n++ {
		read, rerr := io.ReadFull(r, buf)
		if read > 0 {
			out, err := c.api.UploadPart(ctx, &s3.UploadPartInput{
				Bucket:        aws.String(bucket),
				Key:           aws.String(key),
				UploadId:      up.UploadId,
				PartNumber:    aws.Int32(n),
				Body:          bytes.NewReader(buf[:read]),
				ContentLength: aws.Int64(int64(read)),
			})
			if err != nil {
				return abort(fmt.Errorf("upload part %d: %w", n, err))
			}
			parts = append(parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(n)})
		}
		if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
			break
		}
		if rerr != nil {
			return abort(fmt.Errorf("read part %d: %w", n, rerr))
		}
	}

	if _, err := c.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(bucket),
		Key:             aws.String(key),
		UploadId:        up.UploadId,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	}); err != nil {
		return abort(fmt.Errorf("complete multipart upload: %w", err))
	}
	return nil
}

// GetObject opens an object for reading
func (c *Client) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, fmt.Errorf("s3: get %s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

// HeadObject returns object metadata including its restore status
func (c *Client) HeadObject(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	out, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("s3: head %s/%s: %w", bucket, key, err)
	}
	return ObjectInfo{
		Size:         aws.ToInt64(out.ContentLength),
		StorageClass: string(out.StorageClass),
		Restore:      ParseRestoreHeader(aws.ToString(out.Restore)),
	}, nil
}

// DeleteObject removes an object
func (c *Client) DeleteObject(ctx context.Context, bucket, key string) error {
	if _, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}); err != nil {
		return fmt.Errorf("s3: delete %s/%s: %w", bucket, key, err)
	}
	c.logger.Info("object removed successfully", zap.String("bucket", bucket), logger.Key(key))
	return nil
}

// RestoreObject asks the archive tier to make a readable copy of the object for days days
func (c *Client) RestoreObject(ctx context.Context, bucket, key string, days int, tier string) error {
	_, err := c.api.RestoreObject(ctx, &s3.RestoreObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		RestoreRequest: &types.RestoreRequest{
			Days:                 aws.Int32(int32(days)),
			GlacierJobParameters: &types.GlacierJobParameters{Tier: types.Tier(tier)},
		},
	})
	if err != nil {
		return fmt.Errorf("s3: restore %s/%s: %w", bucket, key, err)
	}
	c.logger.Info("object restore requested", zap.String("bucket", bucket), logger.Key(key),
		zap.Int("days", days), zap.String("tier", tier))
	return nil
}
