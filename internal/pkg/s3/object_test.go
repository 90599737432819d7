package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI records calls; only the methods a test needs behave.
type fakeAPI struct {
	API
	put        *s3.PutObjectInput
	parts      [][]byte
	completed  *s3.CompleteMultipartUploadInput
	aborted    bool
	failPart   int32
	head       *s3.HeadObjectOutput
	restoreErr error
}

func (f *fakeAPI) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.put = in
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeAPI) CreateMultipartUpload(_ context.Context, _ *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String("upload-1")}, nil
}

func (f *fakeAPI) UploadPart(_ context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	if aws.ToInt32(in.PartNumber) == f.failPart {
		return nil, errors.New("connection reset")
	}
	b, _ := io.ReadAll(in.Body)
	f.parts = append(f.parts, b)
	return &s3.UploadPartOutput{ETag: aws.String("etag")}, nil
}

func (f *fakeAPI) CompleteMultipartUpload(_ context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.completed = in
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeAPI) AbortMultipartUpload(_ context.Context, _ *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.aborted = true
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeAPI) HeadObject(_ context.Context, _ *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.head == nil {
		return nil, &types.NotFound{}
	}
	return f.head, nil
}

func (f *fakeAPI) RestoreObject(_ context.Context, _ *s3.RestoreObjectInput, _ ...func(*s3.Options)) (*s3.RestoreObjectOutput, error) {
	return &s3.RestoreObjectOutput{}, f.restoreErr
}

func TestPutObject(t *testing.T) {
	t.Run("single part", func(t *testing.T) {
		api := &fakeAPI{}
		c := NewWithAPI(api, DefaultConfig(), nil)

		require.NoError(t, c.PutObject(context.Background(), "b", "k.zip", strings.NewReader("abc"), 3, 10, []byte{1, 2}))
		require.NotNil(t, api.put)
		assert.Equal(t, types.StorageClassGlacier, api.put.StorageClass)
		assert.Equal(t, "AQI=", aws.ToString(api.put.ContentMD5))
	})

	t.Run("multipart above the threshold", func(t *testing.T) {
		api := &fakeAPI{}
		c := NewWithAPI(api, DefaultConfig(), nil)
		payload := bytes.Repeat([]byte("x"), 25)

		require.NoError(t, c.PutObject(context.Background(), "b", "k.zip", bytes.NewReader(payload), 25, 10, nil))
		require.Len(t, api.parts, 3)
		assert.Len(t, api.parts[2], 5)
		require.NotNil(t, api.completed)
		assert.Len(t, api.completed.MultipartUpload.Parts, 3)
		assert.Nil(t, api.put)
	})

	t.Run("failed part aborts", func(t *testing.T) {
		api := &fakeAPI{failPart: 2}
		c := NewWithAPI(api, DefaultConfig(), nil)

		err := c.PutObject(context.Background(), "b", "k.zip", bytes.NewReader(make([]byte, 25)), 25, 10, nil)
		assert.Error(t, err)
		assert.True(t, api.aborted)
		assert.Nil(t, api.completed)
	})
}

func TestHeadObjectRestore(t *testing.T) {
	api := &fakeAPI{}
	c := NewWithAPI(api, DefaultConfig(), nil)

	_, err := c.HeadObject(context.Background(), "b", "k")
	assert.True(t, IsNotFound(err))

	api.head = &s3.HeadObjectOutput{
		ContentLength: aws.Int64(42),
		StorageClass:  types.StorageClassGlacier,
		Restore:       aws.String(`ongoing-request="false", expiry-date="Fri, 21 Dec 2012 00:00:00 GMT"`),
	}
	info, err := c.HeadObject(context.Background(), "b", "k")
	require.NoError(t, err)
	assert.Equal(t, int64(42), info.Size)
	require.NotNil(t, info.Restore)
	assert.False(t, info.Restore.Ongoing)
	assert.True(t, info.Restore.ExpiryTime.Equal(time.Date(2012, 12, 21, 0, 0, 0, 0, time.UTC)))
}

func TestParseRestoreHeader(t *testing.T) {
	assert.Nil(t, ParseRestoreHeader(""))
	info := ParseRestoreHeader(`ongoing-request="true"`)
	require.NotNil(t, info)
	assert.True(t, info.Ongoing)
	assert.True(t, info.ExpiryTime.IsZero())
}

func TestRestoreErrors(t *testing.T) {
	api := &fakeAPI{}
	c := NewWithAPI(api, DefaultConfig(), nil)

	api.restoreErr = &smithy.GenericAPIError{Code: "RestoreAlreadyInProgress"}
	err := c.RestoreObject(context.Background(), "b", "k", 1, "Standard")
	assert.True(t, IsRestoreInProgress(err))

	api.restoreErr = &types.InvalidObjectState{}
	err = c.RestoreObject(context.Background(), "b", "k", 1, "Standard")
	assert.True(t, IsInvalidObjectState(err))

	api.restoreErr = &types.NoSuchKey{}
	err = c.RestoreObject(context.Background(), "b", "k", 1, "Standard")
	assert.True(t, IsNotFound(err))
	assert.False(t, IsRestoreInProgress(err))
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	cfg.AccessKeyID = "only-id"
	assert.Error(t, cfg.Validate())
	cfg.Region = ""
	assert.Error(t, cfg.Validate())
}
