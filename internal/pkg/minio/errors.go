package minio

import (
	"errors"
	"fmt"

	"github.com/minio/minio-go/v7"
)

// Predefined errors
var (
	// ErrInvalidArgument indicates that an argument is invalid
	ErrInvalidArgument = errors.New("minio: invalid argument")

	// ErrInvalidBucketName indicates that the bucket name is invalid
	ErrInvalidBucketName = errors.New("minio: invalid bucket name")

	// ErrInvalidObjectName indicates that the object name is invalid
	ErrInvalidObjectName = errors.New("minio: invalid object name")
)

// S3 error codes the archive engine reacts to
const (
	CodeNoSuchKey                = "NoSuchKey"
	CodeNoSuchBucket             = "NoSuchBucket"
	CodeNotFound                 = "NotFound"
	CodeInvalidObjectState       = "InvalidObjectState"
	CodeRestoreAlreadyInProgress = "RestoreAlreadyInProgress"
)

// Error represents a MinIO error with additional context
type Error struct {
	Op      string // Operation that failed
	Err     error  // Original error
	Bucket  string // Bucket name (if applicable)
	Object  string // Object name (if applicable)
	Message string // Additional message
}

// Error returns the error message
func (e *Error) Error() string {
	switch {
	case e.Bucket != "" && e.Object != "":
		return fmt.Sprintf("minio: %s failed for bucket=%s, object=%s: %v", e.Op, e.Bucket, e.Object, e.Err)
	case e.Bucket != "":
		return fmt.Sprintf("minio: %s failed for bucket=%s: %v", e.Op, e.Bucket, e.Err)
	case e.Message != "":
		return fmt.Sprintf("minio: %s failed: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("minio: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Code returns the S3 error code carried by err, or ""
func Code(err error) string {
	if err == nil {
		return ""
	}
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code
	}
	return ""
}

// IsNotFound checks if the error is a "not found" error
func IsNotFound(err error) bool {
	switch Code(err) {
	case CodeNoSuchKey, CodeNoSuchBucket, CodeNotFound:
		return true
	}
	return false
}

// IsInvalidObjectState reports a restore request on an object that is not in an archive
// storage class
func IsInvalidObjectState(err error) bool {
	return Code(err) == CodeInvalidObjectState
}

// IsRestoreInProgress reports a restore request on an object already being restored
func IsRestoreInProgress(err error) bool {
	return Code(err) == CodeRestoreAlreadyInProgress
}

// IsBucketAlreadyExists checks if the error is a "bucket already exists" error
func IsBucketAlreadyExists(err error) bool {
	c := Code(err)
	return c == "BucketAlreadyExists" || c == "BucketAlreadyOwnedByYou"
}

// WrapError wraps an error with operation context
func WrapError(op string, err error, bucket, object string) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err, Bucket: bucket, Object: object}
}

// WrapErrorWithMessage wraps an error with operation context and a message
func WrapErrorWithMessage(op string, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err, Message: message}
}
