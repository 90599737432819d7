package s3

import (
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

const codeRestoreAlreadyInProgress = "RestoreAlreadyInProgress"

// IsNotFound reports a missing key or bucket
func IsNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	var nsb *types.NoSuchBucket
	return errors.As(err, &nsk) || errors.As(err, &nf) || errors.As(err, &nsb)
}

// IsInvalidObjectState reports a restore request on an object that is not archived
func IsInvalidObjectState(err error) bool {
	var ios *types.InvalidObjectState
	var active *types.ObjectAlreadyInActiveTierError
	return errors.As(err, &ios) || errors.As(err, &active)
}

// IsRestoreInProgress reports a restore request on an object already being restored
func IsRestoreInProgress(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == codeRestoreAlreadyInProgress
}
