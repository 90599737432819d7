package errors

import "fmt"

// Code describes one error code of the archiving engine
type Code struct {
	Code      int    // Business error code
	Transient bool   // A later attempt of the same operation may succeed
	Message   string // Error message
}

const (
	Success = 0

	// Common errors (1000-1999)
	ErrInternal      = 1000
	ErrInvalidParams = 1001
	ErrNotFound      = 1002
	ErrCanceled      = 1003

	// Lock errors (2000-2999)
	ErrLockTimeout = 2000
	ErrLockBackend = 2001
	ErrLockLost    = 2002

	// Local workspace errors (3000-3999)
	ErrLocalIO          = 3000
	ErrChecksumMismatch = 3001
	ErrZipFailed        = 3002
	ErrExtractFailed    = 3003
	ErrEntryNotFound    = 3004

	// Cold storage errors (4000-4999)
	ErrUploadFailed       = 4000
	ErrDownloadFailed     = 4001
	ErrRemoteNotFound     = 4002
	ErrRestoreFailed      = 4003
	ErrRestoreTimeout     = 4004
	ErrRestoreExpired     = 4005
	ErrRemoteDeleteFailed = 4006
	ErrStorageUnreachable = 4007

	// Pipeline errors (5000-5999)
	ErrFileLost        = 5000
	ErrTaskPanic       = 5001
	ErrUnsupportedFile = 5002
)

var codeMap = map[int]Code{
	Success: {Success, false, "Success"},

	ErrInternal:      {ErrInternal, false, "Internal error"},
	ErrInvalidParams: {ErrInvalidParams, false, "Invalid parameters"},
	ErrNotFound:      {ErrNotFound, false, "Resource not found"},
	ErrCanceled:      {ErrCanceled, true, "Operation canceled"},

	ErrLockTimeout: {ErrLockTimeout, true, "Lock not acquired before timeout"},
	ErrLockBackend: {ErrLockBackend, true, "Lock backend failure"},
	ErrLockLost:    {ErrLockLost, true, "Lock lost while held"},

	ErrLocalIO:          {ErrLocalIO, true, "Local workspace I/O failure"},
	ErrChecksumMismatch: {ErrChecksumMismatch, false, "Stored file checksum does not match"},
	ErrZipFailed:        {ErrZipFailed, true, "Archive creation failed"},
	ErrExtractFailed:    {ErrExtractFailed, true, "Archive extraction failed"},
	ErrEntryNotFound:    {ErrEntryNotFound, false, "Archive entry not found"},

	ErrUploadFailed:       {ErrUploadFailed, true, "Upload to cold storage failed"},
	ErrDownloadFailed:     {ErrDownloadFailed, true, "Download from cold storage failed"},
	ErrRemoteNotFound:     {ErrRemoteNotFound, false, "Remote object not found"},
	ErrRestoreFailed:      {ErrRestoreFailed, true, "Cold storage restore request failed"},
	ErrRestoreTimeout:     {ErrRestoreTimeout, true, "Cold storage restore did not complete in time"},
	ErrRestoreExpired:     {ErrRestoreExpired, true, "Restored copy expired before download"},
	ErrRemoteDeleteFailed: {ErrRemoteDeleteFailed, true, "Remote delete failed"},
	ErrStorageUnreachable: {ErrStorageUnreachable, true, "Cold storage unreachable"},

	ErrFileLost:        {ErrFileLost, false, "File is neither in the workspace nor in cold storage"},
	ErrTaskPanic:       {ErrTaskPanic, false, "Task panicked"},
	ErrUnsupportedFile: {ErrUnsupportedFile, false, "File location is not handled by this storage"},
}

// GetCode returns the Code for a given error code
func GetCode(code int) Code {
	if c, ok := codeMap[code]; ok {
		return c
	}
	return codeMap[ErrInternal]
}

// GetMessage returns the message for a given error code
func GetMessage(code int) string {
	return GetCode(code).Message
}

// IsTransient reports whether retrying the operation later may succeed
func IsTransient(code int) bool {
	return GetCode(code).Transient
}

// FormatError formats an error message with code
func FormatError(code int, details ...string) string {
	msg := GetMessage(code)
	if len(details) > 0 && details[0] != "" {
		return fmt.Sprintf("%s: %s", msg, details[0])
	}
	return msg
}
