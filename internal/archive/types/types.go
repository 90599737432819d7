// Package types holds the request and result types shared by the archive engine, its
// progress reporters and its callers.
package types

import "time"

// ChecksumMD5 is the only checksum algorithm small files are verified with.
const ChecksumMD5 = "MD5"

// FileEntry is one logical file known to the storage.
type FileEntry struct {
	Checksum  string // hex digest
	Algorithm string
	Size      int64
	MimeType  string
	FileName  string
	// Node groups files into the same family of archives, e.g. "tenant/collection".
	Node string
	// Origin is the local path the content is read from when storing.
	Origin string
}

// StoreRequest asks for one file to be stored.
type StoreRequest struct {
	ID    string
	Entry FileEntry
}

// RetrieveRequest asks for one stored file to be copied into RestorationDir.
type RetrieveRequest struct {
	ID       string
	Checksum string
	// Location is the URL reported when the file was stored.
	Location string
	// FileName is the name given to the copy; defaults to the checksum.
	FileName       string
	RestorationDir string
}

// DeleteRequest asks for one stored file to be removed.
type DeleteRequest struct {
	ID       string
	Checksum string
	Location string
}

// PendingRequest asks whether a file reported as stored with a pending action is now
// durable in cold storage.
type PendingRequest struct {
	ID       string
	Checksum string
	Location string
}

// AvailabilityStatus is the restoration status of a remote object.
type AvailabilityStatus string

const (
	StatusAvailable      AvailabilityStatus = "AVAILABLE"
	StatusNotAvailable   AvailabilityStatus = "NOT_AVAILABLE"
	StatusRestorePending AvailabilityStatus = "RESTORE_PENDING"
	StatusExpired        AvailabilityStatus = "EXPIRED"
)

// ObjectStatus is what the object store knows about one key.
type ObjectStatus struct {
	Status    AvailabilityStatus
	Size      int64
	ExpiresAt *time.Time
}

// Availability answers an availability probe for one location.
type Availability struct {
	Location  string
	Status    AvailabilityStatus
	Available bool
	Size      int64
	ExpiresAt *time.Time
	// Local is set when the file is still in the workspace and was never uploaded.
	Local bool
}
