// Package progress defines the sinks archive pipelines report per-file outcomes to, plus a
// few ready-made implementations.
package progress

import (
	"time"

	"github.com/lk2023060901/glacier-archiver/internal/archive/types"
)

// StorageReporter receives store outcomes.
type StorageReporter interface {
	// StoreSucceeded: the file is durable at url.
	StoreSucceeded(req types.StoreRequest, url string, size int64)
	// StoreSucceededPending: the file is safe in the workspace; url becomes durable once
	// a periodic sweep uploads its archive.
	StoreSucceededPending(req types.StoreRequest, url string, size int64)
	StoreFailed(req types.StoreRequest, cause error)
}

// RetrieveReporter receives retrieve outcomes.
type RetrieveReporter interface {
	RetrieveSucceeded(req types.RetrieveRequest, path string, size int64, expiresAt *time.Time)
	RetrieveFailed(req types.RetrieveRequest, cause error)
}

// DeletionReporter receives delete outcomes.
type DeletionReporter interface {
	DeleteSucceeded(req types.DeleteRequest)
	// DeleteSucceededPending: the file is gone from the workspace copy of its archive; the
	// remote archive still holds it until the next sweep uploads the rewritten archive.
	DeleteSucceededPending(req types.DeleteRequest)
	DeleteFailed(req types.DeleteRequest, cause error)
}

// PeriodicReporter receives the outcomes of flush sweeps and pending-action checks.
type PeriodicReporter interface {
	PendingActionSucceeded(url string)
	PendingActionFailed(url string, cause error)
	ArchiveDeleted(url string)
	// AllPendingActionsProcessed is sent once per sweep after every file reached an outcome.
	AllPendingActionsProcessed()
}
