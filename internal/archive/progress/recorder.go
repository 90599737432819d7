package progress

import (
	"sync"
	"time"

	"github.com/lk2023060901/glacier-archiver/internal/archive/types"
)

// Kind names one reporter callback.
type Kind string

const (
	KindStoreSucceeded         Kind = "store_succeeded"
	KindStoreSucceededPending  Kind = "store_succeeded_pending"
	KindStoreFailed            Kind = "store_failed"
	KindRetrieveSucceeded      Kind = "retrieve_succeeded"
	KindRetrieveFailed         Kind = "retrieve_failed"
	KindDeleteSucceeded        Kind = "delete_succeeded"
	KindDeleteSucceededPending Kind = "delete_succeeded_pending"
	KindDeleteFailed           Kind = "delete_failed"
	KindPendingSucceeded       Kind = "pending_action_succeeded"
	KindPendingFailed          Kind = "pending_action_failed"
	KindArchiveDeleted         Kind = "archive_deleted"
	KindAllProcessed           Kind = "all_pending_actions_processed"
)

// Event is one recorded callback.
type Event struct {
	Kind      Kind
	RequestID string
	URL       string
	Path      string
	Size      int64
	ExpiresAt *time.Time
	Err       error
	At        time.Time
}

// Failed reports whether the event is a failure outcome.
func (e Event) Failed() bool {
	switch e.Kind {
	case KindStoreFailed, KindRetrieveFailed, KindDeleteFailed, KindPendingFailed:
		return true
	}
	return false
}

// Recorder keeps every callback in arrival order. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) add(e Event) {
	e.At = time.Now()
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfKind returns the recorded events of the given kind.
func (r *Recorder) OfKind(kind Kind) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many events of the given kind were recorded.
func (r *Recorder) Count(kind Kind) int {
	return len(r.OfKind(kind))
}

// Reset drops everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func (r *Recorder) StoreSucceeded(req types.StoreRequest, url string, size int64) {
	r.add(Event{Kind: KindStoreSucceeded, RequestID: req.ID, URL: url, Size: size})
}

func (r *Recorder) StoreSucceededPending(req types.StoreRequest, url string, size int64) {
	r.add(Event{Kind: KindStoreSucceededPending, RequestID: req.ID, URL: url, Size: size})
}

func (r *Recorder) StoreFailed(req types.StoreRequest, cause error) {
	r.add(Event{Kind: KindStoreFailed, RequestID: req.ID, Err: cause})
}

func (r *Recorder) RetrieveSucceeded(req types.RetrieveRequest, path string, size int64, expiresAt *time.Time) {
	r.add(Event{Kind: KindRetrieveSucceeded, RequestID: req.ID, URL: req.Location, Path: path, Size: size, ExpiresAt: expiresAt})
}

func (r *Recorder) RetrieveFailed(req types.RetrieveRequest, cause error) {
	r.add(Event{Kind: KindRetrieveFailed, RequestID: req.ID, URL: req.Location, Err: cause})
}

func (r *Recorder) DeleteSucceeded(req types.DeleteRequest) {
	r.add(Event{Kind: KindDeleteSucceeded, RequestID: req.ID, URL: req.Location})
}

func (r *Recorder) DeleteSucceededPending(req types.DeleteRequest) {
	r.add(Event{Kind: KindDeleteSucceededPending, RequestID: req.ID, URL: req.Location})
}

func (r *Recorder) DeleteFailed(req types.DeleteRequest, cause error) {
	r.add(Event{Kind: KindDeleteFailed, RequestID: req.ID, URL: req.Location, Err: cause})
}

func (r *Recorder) PendingActionSucceeded(url string) {
	r.add(Event{Kind: KindPendingSucceeded, URL: url})
}

func (r *Recorder) PendingActionFailed(url string, cause error) {
	r.add(Event{Kind: KindPendingFailed, URL: url, Err: cause})
}

func (r *Recorder) ArchiveDeleted(url string) {
	r.add(Event{Kind: KindArchiveDeleted, URL: url})
}

func (r *Recorder) AllPendingActionsProcessed() {
	r.add(Event{Kind: KindAllProcessed})
}

// Nop discards every callback.
type Nop struct{}

func (Nop) StoreSucceeded(types.StoreRequest, string, int64) {}
func (Nop) StoreSucceededPending(types.StoreRequest, string, int64) {}
func (Nop) StoreFailed(types.StoreRequest, error) {}
func (Nop) RetrieveSucceeded(types.RetrieveRequest, string, int64, *time.Time) {}
func (Nop) RetrieveFailed(types.RetrieveRequest, error) {}
func (Nop) DeleteSucceeded(types.DeleteRequest) {}
func (Nop) DeleteSucceededPending(types.DeleteRequest) {}
func (Nop) DeleteFailed(types.DeleteRequest, error) {}
func (Nop) PendingActionSucceeded(string) {}
func (Nop) PendingActionFailed(string, error) {}
func (Nop) ArchiveDeleted(string) {}
func (Nop) AllPendingActionsProcessed() {}
