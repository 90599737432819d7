// Package lockkey decides which lock names an archive operation must hold.
//
// Two kinds of names exist. The node lock guards the building slot of one node: the
// directories in the building tree where small files accumulate. The archive lock guards one
// archive identity: its remote object and everything derived from it in the cache tree.
// When an operation needs both, the archive lock is always taken first.
package lockkey

import (
	"errors"
	"fmt"

	"github.com/lk2023060901/glacier-archiver/internal/archive/naming"
)

// Op is an operation kind.
type Op int

const (
	OpStoreSmall Op = iota
	OpStoreBig
	OpRetrieveBuilding // small file still in a building directory
	OpRetrieveRemote   // small file in an uploaded archive, cached or not
	OpRetrieveBig
	OpDeleteBuilding
	OpDeleteRemote
	OpDeleteBig
	OpFlush
	OpCleanCache
	OpCheckPending
	OpAvailability
)

var opNames = map[Op]string{
	OpStoreSmall:       "store-small",
	OpStoreBig:         "store-big",
	OpRetrieveBuilding: "retrieve-building",
	OpRetrieveRemote:   "retrieve-remote",
	OpRetrieveBig:      "retrieve-big",
	OpDeleteBuilding:   "delete-building",
	OpDeleteRemote:     "delete-remote",
	OpDeleteBig:        "delete-big",
	OpFlush:            "flush",
	OpCleanCache:       "clean-cache",
	OpCheckPending:     "check-pending",
	OpAvailability:     "availability",
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// ErrTimestampRequired is returned for an operation that needs the archive lock of a target
// without a timestamp.
var ErrTimestampRequired = errors.New("lockkey: archive timestamp required")

// Target identifies what an operation touches.
type Target struct {
	Root      string
	Node      string
	Timestamp string // archive timestamp, empty when the archive is not known yet
}

// For returns the lock names op must hold on t, outermost first. An empty result means
// no lock.
func For(op Op, t Target) ([]string, error) {
	node := naming.NodeLockName(t.Root, t.Node)

	switch op {
	case OpStoreSmall, OpRetrieveBuilding, OpDeleteBuilding, OpCheckPending:
		return []string{node}, nil

	case OpRetrieveRemote, OpDeleteRemote, OpCleanCache:
		name, err := archive(op, t)
		if err != nil {
			return nil, err
		}
		return []string{name}, nil

	case OpFlush:
		name, err := archive(op, t)
		if err != nil {
			return nil, err
		}
		return []string{name, node}, nil

	default:
		return nil, nil
	}
}

func archive(op Op, t Target) (string, error) {
	if t.Timestamp == "" {
		return "", fmt.Errorf("%w: %s on %s/%s", ErrTimestampRequired, op, t.Root, t.Node)
	}
	return naming.ArchiveLockName(t.Root, t.Node, t.Timestamp), nil
}
