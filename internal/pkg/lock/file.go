package lock

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/danjacques/gofslock/fslock"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
	"go.uber.org/zap"
)

type fileLocks struct {
	dir    string
	local  *localLocks
	opts   Options
	logger *logger.Logger
}

// path maps a lock name to a flat file name; names contain slashes.
func (f *fileLocks) path(name string) string {
	sum := sha1.Sum([]byte(name))
	return filepath.Join(f.dir, hex.EncodeToString(sum[:])+".lock")
}

func (f *fileLocks) acquire(ctx context.Context, name string, deadline time.Time) (func(), error) {
	releaseLocal, err := f.local.acquire(ctx, name, deadline)
	if err != nil {
		return nil, err
	}

	p := f.path(name)
	for {
		h, err := fslock.Lock(p)
		if err == nil {
			return func() {
				if err := h.Unlock(); err != nil {
					f.logger.Warn("failed to release file lock", logger.LockName(name), zap.Error(err))
				}
				releaseLocal()
			}, nil
		}
		if !errors.Is(err, fslock.ErrLockHeld) {
			releaseLocal()
			return nil, fmt.Errorf("file lock %s: %w", p, err)
		}
		if err := sleep(ctx, f.opts.RetryDelay, deadline); err != nil {
			releaseLocal()
			return nil, err
		}
	}
}

// renew only checks ownership; file locks do not expire.
func (f *fileLocks) renew(ctx context.Context, name string) error {
	return f.local.renew(ctx, name)
}

// NewFile returns a Service whose locks exclude every process of the host using dir.
func NewFile(dir string, opts Options, log *logger.Logger) (*Service, error) {
	if dir == "" {
		return nil, errors.New("lock: file lock directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}
	b := &fileLocks{dir: dir, local: newLocalLocks(), opts: opts.withDefaults(), logger: log.Named("lock")}
	return newService("file", b, opts, log), nil
}
