package biz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lk2023060901/glacier-archiver/internal/archive/types"
	"github.com/lk2023060901/glacier-archiver/internal/archive/workspace"
	apperrors "github.com/lk2023060901/glacier-archiver/internal/pkg/errors"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
	"go.uber.org/zap"
)

// makeAvailable brings key to the AVAILABLE state and returns its final status.
//
// AVAILABLE needs nothing; RESTORE_PENDING is polled; anything else asks for a restore first.
// An object outside the archive tier (InvalidObjectState) is readable as is.
func (a *Archiver) makeAvailable(ctx context.Context, key string) (types.ObjectStatus, error) {
	log := a.logger.WithContext(ctx).With(logger.Key(key))

	st, err := a.store.Status(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return st, apperrors.Wrap(err, apperrors.ErrRemoteNotFound, key)
	}
	if err != nil {
		return st, apperrors.Wrap(err, apperrors.ErrStorageUnreachable, key)
	}

	switch st.Status {
	case types.StatusAvailable:
		return st, nil
	case types.StatusRestorePending:
		log.Debug("restore already pending")
	default:
		err := a.store.Restore(ctx, key)
		switch {
		case err == nil:
			log.Info("restore requested")
		case errors.Is(err, ErrInvalidObjectState):
			log.Debug("object not in archive tier, readable as is")
			st.Status = types.StatusAvailable
			return st, nil
		case errors.Is(err, ErrRestoreInProgress):
			log.Debug("restore already in progress")
		case errors.Is(err, ErrNotFound):
			return st, apperrors.Wrap(err, apperrors.ErrRemoteNotFound, key)
		default:
			return st, apperrors.Wrap(err, apperrors.ErrRestoreFailed, key)
		}
	}

	return a.waitRestored(ctx, key)
}

// waitRestored polls the status of key with a doubling delay, bounded by the access timeout.
func (a *Archiver) waitRestored(ctx context.Context, key string) (types.ObjectStatus, error) {
	start := time.Now()
	deadline := start.Add(a.cfg.AccessTimeout)
	delay := a.cfg.RestoreInitialDelay
	failures := 0

	for {
		left := time.Until(deadline)
		if left <= 0 {
			return types.ObjectStatus{}, apperrors.New(apperrors.ErrRestoreTimeout,
				fmt.Sprintf("%s not restored after %s", key, a.cfg.AccessTimeout))
		}
		if delay > left {
			delay = left
		}
		if err := sleepCtx(ctx, delay); err != nil {
			return types.ObjectStatus{}, apperrors.Wrap(err, apperrors.ErrCanceled, key)
		}
		delay *= 2

		st, err := a.store.Status(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return st, apperrors.Wrap(err, apperrors.ErrRemoteNotFound, key)
			}
			failures++
			a.logger.Warn("restore status check failed",
				logger.Key(key), zap.Int("attempt", failures), zap.Error(err))
			if failures >= a.cfg.UnreachableAttempts {
				return st, apperrors.Wrap(err, apperrors.ErrStorageUnreachable, key)
			}
			continue
		}
		failures = 0

		switch st.Status {
		case types.StatusAvailable:
			a.logger.Info("object restored", logger.Key(key), logger.Elapsed(start))
			return st, nil
		case types.StatusRestorePending:
			continue
		case types.StatusExpired:
			return st, apperrors.New(apperrors.ErrRestoreExpired, key)
		default:
			return st, apperrors.New(apperrors.ErrRestoreFailed, fmt.Sprintf("%s is %s while waiting for restore", key, st.Status))
		}
	}
}

// download writes the remote object key to dst, replacing it.
func (a *Archiver) download(ctx context.Context, key, dst string) (int64, error) {
	rc, err := a.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return 0, apperrors.Wrap(err, apperrors.ErrRemoteNotFound, key)
	}
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrDownloadFailed, key)
	}
	defer rc.Close()

	n, _, err := workspace.WriteFrom(dst, rc)
	if err != nil {
		return n, apperrors.Wrap(err, apperrors.ErrDownloadFailed, key)
	}
	a.logger.Debug("object downloaded", logger.Key(key), logger.Size(n))
	return n, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
