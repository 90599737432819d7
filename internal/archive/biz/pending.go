package biz

import (
	"context"
	"path/filepath"

	"github.com/lk2023060901/glacier-archiver/internal/archive/lockkey"
	"github.com/lk2023060901/glacier-archiver/internal/archive/naming"
	"github.com/lk2023060901/glacier-archiver/internal/archive/progress"
	"github.com/lk2023060901/glacier-archiver/internal/archive/types"
	"github.com/lk2023060901/glacier-archiver/internal/archive/workspace"
	apperrors "github.com/lk2023060901/glacier-archiver/internal/pkg/errors"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
	"go.uber.org/zap"
)

// CheckPendingActions 核对以 pending 状态上报过的小文件是否已持久化到冷存储
//
//	本地有, 远端有: 删除本地残留条目, 上报成功
//	本地无, 远端有: 上报成功
//	本地有, 远端无: 仍待上传, 不上报
//	本地无, 远端无: 文件丢失, 上报失败
func (a *Archiver) CheckPendingActions(ctx context.Context, reqs []types.PendingRequest, rep progress.PeriodicReporter) {
	if rep == nil {
		rep = progress.Nop{}
	}
	ctx, runID := newRun(ctx)
	a.logger.Info("pending action check started", zap.String("run_id", runID), zap.Int("files", len(reqs)))

	tasks := make([]task, 0, len(reqs))
	for _, req := range reqs {
		req := req
		fail := func(err error) { rep.PendingActionFailed(req.Location, err) }

		loc, err := a.parseLocation(req.Location)
		if err != nil {
			fail(apperrors.Wrap(err, apperrors.ErrInvalidParams))
			continue
		}
		if !loc.Small() {
			fail(apperrors.New(apperrors.ErrUnsupportedFile, "no pending action on a big file: "+req.Location))
			continue
		}
		tasks = append(tasks, task{
			op:     lockkey.OpCheckPending,
			target: a.target(loc),
			label:  req.Location,
			run: func(ctx context.Context) error {
				return a.checkPending(ctx, loc, req, rep)
			},
			fail: fail,
		})
	}
	a.dispatch(ctx, tasks)
	rep.AllPendingActionsProcessed()
}

// checkPending runs under the node lock.
func (a *Archiver) checkPending(ctx context.Context, loc naming.Location, req types.PendingRequest, rep progress.PeriodicReporter) error {
	log := a.logger.WithContext(ctx).With(logger.Node(loc.Node), logger.Archive(loc.Timestamp), logger.Entry(loc.Entry))

	dir, err := a.ws.FindBuildingDir(loc.Node, loc.Timestamp)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrLocalIO)
	}
	var local string
	if dir != nil {
		real, err := workspace.RealPath(*dir)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrLocalIO)
		}
		if p := filepath.Join(real, loc.Entry); workspace.Exists(p) {
			local = p
		}
	}

	remote, err := a.exists(ctx, loc.Key)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrStorageUnreachable, loc.Key)
	}

	switch {
	case local != "" && remote:
		// an alias holds a modified copy of the remote archive that still has to be uploaded
		if dir.Symlink {
			return nil
		}
		if err := workspace.RemoveEntry(filepath.Dir(local), loc.Entry); err != nil {
			return apperrors.Wrap(err, apperrors.ErrLocalIO)
		}
		if empty, err := workspace.IsEmpty(dir.Path); err == nil && empty && !dir.Current {
			if err := a.ws.RemoveBuildingDir(*dir); err != nil {
				log.Warn("failed to remove emptied building directory", zap.Error(err))
			}
		}
		log.Info("stale local copy removed, archive is durable")
		rep.PendingActionSucceeded(req.Location)
	case remote:
		rep.PendingActionSucceeded(req.Location)
	case local != "":
		log.Debug("still pending")
	default:
		rep.PendingActionFailed(req.Location, apperrors.New(apperrors.ErrFileLost, req.Location))
	}
	return nil
}
