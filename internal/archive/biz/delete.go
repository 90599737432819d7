package biz

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/lk2023060901/glacier-archiver/internal/archive/lockkey"
	"github.com/lk2023060901/glacier-archiver/internal/archive/naming"
	"github.com/lk2023060901/glacier-archiver/internal/archive/progress"
	"github.com/lk2023060901/glacier-archiver/internal/archive/types"
	"github.com/lk2023060901/glacier-archiver/internal/archive/workspace"
	apperrors "github.com/lk2023060901/glacier-archiver/internal/pkg/errors"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
	"go.uber.org/zap"
)

// Delete 删除一批文件
//
// 归档仍在 building 目录中时直接删除条目(节点锁)。已上传的归档先在归档锁内恢复到缓存,
// building 目录以符号链接指向解压目录, 再删除条目; 修改后的归档由下一次周期任务重新上传,
// 因此上报 DeleteSucceededPending。远端对象不存在视为删除成功。
func (a *Archiver) Delete(ctx context.Context, reqs []types.DeleteRequest, rep progress.DeletionReporter) {
	if rep == nil {
		rep = progress.Nop{}
	}
	ctx, runID := newRun(ctx)
	a.logger.Info("delete batch started", zap.String("run_id", runID), zap.Int("files", len(reqs)))

	tasks := make([]task, 0, len(reqs))
	for _, req := range reqs {
		req := req
		fail := func(err error) { rep.DeleteFailed(req, err) }

		loc, err := a.parseLocation(req.Location)
		if err != nil {
			fail(apperrors.Wrap(err, apperrors.ErrInvalidParams))
			continue
		}

		if !loc.Small() {
			tasks = append(tasks, task{
				op:     lockkey.OpDeleteBig,
				target: lockkey.Target{Node: loc.Node},
				label:  loc.Key,
				run: func(ctx context.Context) error {
					if err := a.store.Delete(ctx, loc.Key); err != nil {
						return apperrors.Wrap(err, apperrors.ErrRemoteDeleteFailed, loc.Key)
					}
					rep.DeleteSucceeded(req)
					return nil
				},
				fail: fail,
			})
			continue
		}

		tasks = append(tasks, task{
			op:     lockkey.OpDeleteRemote,
			target: a.target(loc),
			staged: true,
			label:  req.Location,
			run: func(ctx context.Context) error {
				return a.deleteSmall(ctx, loc, req, rep)
			},
			fail: fail,
		})
	}
	a.dispatch(ctx, tasks)
}

func (a *Archiver) deleteSmall(ctx context.Context, loc naming.Location, req types.DeleteRequest, rep progress.DeletionReporter) error {
	err := a.withLocks(ctx, lockkey.OpDeleteBuilding, a.target(loc), func(ctx context.Context) error {
		dir, err := a.ws.FindBuildingDir(loc.Node, loc.Timestamp)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrLocalIO)
		}
		if dir == nil {
			return errNotPending
		}
		return a.deleteEntry(ctx, *dir, loc, req, rep)
	})
	if !errors.Is(err, errNotPending) {
		return err
	}
	return a.withLocks(ctx, lockkey.OpDeleteRemote, a.target(loc), func(ctx context.Context) error {
		return a.deleteRemote(ctx, loc, req, rep)
	})
}

// deleteRemote runs under the archive lock. It materializes the archive as an aliased
// building directory, then deletes the entry under the node lock.
func (a *Archiver) deleteRemote(ctx context.Context, loc naming.Location, req types.DeleteRequest, rep progress.DeletionReporter) error {
	log := a.logger.WithContext(ctx).With(logger.Node(loc.Node), logger.Archive(loc.Timestamp), logger.Entry(loc.Entry))

	dir, err := a.ws.FindBuildingDir(loc.Node, loc.Timestamp)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrLocalIO)
	}
	if dir == nil {
		zipPath := a.ws.CachedZipPath(loc.Node, loc.Timestamp)
		if !workspace.Exists(zipPath) {
			if _, err := a.makeAvailable(ctx, loc.Key); err != nil {
				if apperrors.Is(err, apperrors.ErrRemoteNotFound) {
					log.Info("archive already gone, nothing to delete")
					rep.DeleteSucceeded(req)
					return nil
				}
				return err
			}
			if _, err := a.download(ctx, loc.Key, zipPath); err != nil {
				if apperrors.Is(err, apperrors.ErrRemoteNotFound) {
					rep.DeleteSucceeded(req)
					return nil
				}
				return err
			}
		}
		if _, err := workspace.Unzip(zipPath, a.ws.CacheExtractDir(loc.Node, loc.Timestamp)); err != nil {
			return apperrors.Wrap(err, apperrors.ErrExtractFailed, loc.Key)
		}
		// the extracted tree is now the only copy; a cached zip would serve the deleted entry
		if err := os.Remove(zipPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return apperrors.Wrap(err, apperrors.ErrLocalIO)
		}
		log.Info("archive restored for modification")
	}

	return a.withLocks(ctx, lockkey.OpDeleteBuilding, a.target(loc), func(ctx context.Context) error {
		dir, err := a.ws.FindBuildingDir(loc.Node, loc.Timestamp)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrLocalIO)
		}
		if dir == nil {
			linked, err := a.ws.Link(loc.Node, loc.Timestamp)
			if err != nil {
				return apperrors.Wrap(err, apperrors.ErrLocalIO)
			}
			dir = &linked
		}
		return a.deleteEntry(ctx, *dir, loc, req, rep)
	})
}

// deleteEntry removes the entry from dir under the node lock. An archive left empty is
// deleted entirely, remote object included.
func (a *Archiver) deleteEntry(ctx context.Context, dir workspace.Dir, loc naming.Location, req types.DeleteRequest, rep progress.DeletionReporter) error {
	log := a.logger.WithContext(ctx).With(logger.Node(loc.Node), logger.Archive(dir.Name), logger.Entry(loc.Entry))

	real, err := workspace.RealPath(dir)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrLocalIO)
	}
	err = workspace.RemoveEntry(real, loc.Entry)
	switch {
	case errors.Is(err, workspace.ErrEntryNotFound):
		log.Warn("entry already absent")
	case err != nil:
		return apperrors.Wrap(err, apperrors.ErrLocalIO)
	}

	empty, err := workspace.IsEmpty(real)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrLocalIO)
	}
	if empty {
		if !dir.Current {
			if err := a.store.Delete(ctx, loc.Key); err != nil {
				return apperrors.Wrap(err, apperrors.ErrRemoteDeleteFailed, loc.Key)
			}
		}
		if err := a.ws.RemoveBuildingDir(dir); err != nil {
			return apperrors.Wrap(err, apperrors.ErrLocalIO)
		}
		log.Info("last entry deleted, archive removed")
		if r, ok := rep.(interface{ ArchiveDeleted(url string) }); ok {
			r.ArchiveDeleted(loc.Key)
		}
		rep.DeleteSucceeded(req)
		return nil
	}

	if dir.Symlink {
		rep.DeleteSucceededPending(req)
		return nil
	}
	rep.DeleteSucceeded(req)
	return nil
}
