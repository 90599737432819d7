package biz

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/lk2023060901/glacier-archiver/internal/archive/lockkey"
	"github.com/lk2023060901/glacier-archiver/internal/archive/naming"
	"github.com/lk2023060901/glacier-archiver/internal/archive/progress"
	"github.com/lk2023060901/glacier-archiver/internal/archive/types"
	"github.com/lk2023060901/glacier-archiver/internal/archive/workspace"
	apperrors "github.com/lk2023060901/glacier-archiver/internal/pkg/errors"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
	"go.uber.org/zap"
)

// Retrieve 把一批文件复制到各自请求的恢复目录
//
// 小文件依次尝试: 本地 building 目录(节点锁), 缓存中已解压的文件, 缓存中的 zip,
// 最后从冷存储恢复并下载整个归档(归档锁)。大文件直接恢复下载, 不加锁。
func (a *Archiver) Retrieve(ctx context.Context, reqs []types.RetrieveRequest, rep progress.RetrieveReporter) {
	if rep == nil {
		rep = progress.Nop{}
	}
	ctx, runID := newRun(ctx)
	a.logger.Info("retrieve batch started", zap.String("run_id", runID), zap.Int("files", len(reqs)))

	tasks := make([]task, 0, len(reqs))
	for _, req := range reqs {
		req := req
		fail := func(err error) { rep.RetrieveFailed(req, err) }

		loc, err := a.parseLocation(req.Location)
		if err != nil {
			fail(apperrors.Wrap(err, apperrors.ErrInvalidParams))
			continue
		}
		if req.RestorationDir == "" {
			fail(apperrors.New(apperrors.ErrInvalidParams, "restoration directory is required"))
			continue
		}
		name := retrieveName(req, loc)
		if err := workspace.SafeEntryName(name); err != nil {
			fail(apperrors.Wrap(err, apperrors.ErrInvalidParams))
			continue
		}
		dst := filepath.Join(req.RestorationDir, name)

		if !loc.Small() {
			tasks = append(tasks, task{
				op:     lockkey.OpRetrieveBig,
				target: lockkey.Target{Node: loc.Node},
				label:  loc.Key,
				run: func(ctx context.Context) error {
					return a.retrieveBig(ctx, loc, dst, req, rep)
				},
				fail: fail,
			})
			continue
		}

		tasks = append(tasks, task{
			op:     lockkey.OpRetrieveRemote,
			target: a.target(loc),
			staged: true,
			label:  req.Location,
			run: func(ctx context.Context) error {
				return a.retrieveSmall(ctx, loc, dst, req, rep)
			},
			fail: fail,
		})
	}
	a.dispatch(ctx, tasks)
}

func retrieveName(req types.RetrieveRequest, loc naming.Location) string {
	switch {
	case req.FileName != "":
		return req.FileName
	case loc.Small():
		return loc.Entry
	default:
		return path.Base(loc.Key)
	}
}

var errNotPending = errors.New("archive is not in the building tree")

// retrieveSmall looks in the building tree under the node lock first, then, once that lock
// is released, in the cache or cold storage under the archive lock.
func (a *Archiver) retrieveSmall(ctx context.Context, loc naming.Location, dst string, req types.RetrieveRequest, rep progress.RetrieveReporter) error {
	err := a.withLocks(ctx, lockkey.OpRetrieveBuilding, a.target(loc), func(ctx context.Context) error {
		return a.retrievePending(ctx, loc, dst, req, rep)
	})
	if !errors.Is(err, errNotPending) {
		return err
	}
	return a.withLocks(ctx, lockkey.OpRetrieveRemote, a.target(loc), func(ctx context.Context) error {
		return a.retrieveRemote(ctx, loc, dst, req, rep)
	})
}

// retrievePending copies the entry out of its building directory. The building directory,
// when present, is authoritative: a missing entry there is not looked up remotely.
func (a *Archiver) retrievePending(ctx context.Context, loc naming.Location, dst string, req types.RetrieveRequest, rep progress.RetrieveReporter) error {
	dir, err := a.ws.FindBuildingDir(loc.Node, loc.Timestamp)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrLocalIO)
	}
	if dir == nil {
		return errNotPending
	}
	real, err := workspace.RealPath(*dir)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrLocalIO)
	}
	src := filepath.Join(real, loc.Entry)
	if !workspace.Exists(src) {
		return apperrors.Wrap(workspace.ErrEntryNotFound, apperrors.ErrEntryNotFound, loc.Entry)
	}
	n, err := workspace.CopyFile(src, dst)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrLocalIO)
	}
	a.logger.WithContext(ctx).Debug("file retrieved from building directory",
		logger.Node(loc.Node), logger.Archive(dir.Name), logger.Entry(loc.Entry))
	rep.RetrieveSucceeded(req, dst, n, nil)
	return nil
}

// retrieveRemote runs under the archive lock. A delete may have linked the archive into the
// building tree since the first lookup; that directory then wins over the cache.
func (a *Archiver) retrieveRemote(ctx context.Context, loc naming.Location, dst string, req types.RetrieveRequest, rep progress.RetrieveReporter) error {
	err := a.withLocks(ctx, lockkey.OpRetrieveBuilding, a.target(loc), func(ctx context.Context) error {
		return a.retrievePending(ctx, loc, dst, req, rep)
	})
	if !errors.Is(err, errNotPending) {
		return err
	}

	log := a.logger.WithContext(ctx).With(logger.Node(loc.Node), logger.Archive(loc.Timestamp), logger.Entry(loc.Entry))
	extractDir := a.ws.CacheExtractDir(loc.Node, loc.Timestamp)
	extracted := filepath.Join(extractDir, loc.Entry)
	zipPath := a.ws.CachedZipPath(loc.Node, loc.Timestamp)

	var expiresAt *time.Time
	switch {
	case workspace.Exists(extracted):
		log.Debug("cache hit on extracted file")
	case workspace.Exists(zipPath):
		log.Debug("cache hit on archive")
		if _, err := workspace.ExtractEntry(zipPath, loc.Entry, extractDir); err != nil {
			return extractError(err, loc)
		}
	default:
		st, err := a.makeAvailable(ctx, loc.Key)
		if err != nil {
			return err
		}
		expiresAt = st.ExpiresAt
		if _, err := a.download(ctx, loc.Key, zipPath); err != nil {
			return err
		}
		if _, err := workspace.ExtractEntry(zipPath, loc.Entry, extractDir); err != nil {
			return extractError(err, loc)
		}
		log.Info("archive restored into cache")
	}

	n, err := workspace.CopyFile(extracted, dst)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrLocalIO)
	}
	rep.RetrieveSucceeded(req, dst, n, expiresAt)
	return nil
}

func extractError(err error, loc naming.Location) error {
	if errors.Is(err, workspace.ErrEntryNotFound) {
		return apperrors.Wrap(err, apperrors.ErrEntryNotFound, fmt.Sprintf("%s in %s", loc.Entry, loc.Key))
	}
	return apperrors.Wrap(err, apperrors.ErrExtractFailed, loc.Key)
}

// retrieveBig 不加锁
func (a *Archiver) retrieveBig(ctx context.Context, loc naming.Location, dst string, req types.RetrieveRequest, rep progress.RetrieveReporter) error {
	if workspace.Exists(dst) {
		if size, err := fileSize(dst); err == nil {
			rep.RetrieveSucceeded(req, dst, size, nil)
			return nil
		}
	}
	st, err := a.makeAvailable(ctx, loc.Key)
	if err != nil {
		return err
	}
	n, err := a.download(ctx, loc.Key, dst)
	if err != nil {
		return err
	}
	rep.RetrieveSucceeded(req, dst, n, st.ExpiresAt)
	return nil
}

func (a *Archiver) target(loc naming.Location) lockkey.Target {
	return lockkey.Target{Root: a.cfg.RootPath, Node: loc.Node, Timestamp: loc.Timestamp}
}
