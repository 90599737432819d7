package biz

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/lk2023060901/glacier-archiver/internal/archive/lockkey"
	"github.com/lk2023060901/glacier-archiver/internal/archive/naming"
	"github.com/lk2023060901/glacier-archiver/internal/archive/progress"
	"github.com/lk2023060901/glacier-archiver/internal/archive/workspace"
	apperrors "github.com/lk2023060901/glacier-archiver/internal/pkg/errors"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
	"go.uber.org/zap"
)

// RunPeriodicAction 周期任务: 上传所有可上传的 building 目录, 然后清理过期缓存
//
// 关闭的目录总是可上传; current 目录仅在其时间戳早于 ArchiveMaxAge 时被关闭并上传。
// 每次调用结束时恰好发出一次 AllPendingActionsProcessed。
func (a *Archiver) RunPeriodicAction(ctx context.Context, rep progress.PeriodicReporter) {
	if rep == nil {
		rep = progress.Nop{}
	}
	ctx, runID := newRun(ctx)
	start := time.Now()
	log := a.logger.With(zap.String("run_id", runID))

	dirs, err := a.eligibleDirs()
	if err != nil {
		log.Error("failed to scan building tree", zap.Error(err))
	}

	tasks := make([]task, 0, len(dirs))
	for _, d := range dirs {
		d := d
		tasks = append(tasks, task{
			op:     lockkey.OpFlush,
			target: lockkey.Target{Node: d.Node, Timestamp: d.Timestamp},
			label:  naming.Join(d.Node, d.Name),
			run: func(ctx context.Context) error {
				return a.flush(logger.WithNode(ctx, d.Node), d, rep)
			},
			fail: func(err error) { a.failDir(d, err, rep) },
		})
	}
	a.dispatch(ctx, tasks)
	log.Info("flush sweep completed", zap.Int("archives", len(tasks)), logger.Elapsed(start))

	if _, err := a.CleanCache(ctx); err != nil {
		log.Error("cache clean failed", zap.Error(err))
	}
	rep.AllPendingActionsProcessed()
}

// eligibleDirs lists the building directories a sweep must flush.
func (a *Archiver) eligibleDirs() ([]workspace.Dir, error) {
	nodes, err := a.ws.Nodes()
	if err != nil {
		return nil, err
	}
	now := a.now()
	var out []workspace.Dir
	for _, node := range nodes {
		dirs, err := a.ws.BuildingDirs(node)
		if err != nil {
			return out, err
		}
		for _, d := range dirs {
			if !d.Current || a.expired(d, now) {
				out = append(out, d)
			}
		}
	}
	return out, nil
}

func (a *Archiver) expired(d workspace.Dir, now time.Time) bool {
	return now.Sub(d.Time()) > a.cfg.ArchiveMaxAge
}

// flush runs under the archive and node locks of d.
func (a *Archiver) flush(ctx context.Context, d workspace.Dir, rep progress.PeriodicReporter) error {
	log := a.logger.WithContext(ctx).With(logger.Archive(d.Name))

	cur, err := a.ws.FindBuildingDir(d.Node, d.Timestamp)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrLocalIO)
	}
	if cur == nil {
		log.Debug("building directory already flushed")
		return nil
	}
	d = *cur
	if d.Current {
		if !a.expired(d, a.now()) {
			return nil
		}
		if d, err = a.ws.Close(d); err != nil {
			return apperrors.Wrap(err, apperrors.ErrLocalIO)
		}
	}

	real, err := workspace.RealPath(d)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrLocalIO)
	}
	entries, err := workspace.Entries(real)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrLocalIO)
	}
	key := a.archiveKey(d.Node, d.Timestamp)

	if len(entries) == 0 {
		if err := a.store.Delete(ctx, key); err != nil {
			log.Error("failed to delete remote archive of empty directory", logger.Key(key), zap.Error(err))
			return nil
		}
		if err := a.ws.RemoveBuildingDir(d); err != nil {
			log.Error("failed to remove empty building directory", zap.Error(err))
			return nil
		}
		log.Info("empty archive deleted", logger.Key(key))
		rep.ArchiveDeleted(key)
		return nil
	}

	zipPath := filepath.Join(a.ws.NodeBuildingDir(d.Node), d.ArchiveFile())
	defer os.Remove(zipPath)

	size, sum, err := workspace.ZipDir(real, zipPath)
	if err != nil {
		a.reportEntries(key, entries, rep, apperrors.Wrap(err, apperrors.ErrZipFailed, d.Name))
		return nil
	}
	if err := a.upload(ctx, key, zipPath, size, sum); err != nil {
		a.reportEntries(key, entries, rep, err)
		return nil
	}
	log.Info("archive uploaded", logger.Key(key), logger.Size(size), zap.Int("entries", len(entries)))
	a.reportEntries(key, entries, rep, nil)

	if d.Symlink {
		err = a.ws.RemoveAlias(d)
	} else {
		err = a.ws.RemoveBuildingDir(d)
	}
	if err != nil {
		// the next sweep uploads the same content again
		log.Warn("failed to clean uploaded building directory", zap.Error(err))
	}
	return nil
}

func (a *Archiver) upload(ctx context.Context, key, zipPath string, size int64, sum string) error {
	f, err := os.Open(zipPath)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrLocalIO)
	}
	defer f.Close()
	if err := a.store.Put(ctx, key, f, size, sum); err != nil {
		return apperrors.Wrap(err, apperrors.ErrUploadFailed, key)
	}
	return nil
}

// reportEntries sends one outcome per entry of an archive; err nil means success.
func (a *Archiver) reportEntries(key string, entries []string, rep progress.PeriodicReporter, err error) {
	for _, e := range entries {
		url := naming.SmallFileURL(key, e)
		if err != nil {
			rep.PendingActionFailed(url, err)
		} else {
			rep.PendingActionSucceeded(url)
		}
	}
}

// failDir reports err for every entry of a directory whose flush did not run.
func (a *Archiver) failDir(d workspace.Dir, err error, rep progress.PeriodicReporter) {
	real, rerr := workspace.RealPath(d)
	if rerr != nil {
		a.logger.Error("flush failed", logger.Archive(d.Name), zap.Error(err))
		return
	}
	entries, lerr := workspace.Entries(real)
	if lerr != nil {
		a.logger.Error("flush failed", logger.Archive(d.Name), zap.Error(err))
		return
	}
	a.reportEntries(a.archiveKey(d.Node, d.Timestamp), entries, rep, err)
}

// CleanReport 缓存清理结果
type CleanReport struct {
	Candidates int
	Cleaned    int
	Skipped    int
	Failed     int
}

// CleanCache 清理缓存目录中超过 CacheLifetime 的文件
//
// 仍被 building 目录符号链接引用的缓存目录不会被清理; 归档锁在 CleanAcquireTimeout 内
// 未获取到时跳过该目录。
func (a *Archiver) CleanCache(ctx context.Context) (CleanReport, error) {
	var report CleanReport
	now := a.now()
	entries, err := a.ws.ExpiredCacheEntries(a.cfg.CacheLifetime, now)
	if err != nil {
		return report, apperrors.Wrap(err, apperrors.ErrLocalIO)
	}
	report.Candidates = len(entries)
	oldest := now.Add(-a.cfg.CacheLifetime)

	results := make([]int, len(entries))
	const (
		cleaned = iota + 1
		skipped
		failed
	)

	tasks := make([]task, 0, len(entries))
	for i, e := range entries {
		i, e := i, e
		tasks = append(tasks, task{
			op:     lockkey.OpCleanCache,
			target: lockkey.Target{Node: e.Node, Timestamp: e.Timestamp},
			staged: true,
			label:  naming.Join(e.Node, e.Timestamp),
			run: func(ctx context.Context) error {
				names, err := lockkey.For(lockkey.OpCleanCache, lockkey.Target{Root: a.cfg.RootPath, Node: e.Node, Timestamp: e.Timestamp})
				if err != nil {
					return apperrors.Wrap(err, apperrors.ErrInvalidParams)
				}
				ran, err := a.locks.TryRunWithLock(ctx, names[0], a.cfg.CleanAcquireTimeout, func(ctx context.Context) error {
					linked, err := a.ws.IsLinked(e)
					if err != nil || linked {
						return err
					}
					_, err = a.ws.CleanCacheEntry(e, oldest)
					return err
				})
				if err != nil {
					return err
				}
				if !ran {
					a.logger.Warn("cache directory busy, skipped", logger.Node(e.Node), logger.Archive(e.Timestamp))
					results[i] = skipped
					return nil
				}
				results[i] = cleaned
				return nil
			},
			fail: func(err error) {
				results[i] = failed
				a.logger.Error("failed to clean cache directory", logger.Node(e.Node), logger.Archive(e.Timestamp), zap.Error(err))
			},
		})
	}
	a.dispatch(ctx, tasks)

	for _, r := range results {
		switch r {
		case cleaned:
			report.Cleaned++
		case skipped:
			report.Skipped++
		case failed:
			report.Failed++
		}
	}
	if report.Candidates > 0 {
		a.logger.Info("cache cleaned",
			zap.Int("candidates", report.Candidates),
			zap.Int("cleaned", report.Cleaned),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", report.Failed),
		)
	}
	return report, nil
}
