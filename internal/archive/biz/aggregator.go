package biz

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lk2023060901/glacier-archiver/internal/archive/lockkey"
	"github.com/lk2023060901/glacier-archiver/internal/archive/naming"
	"github.com/lk2023060901/glacier-archiver/internal/archive/progress"
	"github.com/lk2023060901/glacier-archiver/internal/archive/types"
	"github.com/lk2023060901/glacier-archiver/internal/archive/workspace"
	apperrors "github.com/lk2023060901/glacier-archiver/internal/pkg/errors"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
	"go.uber.org/zap"
)

// Store 存储一批文件。小文件写入节点的 current 归档目录并以 pending 状态上报,
// 大文件直接上传到 <root>/<node>/<checksum>。
func (a *Archiver) Store(ctx context.Context, reqs []types.StoreRequest, rep progress.StorageReporter) {
	if rep == nil {
		rep = progress.Nop{}
	}
	ctx, runID := newRun(ctx)
	a.logger.Info("store batch started", zap.String("run_id", runID), zap.Int("files", len(reqs)))

	tasks := make([]task, 0, len(reqs))
	for _, req := range reqs {
		req := req
		fail := func(err error) { rep.StoreFailed(req, err) }

		node, err := naming.NormalizeNode(req.Entry.Node)
		if err != nil {
			fail(apperrors.Wrap(err, apperrors.ErrInvalidParams))
			continue
		}
		if req.Entry.Origin == "" {
			fail(apperrors.Wrap(ErrMissingOrigin, apperrors.ErrInvalidParams, req.ID))
			continue
		}
		fi, err := os.Stat(req.Entry.Origin)
		if err != nil {
			fail(apperrors.Wrap(err, apperrors.ErrLocalIO, req.Entry.Origin))
			continue
		}
		size := fi.Size()

		if a.isSmall(size) {
			name := entryName(req.Entry)
			if err := workspace.SafeEntryName(name); err != nil {
				fail(apperrors.Wrap(err, apperrors.ErrInvalidParams))
				continue
			}
			tasks = append(tasks, task{
				op:     lockkey.OpStoreSmall,
				target: lockkey.Target{Node: node},
				label:  naming.Join(node, name),
				run: func(ctx context.Context) error {
					return a.storeSmall(ctx, node, name, size, req, rep)
				},
				fail: fail,
			})
			continue
		}

		tasks = append(tasks, task{
			op:     lockkey.OpStoreBig,
			target: lockkey.Target{Node: node},
			label:  naming.Join(node, req.Entry.FileName),
			run: func(ctx context.Context) error {
				return a.storeBig(ctx, node, size, req, rep)
			},
			fail: fail,
		})
	}
	a.dispatch(ctx, tasks)
}

func (a *Archiver) isSmall(size int64) bool {
	return a.cfg.SmallFileMaxSize > 0 && size <= a.cfg.SmallFileMaxSize
}

func entryName(e types.FileEntry) string {
	if e.FileName != "" {
		return e.FileName
	}
	return filepath.Base(e.Origin)
}

func isMD5(e types.FileEntry) bool {
	return e.Checksum != "" && (e.Algorithm == "" || strings.EqualFold(e.Algorithm, types.ChecksumMD5))
}

// storeSmall 在节点锁内执行
func (a *Archiver) storeSmall(ctx context.Context, node, name string, size int64, req types.StoreRequest, rep progress.StorageReporter) error {
	log := a.logger.WithContext(ctx).With(logger.Node(node), logger.Entry(name))

	expected := strings.ToLower(req.Entry.Checksum)
	if !isMD5(req.Entry) {
		sum, err := workspace.FileMD5(req.Entry.Origin)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrLocalIO, req.Entry.Origin)
		}
		expected = sum
	}

	dir, err := a.ws.CurrentDir(node)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrLocalIO)
	}

	if dir != nil {
		entry, dup, err := resolveEntry(dir.Path, name, expected)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrLocalIO)
		}
		if dup {
			log.Info("identical file already pending, nothing written", logger.Archive(dir.Name))
			rep.StoreSucceededPending(req, a.smallURL(node, dir.Timestamp, entry), size)
			return nil
		}

		full, err := a.mustRollOver(dir.Path, size)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrLocalIO)
		}
		if full {
			closed, err := a.ws.Close(*dir)
			if err != nil {
				return apperrors.Wrap(err, apperrors.ErrLocalIO)
			}
			log.Info("archive rolled over", logger.Archive(closed.Name))
			dir = nil
		}
	}

	if dir == nil {
		ts, err := a.nextTimestamp(node)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrLocalIO)
		}
		if dir, err = a.ws.CreateCurrent(node, ts); err != nil {
			return apperrors.Wrap(err, apperrors.ErrLocalIO)
		}
	}

	entry, dup, err := resolveEntry(dir.Path, name, expected)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrLocalIO)
	}
	url := a.smallURL(node, dir.Timestamp, entry)
	if dup {
		rep.StoreSucceededPending(req, url, size)
		return nil
	}

	dst := filepath.Join(dir.Path, entry)
	n, sum, err := workspace.CopyWithMD5(req.Entry.Origin, dst)
	if err != nil {
		os.Remove(dst)
		return apperrors.Wrap(err, apperrors.ErrLocalIO)
	}
	if sum != expected {
		os.Remove(dst)
		return apperrors.New(apperrors.ErrChecksumMismatch, fmt.Sprintf("%s: expected %s, got %s", name, expected, sum))
	}

	log.Debug("small file stored", logger.Archive(dir.Name), zap.String("stored_as", entry), logger.Size(n))
	rep.StoreSucceededPending(req, url, n)
	return nil
}

// resolveEntry returns the entry name the file takes in dir: name, or its first free
// collision alternative. dup is set when an entry with the same content already holds one of
// those names.
func resolveEntry(dir, name, md5 string) (entry string, dup bool, err error) {
	for n := 1; ; n++ {
		candidate := naming.CollisionName(name, n)
		p := filepath.Join(dir, candidate)
		if !workspace.Exists(p) {
			return candidate, false, nil
		}
		sum, err := workspace.FileMD5(p)
		if err != nil {
			return "", false, err
		}
		if sum == md5 {
			return candidate, true, nil
		}
	}
}

// mustRollOver reports whether adding size bytes to dir breaks a limit. An empty directory
// always accepts the file.
func (a *Archiver) mustRollOver(dir string, size int64) (bool, error) {
	total, count, err := workspace.Stats(dir)
	if err != nil || count == 0 {
		return false, err
	}
	if total+size > a.cfg.ArchiveMaxSize {
		return true, nil
	}
	return a.cfg.ArchiveMaxEntries > 0 && count+1 > a.cfg.ArchiveMaxEntries, nil
}

func (a *Archiver) smallURL(node, ts, entry string) string {
	return naming.SmallFileURL(a.archiveKey(node, ts), entry)
}

// storeBig 不加锁, key 由 checksum 唯一确定
func (a *Archiver) storeBig(ctx context.Context, node string, size int64, req types.StoreRequest, rep progress.StorageReporter) error {
	checksum := strings.ToLower(req.Entry.Checksum)
	if checksum == "" {
		sum, err := workspace.FileMD5(req.Entry.Origin)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrLocalIO, req.Entry.Origin)
		}
		checksum = sum
	}
	md5 := ""
	if isMD5(req.Entry) {
		md5 = checksum
	}

	f, err := os.Open(req.Entry.Origin)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrLocalIO, req.Entry.Origin)
	}
	defer f.Close()

	key := naming.BigFileKey(a.cfg.RootPath, node, checksum)
	if err := a.store.Put(ctx, key, f, size, md5); err != nil {
		return apperrors.Wrap(err, apperrors.ErrUploadFailed, key)
	}
	a.logger.WithContext(ctx).Info("file stored", logger.Key(key), logger.Size(size))
	rep.StoreSucceeded(req, key, size)
	return nil
}
