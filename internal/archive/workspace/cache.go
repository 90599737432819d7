package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/lk2023060901/glacier-archiver/internal/archive/naming"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
	"go.uber.org/zap"
)

// CacheEntry identifies the cache artifacts of one archive: the extraction directory, the
// downloaded zip, or both.
type CacheEntry struct {
	Node      string
	Timestamp string
	Dir       string // <cache>/<node>/rs_zip_<ts>, may not exist
	Zip       string // <cache>/<node>/<ts>.zip, may not exist
}

// CleanResult summarizes one CleanCacheEntry call.
type CleanResult struct {
	FilesRemoved int
	DirRemoved   bool
	ZipRemoved   bool
}

// linkedTargets returns the real paths every aliased building directory points to.
func (w *Workspace) linkedTargets() (map[string]struct{}, error) {
	targets := map[string]struct{}{}
	tree := w.BuildingTree()
	err := filepath.WalkDir(tree, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		real, rerr := RealPath(Dir{Path: p, Symlink: true})
		if rerr != nil {
			w.warn("ignoring unreadable link", rerr, zap.String("path", p))
			return nil
		}
		targets[real] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan building tree links: %w", err)
	}
	return targets, nil
}

// ExpiredCacheEntries lists the cache entries holding a file older than lifetime, or an
// empty extraction directory. Entries still aliased from the building tree are skipped.
func (w *Workspace) ExpiredCacheEntries(lifetime time.Duration, now time.Time) ([]CacheEntry, error) {
	linked, err := w.linkedTargets()
	if err != nil {
		return nil, err
	}
	oldest := now.Add(-lifetime)
	tree := w.CacheTree()
	found := map[string]CacheEntry{}

	err = filepath.WalkDir(tree, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if p == tree {
			return nil
		}
		node := nodeOf(tree, filepath.Dir(p))

		if d.IsDir() {
			bd, perr := naming.ParseBuildingDir(d.Name())
			if perr != nil || bd.Current {
				return nil
			}
			if _, ok := linked[filepath.Clean(p)]; ok {
				w.logger.Debug("cache directory still linked, skipped", zap.String("path", p))
				return filepath.SkipDir
			}
			expired, eerr := hasExpiredContent(p, oldest)
			if eerr != nil {
				return eerr
			}
			if expired {
				found[node+"|"+bd.Timestamp] = w.cacheEntry(node, bd.Timestamp)
			}
			return filepath.SkipDir
		}

		if d.Type().IsRegular() {
			ts, terr := naming.ArchiveTimestamp(d.Name())
			if terr != nil {
				return nil
			}
			if _, ok := linked[filepath.Clean(w.CacheExtractDir(node, ts))]; ok {
				return nil
			}
			fi, ierr := d.Info()
			if ierr != nil {
				return ierr
			}
			if fi.ModTime().Before(oldest) {
				found[node+"|"+ts] = w.cacheEntry(node, ts)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan cache tree: %w", err)
	}

	out := make([]CacheEntry, 0, len(found))
	for _, e := range found {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Node != out[j].Node {
			return out[i].Node < out[j].Node
		}
		return out[i].Timestamp < out[j].Timestamp
	})
	return out, nil
}

func (w *Workspace) cacheEntry(node, ts string) CacheEntry {
	return CacheEntry{
		Node:      node,
		Timestamp: ts,
		Dir:       w.CacheExtractDir(node, ts),
		Zip:       w.CachedZipPath(node, ts),
	}
}

func hasExpiredContent(dir string, oldest time.Time) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		return true, nil
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			return false, err
		}
		if fi.ModTime().Before(oldest) {
			return true, nil
		}
	}
	return false, nil
}

// IsLinked reports whether a building directory alias points at the extraction of e.
func (w *Workspace) IsLinked(e CacheEntry) (bool, error) {
	linked, err := w.linkedTargets()
	if err != nil {
		return false, err
	}
	_, ok := linked[filepath.Clean(e.Dir)]
	return ok, nil
}

// CleanCacheEntry deletes the files of e older than oldest. An extraction directory left
// empty is removed together with the zip it came from; a zip without extraction is removed
// once it is older than oldest itself.
func (w *Workspace) CleanCacheEntry(e CacheEntry, oldest time.Time) (CleanResult, error) {
	var res CleanResult

	entries, err := os.ReadDir(e.Dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		fi, serr := os.Stat(e.Zip)
		if serr == nil && fi.ModTime().Before(oldest) {
			if err := os.Remove(e.Zip); err != nil {
				return res, fmt.Errorf("failed to remove %s: %w", e.Zip, err)
			}
			res.ZipRemoved = true
		}
		return res, nil
	case err != nil:
		return res, fmt.Errorf("failed to list %s: %w", e.Dir, err)
	}

	empty := true
	for _, entry := range entries {
		p := filepath.Join(e.Dir, entry.Name())
		fi, err := entry.Info()
		if err != nil {
			return res, err
		}
		if entry.IsDir() || !fi.ModTime().Before(oldest) {
			empty = false
			continue
		}
		if err := os.Remove(p); err != nil {
			return res, fmt.Errorf("failed to remove %s: %w", p, err)
		}
		res.FilesRemoved++
	}

	if empty {
		if err := os.Remove(e.Dir); err != nil {
			return res, fmt.Errorf("failed to remove %s: %w", e.Dir, err)
		}
		res.DirRemoved = true
		os.RemoveAll(stagingDir(e.Dir))
		if err := os.Remove(e.Zip); err == nil {
			res.ZipRemoved = true
		} else if !errors.Is(err, fs.ErrNotExist) {
			return res, fmt.Errorf("failed to remove %s: %w", e.Zip, err)
		}
	}

	w.logger.Debug("cache entry cleaned",
		logger.Node(e.Node),
		logger.Archive(e.Timestamp),
		zap.Int("files_removed", res.FilesRemoved),
		zap.Bool("dir_removed", res.DirRemoved),
	)
	return res, nil
}
