// Package workspace manages the local directory trees of the archiver.
//
// The building tree (<dir>/zip) holds one directory per archive under construction, named
// rs_zip_<ts>_current while open and rs_zip_<ts> once closed. The cache tree (<dir>/tmp)
// holds archives downloaded from cold storage (<ts>.zip) and their extractions (rs_zip_<ts>).
// A closed building directory may be a symlink into the cache tree when an uploaded archive
// was restored to be modified; such an alias owns nothing, the cache directory behind it does.
//
// Workspace does not lock anything. Callers hold the lock names the archive engine derives
// for the directory they touch.
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

var (
	ErrEntryNotFound = errors.New("workspace: entry not found")
	ErrNotBuilding   = errors.New("workspace: building directory not found")
)

const dirPerm = 0o755

// Dir is a building or cache directory found on disk.
type Dir struct {
	naming.BuildingDir
	Node string
	Path string
	// Symlink is set for a building directory aliasing a cache directory.
	Symlink bool
}

// Workspace resolves and mutates paths under one local root.
type Workspace struct {
	dir      string
	rootPath string
	logger   *logger.Logger
}

// New creates both trees under dir. rootPath is the remote root prefix, mirrored locally.
func New(dir, rootPath string, log *logger.Logger) (*Workspace, error) {
	if dir == "" {
		return nil, errors.New("workspace: directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace %s: %w", dir, err)
	}
	if log == nil {
		log = logger.NewNop()
	}
	w := &Workspace{dir: abs, rootPath: naming.Join(rootPath), logger: log.Named("workspace")}
	for _, tree := range []string{w.BuildingTree(), w.CacheTree()} {
		if err := os.MkdirAll(tree, dirPerm); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", tree, err)
		}
	}
	return w, nil
}

func (w *Workspace) Dir() string { return w.dir }

func (w *Workspace) RootPath() string { return w.rootPath }

// BuildingTree returns <dir>/zip/<root>.
func (w *Workspace) BuildingTree() string {
	return filepath.Join(w.dir, naming.BuildingTree, filepath.FromSlash(w.rootPath))
}

// CacheTree returns <dir>/tmp/<root>.
func (w *Workspace) CacheTree() string {
	return filepath.Join(w.dir, naming.CacheTree, filepath.FromSlash(w.rootPath))
}

func (w *Workspace) NodeBuildingDir(node string) string {
	return filepath.Join(w.BuildingTree(), filepath.FromSlash(node))
}

func (w *Workspace) NodeCacheDir(node string) string {
	return filepath.Join(w.CacheTree(), filepath.FromSlash(node))
}

// BuildingPath returns the path of the building directory dirName of node.
func (w *Workspace) BuildingPath(node, dirName string) string {
	return filepath.Join(w.NodeBuildingDir(node), dirName)
}

// CachedZipPath returns <cache>/<node>/<ts>.zip.
func (w *Workspace) CachedZipPath(node, ts string) string {
	return filepath.Join(w.NodeCacheDir(node), naming.ArchiveFile(ts))
}

// CacheExtractDir returns <cache>/<node>/rs_zip_<ts>.
func (w *Workspace) CacheExtractDir(node, ts string) string {
	return filepath.Join(w.NodeCacheDir(node), naming.BuildingPrefix+ts)
}

// node converts an absolute path under tree back to a node path.
func nodeOf(tree, dir string) string {
	rel, err := filepath.Rel(tree, dir)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

// Nodes lists every node that has at least one building directory, sorted.
func (w *Workspace) Nodes() ([]string, error) {
	tree := w.BuildingTree()
	seen := map[string]struct{}{}
	err := filepath.WalkDir(tree, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if p == tree {
			return nil
		}
		if _, perr := naming.ParseBuildingDir(d.Name()); perr == nil {
			seen[nodeOf(tree, filepath.Dir(p))] = struct{}{}
			if d.IsDir() {
				return filepath.SkipDir
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan building tree: %w", err)
	}
	nodes := make([]string, 0, len(seen))
	for n := range seen {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	return nodes, nil
}

// BuildingDirs lists the building directories of node sorted by timestamp. Symlinks are
// reported as such; entries with unrelated names are ignored.
func (w *Workspace) BuildingDirs(node string) ([]Dir, error) {
	parent := w.NodeBuildingDir(node)
	entries, err := os.ReadDir(parent)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", parent, err)
	}

	var dirs []Dir
	for _, e := range entries {
		bd, perr := naming.ParseBuildingDir(e.Name())
		if perr != nil {
			continue
		}
		full := filepath.Join(parent, e.Name())
		symlink := e.Type()&fs.ModeSymlink != 0
		if !symlink && !e.IsDir() {
			continue
		}
		dirs = append(dirs, Dir{BuildingDir: bd, Node: node, Path: full, Symlink: symlink})
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Timestamp < dirs[j].Timestamp })
	return dirs, nil
}

// CurrentDir returns the open building directory of node, or nil.
func (w *Workspace) CurrentDir(node string) (*Dir, error) {
	dirs, err := w.BuildingDirs(node)
	if err != nil {
		return nil, err
	}
	for i := len(dirs) - 1; i >= 0; i-- {
		if dirs[i].Current {
			return &dirs[i], nil
		}
	}
	return nil, nil
}

// LastTimestamp returns the newest timestamp used by a building directory of node.
func (w *Workspace) LastTimestamp(node string) (time.Time, error) {
	dirs, err := w.BuildingDirs(node)
	if err != nil || len(dirs) == 0 {
		return time.Time{}, err
	}
	return dirs[len(dirs)-1].Time(), nil
}

// CreateCurrent creates rs_zip_<ts>_current for node.
func (w *Workspace) CreateCurrent(node string, ts time.Time) (*Dir, error) {
	name := naming.BuildingDirName(ts, true)
	bd, _ := naming.ParseBuildingDir(name)
	full := w.BuildingPath(node, name)
	if err := os.MkdirAll(full, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create building directory %s: %w", full, err)
	}
	w.logger.Debug("building directory created", logger.Node(node), logger.Archive(name))
	return &Dir{BuildingDir: bd, Node: node, Path: full}, nil
}

// Close renames a current directory to its closed name.
func (w *Workspace) Close(d Dir) (Dir, error) {
	if !d.Current {
		return d, nil
	}
	closed := d.ClosedName()
	target := filepath.Join(filepath.Dir(d.Path), closed)
	if err := os.Rename(d.Path, target); err != nil {
		return d, fmt.Errorf("failed to close building directory %s: %w", d.Path, err)
	}
	w.logger.Debug("building directory closed", logger.Node(d.Node), logger.Archive(closed))
	d.Name, d.Path, d.Current = closed, target, false
	return d, nil
}

// FindBuildingDir returns the building directory of node for archive ts, closed or current.
func (w *Workspace) FindBuildingDir(node, ts string) (*Dir, error) {
	for _, current := range []bool{false, true} {
		name := naming.BuildingPrefix + ts
		if current {
			name += naming.CurrentSuffix
		}
		full := w.BuildingPath(node, name)
		fi, err := os.Lstat(full)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", full, err)
		}
		bd, _ := naming.ParseBuildingDir(name)
		return &Dir{BuildingDir: bd, Node: node, Path: full, Symlink: fi.Mode()&fs.ModeSymlink != 0}, nil
	}
	return nil, nil
}

// Link makes the closed building directory of archive ts an alias of its cache extraction.
func (w *Workspace) Link(node, ts string) (Dir, error) {
	target := w.CacheExtractDir(node, ts)
	name := naming.BuildingPrefix + ts
	link := w.BuildingPath(node, name)
	if err := os.MkdirAll(filepath.Dir(link), dirPerm); err != nil {
		return Dir{}, fmt.Errorf("failed to create %s: %w", filepath.Dir(link), err)
	}
	if err := os.Symlink(target, link); err != nil {
		return Dir{}, fmt.Errorf("failed to link %s to %s: %w", link, target, err)
	}
	bd, _ := naming.ParseBuildingDir(name)
	return Dir{BuildingDir: bd, Node: node, Path: link, Symlink: true}, nil
}

// RealPath resolves a building directory alias to the directory it points to.
func RealPath(d Dir) (string, error) {
	if !d.Symlink {
		return d.Path, nil
	}
	target, err := os.Readlink(d.Path)
	if err != nil {
		return "", fmt.Errorf("failed to read link %s: %w", d.Path, err)
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(d.Path), target)
	}
	return filepath.Clean(target), nil
}

// RemoveBuildingDir deletes a building directory. For an alias the real directory goes first,
// then the link and the cached zip, so no path is released twice.
func (w *Workspace) RemoveBuildingDir(d Dir) error {
	if d.Symlink {
		real, err := RealPath(d)
		if err != nil {
			return err
		}
		if err := os.RemoveAll(real); err != nil {
			return fmt.Errorf("failed to remove %s: %w", real, err)
		}
		if err := os.Remove(d.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove link %s: %w", d.Path, err)
		}
		zip := w.CachedZipPath(d.Node, d.Timestamp)
		if err := os.Remove(zip); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", zip, err)
		}
		return nil
	}
	if err := os.RemoveAll(d.Path); err != nil {
		return fmt.Errorf("failed to remove %s: %w", d.Path, err)
	}
	return nil
}

// RemoveAlias deletes the link of an aliased building directory and the cached zip it came
// from. The extraction behind the link stays for the cache cleaner.
func (w *Workspace) RemoveAlias(d Dir) error {
	if err := os.Remove(d.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove link %s: %w", d.Path, err)
	}
	zip := w.CachedZipPath(d.Node, d.Timestamp)
	if err := os.Remove(zip); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", zip, err)
	}
	return nil
}

// Entries lists the regular files of a directory (following an alias), sorted.
func Entries(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Stats returns the total size and number of regular files in dir.
func Stats(dir string) (size int64, count int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, err
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			return 0, 0, err
		}
		size += fi.Size()
		count++
	}
	return size, count, nil
}

// IsEmpty reports whether dir holds no regular file.
func IsEmpty(dir string) (bool, error) {
	_, n, err := Stats(dir)
	return n == 0, err
}

// Exists reports whether p exists, without following a final symlink.
func Exists(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}

// RemoveEntry deletes one file of a building directory.
func RemoveEntry(dir, entry string) error {
	p := filepath.Join(dir, entry)
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrEntryNotFound, p)
		}
		return fmt.Errorf("failed to remove %s: %w", p, err)
	}
	return nil
}

// SafeEntryName rejects names that would escape their directory.
func SafeEntryName(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name || filepath.IsAbs(name) {
		return fmt.Errorf("workspace: invalid entry name %q", name)
	}
	return nil
}

func (w *Workspace) warn(msg string, err error, fields ...zap.Field) {
	w.logger.Warn(msg, append(fields, zap.Error(err))...)
}
