package naming

import (
	"fmt"
	"path"
	"strings"
)

const entrySeparator = "?" + FileNameParam + "="

// Location is a parsed storage URL.
type Location struct {
	Key       string // remote object key, without the entry part
	Node      string // node relative to the root path
	Timestamp string // archive timestamp, small files only
	Entry     string // entry inside the archive, small files only
}

// Small reports whether the location addresses an entry inside an archive.
func (l Location) Small() bool {
	return l.Entry != ""
}

// SmallFileURL returns <archive key>?fileName=<entry>.
func SmallFileURL(archiveKey, entry string) string {
	return archiveKey + entrySeparator + entry
}

// ParseURL splits a storage URL produced by this package. root is the configured root path.
func ParseURL(root, url string) (Location, error) {
	key, entry, small := strings.Cut(url, entrySeparator)
	if small && entry == "" {
		return Location{}, fmt.Errorf("%w: empty entry in %q", ErrNotSmallFileURL, url)
	}

	rel := strings.Trim(key, "/")
	if r := strings.Trim(root, "/"); r != "" {
		if rel != r && !strings.HasPrefix(rel, r+"/") {
			return Location{}, fmt.Errorf("naming: %q is outside root path %q", url, root)
		}
		rel = strings.TrimPrefix(strings.TrimPrefix(rel, r), "/")
	}

	loc := Location{Key: key, Node: path.Dir(rel)}
	if loc.Node == "." {
		loc.Node = ""
	}
	if !small {
		return loc, nil
	}

	ts, err := ArchiveTimestamp(path.Base(rel))
	if err != nil {
		return Location{}, fmt.Errorf("%w: %q", ErrNotSmallFileURL, url)
	}
	loc.Timestamp = ts
	loc.Entry = entry
	return loc, nil
}

// LockName returns LOCK_/<root>/<resource><suffix>.
func LockName(root, resource, suffix string) string {
	return LockPrefix + "/" + Join(root, resource) + suffix
}

// NodeLockName guards the building slot of a node.
func NodeLockName(root, node string) string {
	return LockName(root, node, StoreLockSuffix)
}

// ArchiveLockName guards one archive: its remote object and its cache artifacts.
func ArchiveLockName(root, node, ts string) string {
	return LockName(root, Join(node, ArchiveFile(ts)), RestoreLockSuffix)
}
