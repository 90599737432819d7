package naming

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BuildingDir describes a parsed building directory name.
type BuildingDir struct {
	Name      string // directory name as found on disk
	Timestamp string // yyyyMMddHHmmssSSS
	Current   bool
}

// Time returns the creation time encoded in the name.
func (d BuildingDir) Time() time.Time {
	t, _ := ParseTimestamp(d.Timestamp)
	return t
}

// ClosedName is the name the directory takes once rolled over.
func (d BuildingDir) ClosedName() string {
	return BuildingPrefix + d.Timestamp
}

// ArchiveFile is the name of the zip built from this directory.
func (d BuildingDir) ArchiveFile() string {
	return ArchiveFile(d.Timestamp)
}

// BuildingDirName returns rs_zip_<ts> or rs_zip_<ts>_current.
func BuildingDirName(ts time.Time, current bool) string {
	name := BuildingPrefix + FormatTimestamp(ts)
	if current {
		name += CurrentSuffix
	}
	return name
}

// ParseBuildingDir recognizes rs_zip_<ts>[_current].
func ParseBuildingDir(name string) (BuildingDir, error) {
	if !strings.HasPrefix(name, BuildingPrefix) {
		return BuildingDir{}, fmt.Errorf("%w: %q", ErrInvalidBuildingDir, name)
	}
	rest := strings.TrimPrefix(name, BuildingPrefix)
	current := strings.HasSuffix(rest, CurrentSuffix)
	rest = strings.TrimSuffix(rest, CurrentSuffix)
	if _, err := ParseTimestamp(rest); err != nil {
		return BuildingDir{}, fmt.Errorf("%w: %q", ErrInvalidBuildingDir, name)
	}
	return BuildingDir{Name: name, Timestamp: rest, Current: current}, nil
}

// ArchiveFile returns <ts>.zip.
func ArchiveFile(ts string) string {
	return ts + ZipExtension
}

// ArchiveTimestamp extracts <ts> from <ts>.zip.
func ArchiveTimestamp(file string) (string, error) {
	ts := strings.TrimSuffix(file, ZipExtension)
	if ts == file {
		return "", fmt.Errorf("%w: %q", ErrInvalidTimestamp, file)
	}
	if _, err := ParseTimestamp(ts); err != nil {
		return "", err
	}
	return ts, nil
}

// ArchiveKey returns the remote object key <root>/<node>/<ts>.zip.
func ArchiveKey(root, node, ts string) string {
	return Join(root, node, ArchiveFile(ts))
}

// BigFileKey returns the remote object key of a file stored on its own.
func BigFileKey(root, node, checksum string) string {
	return Join(root, node, checksum)
}

// CollisionName returns the n-th (n >= 2) alternative for an entry name: the counter goes
// before the extension, "a.txt" -> "a_2.txt", "README" -> "README_2".
func CollisionName(name string, n int) string {
	if n < 2 {
		return name
	}
	suffix := "_" + strconv.Itoa(n)
	idx := strings.LastIndex(name, ".")
	if idx <= 0 {
		return name + suffix
	}
	return name[:idx] + suffix + name[idx:]
}
