// Package naming maps nodes, timestamps and entry names to the directory names, object keys,
// URLs and lock names used by the small-file archiving engine. It performs no I/O.
//
// The formats are shared with archives written by earlier deployments and must not change.
package naming

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
)

const (
	// BuildingTree is the workspace sub-directory holding archives under construction.
	BuildingTree = "zip"
	// CacheTree is the workspace sub-directory holding downloaded archives and extractions.
	CacheTree = "tmp"

	BuildingPrefix = "rs_zip_"
	CurrentSuffix  = "_current"
	ZipExtension   = ".zip"

	// FileNameParam addresses one entry inside a remote archive: <archive key>?fileName=<entry>.
	FileNameParam = "fileName"

	LockPrefix        = "LOCK_"
	StoreLockSuffix   = "_STORE"
	RestoreLockSuffix = "_RESTORE"

	timestampLen = len("yyyyMMddHHmmssSSS")
	secondsStamp = "20060102150405"
)

var (
	ErrInvalidNode        = errors.New("naming: invalid node path")
	ErrInvalidTimestamp   = errors.New("naming: invalid archive timestamp")
	ErrInvalidBuildingDir = errors.New("naming: not a building directory name")
	ErrNotSmallFileURL    = errors.New("naming: url does not address an archive entry")
)

// FormatTimestamp renders t (in UTC) as yyyyMMddHHmmssSSS.
func FormatTimestamp(t time.Time) string {
	t = t.UTC()
	return t.Format(secondsStamp) + fmt.Sprintf("%03d", t.Nanosecond()/int(time.Millisecond))
}

// ParseTimestamp is the inverse of FormatTimestamp.
func ParseTimestamp(s string) (time.Time, error) {
	if len(s) != timestampLen {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}
	t, err := time.ParseInLocation(secondsStamp, s[:len(secondsStamp)], time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}
	ms, err := strconv.Atoi(s[len(secondsStamp):])
	if err != nil || ms < 0 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}
	return t.Add(time.Duration(ms) * time.Millisecond), nil
}

// NextTimestamp returns now truncated to the millisecond, bumped past last when the clock has
// not moved forward, so two archives of a node never share a name.
func NextTimestamp(now, last time.Time) time.Time {
	now = now.UTC().Truncate(time.Millisecond)
	if !last.IsZero() && !now.After(last) {
		return last.UTC().Truncate(time.Millisecond).Add(time.Millisecond)
	}
	return now
}

// NormalizeNode cleans a node path: no leading or trailing slash, no "." or ".." segments.
// The empty node is valid and means "directly under the root path".
func NormalizeNode(node string) (string, error) {
	node = strings.Trim(strings.ReplaceAll(node, "\\", "/"), "/")
	if node == "" {
		return "", nil
	}
	for _, seg := range strings.Split(node, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidNode, node)
		}
	}
	cleaned := path.Clean(node)
	if cleaned == "." {
		return "", nil
	}
	return cleaned, nil
}

// Join concatenates non-empty segments with "/".
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s = strings.Trim(s, "/"); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}
