package workspace

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkspace(t *testing.T) *Workspace {
	t.Helper()
	w, err := New(t.TempDir(), "root", nil)
	require.NoError(t, err)
	return w
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func ts(ms int) time.Time {
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(ms) * time.Millisecond)
}

func TestLayout(t *testing.T) {
	w := newWorkspace(t)

	assert.Equal(t, filepath.Join(w.Dir(), "zip", "root"), w.BuildingTree())
	assert.Equal(t, filepath.Join(w.Dir(), "tmp", "root"), w.CacheTree())
	assert.Equal(t, filepath.Join(w.CacheTree(), "a", "b", "20240301120000000.zip"), w.CachedZipPath("a/b", "20240301120000000"))
	assert.Equal(t, filepath.Join(w.CacheTree(), "a", "rs_zip_20240301120000000"), w.CacheExtractDir("a", "20240301120000000"))

	_, err := New("", "root", nil)
	assert.Error(t, err)
}

func TestBuildingDirLifecycle(t *testing.T) {
	w := newWorkspace(t)

	cur, err := w.CurrentDir("n1")
	require.NoError(t, err)
	assert.Nil(t, cur)

	d, err := w.CreateCurrent("n1", ts(0))
	require.NoError(t, err)
	assert.True(t, d.Current)
	assert.Equal(t, "rs_zip_20240301120000000_current", d.Name)

	writeFile(t, filepath.Join(d.Path, "a.txt"), "aaa")
	writeFile(t, filepath.Join(d.Path, "b.txt"), "bb")
	size, count, err := Stats(d.Path)
	require.NoError(t, err)
	assert.EqualValues(t, 5, size)
	assert.Equal(t, 2, count)

	closed, err := w.Close(*d)
	require.NoError(t, err)
	assert.False(t, closed.Current)
	assert.Equal(t, "rs_zip_20240301120000000", filepath.Base(closed.Path))

	_, err = w.CreateCurrent("n1", ts(5))
	require.NoError(t, err)

	dirs, err := w.BuildingDirs("n1")
	require.NoError(t, err)
	require.Len(t, dirs, 2)
	assert.False(t, dirs[0].Current)
	assert.True(t, dirs[1].Current)

	last, err := w.LastTimestamp("n1")
	require.NoError(t, err)
	assert.True(t, last.Equal(ts(5)))

	found, err := w.FindBuildingDir("n1", "20240301120000005")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.True(t, found.Current)

	missing, err := w.FindBuildingDir("n1", "20240301120000009")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = w.CreateCurrent("deep/node", ts(0))
	require.NoError(t, err)
	nodes, err := w.Nodes()
	require.NoError(t, err)
	assert.Equal(t, []string{"deep/node", "n1"}, nodes)
}

func TestLinkAndRemove(t *testing.T) {
	w := newWorkspace(t)
	const stamp = "20240301120000000"

	writeFile(t, filepath.Join(w.CacheExtractDir("n", stamp), "x.txt"), "x")
	writeFile(t, w.CachedZipPath("n", stamp), "zip")

	alias, err := w.Link("n", stamp)
	require.NoError(t, err)
	assert.True(t, alias.Symlink)

	dirs, err := w.BuildingDirs("n")
	require.NoError(t, err)
	require.Len(t, dirs, 1)
	assert.True(t, dirs[0].Symlink)

	real, err := RealPath(dirs[0])
	require.NoError(t, err)
	assert.Equal(t, w.CacheExtractDir("n", stamp), real)

	names, err := Entries(alias.Path)
	require.NoError(t, err)
	assert.Equal(t, []string{"x.txt"}, names)

	t.Run("alias removal keeps extraction", func(t *testing.T) {
		require.NoError(t, w.RemoveAlias(alias))
		assert.False(t, Exists(alias.Path))
		assert.False(t, Exists(w.CachedZipPath("n", stamp)))
		assert.True(t, Exists(w.CacheExtractDir("n", stamp)))
	})

	t.Run("building dir removal frees real path then link", func(t *testing.T) {
		again, err := w.Link("n", stamp)
		require.NoError(t, err)
		require.NoError(t, w.RemoveBuildingDir(again))
		assert.False(t, Exists(again.Path))
		assert.False(t, Exists(w.CacheExtractDir("n", stamp)))
	})
}

func TestRemoveEntry(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a"), "1")

	require.NoError(t, RemoveEntry(dir, "a"))
	assert.ErrorIs(t, RemoveEntry(dir, "a"), ErrEntryNotFound)

	removed, err := RemoveIfEmpty(dir)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, Exists(dir))
}

func TestSafeEntryName(t *testing.T) {
	assert.NoError(t, SafeEntryName("file.txt"))
	for _, bad := range []string{"", ".", "..", "a/b", "/abs"} {
		assert.Error(t, SafeEntryName(bad), bad)
	}
}

func TestZipRoundTrip(t *testing.T) {
	src := t.TempDir()
	files := map[string]string{"a.txt": "alpha", "b.bin": "beta beta", "c": ""}
	for name, content := range files {
		writeFile(t, filepath.Join(src, name), content)
	}

	dst := filepath.Join(t.TempDir(), "out", "20240301120000000.zip")
	size, sum, err := ZipDir(src, dst)
	require.NoError(t, err)
	assert.Positive(t, size)
	assert.Len(t, sum, 32)

	got, err := FileMD5(dst)
	require.NoError(t, err)
	assert.Equal(t, sum, got)

	names, err := ZipEntries(dst)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.txt", "b.bin", "c"}, names)

	out := t.TempDir()
	n, err := Unzip(dst, out)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	for name, content := range files {
		data, err := os.ReadFile(filepath.Join(out, name))
		require.NoError(t, err)
		assert.Equal(t, content, string(data))
	}

	one := t.TempDir()
	written, err := ExtractEntry(dst, "b.bin", one)
	require.NoError(t, err)
	assert.EqualValues(t, len("beta beta"), written)
	_, err = ExtractEntry(dst, "nope", one)
	assert.ErrorIs(t, err, ErrEntryNotFound)

	// the source directory survives zipping
	left, err := Entries(src)
	require.NoError(t, err)
	assert.Len(t, left, 3)
}

func TestExtractLeavesNoPartialEntries(t *testing.T) {
	const body = "payload that fails its checksum"
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"ok.txt", "broken.txt"} {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		require.NoError(t, err)
		_, err = w.Write([]byte(name + ": " + body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	raw := buf.Bytes()
	i := bytes.Index(raw, []byte("broken.txt: "+body))
	require.Positive(t, i)
	raw[i+len("broken.txt: ")] ^= 0xff

	src := filepath.Join(t.TempDir(), "20240301120000000.zip")
	require.NoError(t, os.WriteFile(src, raw, 0o644))

	dir := filepath.Join(t.TempDir(), "rs_zip_20240301120000000")
	writeFile(t, filepath.Join(dir, "kept.part"), "a real entry")

	_, err := ExtractEntry(src, "broken.txt", dir)
	require.Error(t, err)
	_, err = Unzip(src, dir)
	require.Error(t, err)

	names, err := Entries(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept.part", "ok.txt"}, names)
	assert.False(t, Exists(stagingDir(dir)))

	size, _, err := ZipDir(dir, filepath.Join(t.TempDir(), "out.zip"))
	require.NoError(t, err)
	assert.Positive(t, size)
}

func TestZipDirFailureKeepsSource(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a"), "a")

	_, _, err := ZipDir(filepath.Join(src, "missing"), filepath.Join(t.TempDir(), "x.zip"))
	assert.Error(t, err)
	assert.True(t, Exists(filepath.Join(src, "a")))
}

func TestCopyWithMD5(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	writeFile(t, src, "hello")

	n, sum, err := CopyWithMD5(src, filepath.Join(dir, "dst"))
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", sum)

	_, _, err = CopyWithMD5(src, filepath.Join(dir, "dst"))
	assert.Error(t, err, "existing destination is never overwritten")
}

func TestExpiredCacheEntries(t *testing.T) {
	w := newWorkspace(t)
	now := time.Now()
	old := now.Add(-48 * time.Hour)

	const (
		stale  = "20240301120000000"
		fresh  = "20240301120000001"
		linked = "20240301120000002"
		empty  = "20240301120000003"
		orphan = "20240301120000004"
	)

	staleFile := filepath.Join(w.CacheExtractDir("n", stale), "s")
	writeFile(t, staleFile, "s")
	require.NoError(t, os.Chtimes(staleFile, old, old))
	writeFile(t, w.CachedZipPath("n", stale), "zip")

	writeFile(t, filepath.Join(w.CacheExtractDir("n", fresh), "f"), "f")

	linkedFile := filepath.Join(w.CacheExtractDir("n", linked), "l")
	writeFile(t, linkedFile, "l")
	require.NoError(t, os.Chtimes(linkedFile, old, old))
	_, err := w.Link("n", linked)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(w.CacheExtractDir("other/node", empty), 0o755))

	writeFile(t, w.CachedZipPath("n", orphan), "zip")
	require.NoError(t, os.Chtimes(w.CachedZipPath("n", orphan), old, old))

	entries, err := w.ExpiredCacheEntries(24*time.Hour, now)
	require.NoError(t, err)

	var got []string
	for _, e := range entries {
		got = append(got, e.Node+"/"+e.Timestamp)
	}
	assert.Equal(t, []string{"n/" + stale, "n/" + orphan, "other/node/" + empty}, got)

	linkedEntry := CacheEntry{Node: "n", Timestamp: linked, Dir: w.CacheExtractDir("n", linked)}
	isLinked, err := w.IsLinked(linkedEntry)
	require.NoError(t, err)
	assert.True(t, isLinked)

	oldest := now.Add(-24 * time.Hour)
	for _, e := range entries {
		_, err := w.CleanCacheEntry(e, oldest)
		require.NoError(t, err)
	}
	assert.False(t, Exists(w.CacheExtractDir("n", stale)))
	assert.False(t, Exists(w.CachedZipPath("n", stale)), "zip goes with its emptied extraction")
	assert.False(t, Exists(w.CachedZipPath("n", orphan)))
	assert.False(t, Exists(w.CacheExtractDir("other/node", empty)))
	assert.True(t, Exists(w.CacheExtractDir("n", fresh)))
	assert.True(t, Exists(w.CacheExtractDir("n", linked)))
}

func TestCleanCacheEntryKeepsFreshFiles(t *testing.T) {
	w := newWorkspace(t)
	const stamp = "20240301120000000"
	now := time.Now()
	old := now.Add(-48 * time.Hour)

	dir := w.CacheExtractDir("n", stamp)
	writeFile(t, filepath.Join(dir, "old"), "o")
	require.NoError(t, os.Chtimes(filepath.Join(dir, "old"), old, old))
	writeFile(t, filepath.Join(dir, "new"), "n")

	res, err := w.CleanCacheEntry(CacheEntry{Node: "n", Timestamp: stamp, Dir: dir, Zip: w.CachedZipPath("n", stamp)}, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesRemoved)
	assert.False(t, res.DirRemoved)
	assert.True(t, Exists(filepath.Join(dir, "new")))
}
