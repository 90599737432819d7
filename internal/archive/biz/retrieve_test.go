package biz_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lk2023060901/glacier-archiver/internal/archive/biz"
	"github.com/lk2023060901/glacier-archiver/internal/archive/data"
	"github.com/lk2023060901/glacier-archiver/internal/archive/naming"
	"github.com/lk2023060901/glacier-archiver/internal/archive/progress"
	"github.com/lk2023060901/glacier-archiver/internal/archive/types"
	apperrors "github.com/lk2023060901/glacier-archiver/internal/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFile(t *testing.T, p string) string {
	t.Helper()
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	return string(b)
}

func TestRetrieveFromBuildingDirectory(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	url := f.storeAll(f.request("1", "a.txt", "alpha"))[0]

	rec, dst := f.retrieve(url, "copy.txt")

	ok := rec.OfKind(progress.KindRetrieveSucceeded)
	require.Len(t, ok, 1)
	assert.Equal(t, dst, ok[0].Path)
	assert.Equal(t, int64(5), ok[0].Size)
	assert.Nil(t, ok[0].ExpiresAt)
	assert.Equal(t, "alpha", readFile(t, dst))
	assert.Zero(t, f.store.Calls())
}

func TestRetrieveMissingEntryInBuildingDirectory(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	url := f.storeAll(f.request("1", "a.txt", "alpha"))[0]
	loc, err := naming.ParseURL(testRoot, url)
	require.NoError(t, err)

	rec, _ := f.retrieve(naming.SmallFileURL(loc.Key, "ghost.txt"), "ghost.txt")

	failed := rec.OfKind(progress.KindRetrieveFailed)
	require.Len(t, failed, 1)
	requireCode(t, apperrors.ErrEntryNotFound, failed[0].Err)
	assert.Zero(t, f.store.Calls())
}

func TestRetrieveRestoresArchive(t *testing.T) {
	f := newFixture(t, fixtureOptions{memory: data.MemoryOptions{Archived: true, RestorePolls: 2}})
	urls := f.storeAll(f.request("1", "a.txt", "alpha"), f.request("2", "b.txt", "beta"))
	f.flush()
	f.store.ResetCalls()

	rec, dst := f.retrieve(urls[0], "a.txt")

	ok := rec.OfKind(progress.KindRetrieveSucceeded)
	require.Len(t, ok, 1, "events: %+v", rec.Events())
	assert.Equal(t, "alpha", readFile(t, dst))
	assert.NotNil(t, ok[0].ExpiresAt)
	assert.Equal(t, 1, f.store.Calls(data.OpRestore))
	assert.Equal(t, 1, f.store.Calls(data.OpGet))

	t.Run("cached archive serves the other entry", func(t *testing.T) {
		f.store.ResetCalls()
		rec, dst := f.retrieve(urls[1], "b.txt")
		require.Len(t, rec.OfKind(progress.KindRetrieveSucceeded), 1)
		assert.Equal(t, "beta", readFile(t, dst))
		assert.Zero(t, f.store.Calls())
	})

	t.Run("extracted entry is served again", func(t *testing.T) {
		f.store.ResetCalls()
		rec, dst := f.retrieve(urls[0], "again.txt")
		ok := rec.OfKind(progress.KindRetrieveSucceeded)
		require.Len(t, ok, 1)
		assert.Nil(t, ok[0].ExpiresAt)
		assert.Equal(t, "alpha", readFile(t, dst))
		assert.Zero(t, f.store.Calls())
	})
}

func TestRetrieveRestoreTimeout(t *testing.T) {
	f := newFixture(t, fixtureOptions{
		config: func(c *biz.Config) { c.AccessTimeout = 50 * time.Millisecond },
		memory: data.MemoryOptions{Archived: true, RestorePolls: 1 << 20},
	})
	url := f.storeAll(f.request("1", "a.txt", "alpha"))[0]
	f.flush()

	rec, _ := f.retrieve(url, "a.txt")

	failed := rec.OfKind(progress.KindRetrieveFailed)
	require.Len(t, failed, 1)
	requireCode(t, apperrors.ErrRestoreTimeout, failed[0].Err)
}

func TestRetrieveStorageUnreachable(t *testing.T) {
	f := newFixture(t, fixtureOptions{config: func(c *biz.Config) { c.UnreachableAttempts = 2 }})
	url := f.storeAll(f.request("1", "a.txt", "alpha"))[0]
	f.flush()
	f.store.FailWith(data.OpStatus, assert.AnError)

	rec, _ := f.retrieve(url, "a.txt")

	failed := rec.OfKind(progress.KindRetrieveFailed)
	require.Len(t, failed, 1)
	requireCode(t, apperrors.ErrStorageUnreachable, failed[0].Err)
}

func TestRetrieveRemoteArchiveMissing(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	url := naming.SmallFileURL(naming.ArchiveKey(testRoot, testNode, "20240101000000000"), "a.txt")

	rec, _ := f.retrieve(url, "a.txt")

	failed := rec.OfKind(progress.KindRetrieveFailed)
	require.Len(t, failed, 1)
	requireCode(t, apperrors.ErrRemoteNotFound, failed[0].Err)
}

func TestRetrieveBigFile(t *testing.T) {
	f := newFixture(t, fixtureOptions{
		config: func(c *biz.Config) { c.SmallFileMaxSize = 4 },
		memory: data.MemoryOptions{Archived: true, RestorePolls: 1},
	})
	req := f.request("big", "big.bin", "a big payload")
	url := f.storeAll(req)[0]

	rec, dst := f.retrieve(url, "big.bin")
	require.Len(t, rec.OfKind(progress.KindRetrieveSucceeded), 1, "events: %+v", rec.Events())
	assert.Equal(t, "a big payload", readFile(t, dst))
	assert.Equal(t, 1, f.store.Calls(data.OpRestore))

	f.store.ResetCalls()
	rec, _ = f.retrieve(url, "big.bin")
	require.Len(t, rec.OfKind(progress.KindRetrieveSucceeded), 1)
	assert.Zero(t, f.store.Calls(), "existing copy is reused")
}

func TestRetrieveInvalidRequests(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	url := f.storeAll(f.request("1", "a.txt", "alpha"))[0]

	rec := progress.NewRecorder()
	f.arch.Retrieve(context.Background(), []types.RetrieveRequest{
		{ID: "outside", Location: "elsewhere/x/1.zip?fileName=a.txt", RestorationDir: f.dir},
		{ID: "nodir", Location: url},
		{ID: "badname", Location: url, FileName: "../a.txt", RestorationDir: f.dir},
	}, rec)

	failed := rec.OfKind(progress.KindRetrieveFailed)
	require.Len(t, failed, 3)
	for _, e := range failed {
		assert.Equal(t, apperrors.ErrInvalidParams, apperrors.ExtractCode(e.Err), e.RequestID)
	}
	_, err := os.Stat(filepath.Join(f.dir, "a.txt"))
	assert.True(t, os.IsNotExist(err))
}
