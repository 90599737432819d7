package injector

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/lk2023060901/glacier-archiver/internal/archive/progress"
	"github.com/lk2023060901/glacier-archiver/internal/archive/types"
	"github.com/lk2023060901/glacier-archiver/internal/conf"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeApp(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GLACIER_STORAGE_BACKEND", conf.StorageMemory)
	t.Setenv("GLACIER_LOCK_BACKEND", conf.LockLocal)
	t.Setenv("GLACIER_ARCHIVE_WORKSPACE", filepath.Join(dir, "ws"))

	config, err := conf.LoadConfig("")
	require.NoError(t, err)

	app, cleanup, err := InitializeApp(config, logger.NewNop())
	require.NoError(t, err)
	defer cleanup()
	defer app.Stop()

	require.NotNil(t, app.Archiver)
	require.NoError(t, app.Scheduler.Start(t.Context()))

	content := []byte("hello archive")
	sum := md5.Sum(content)
	origin := filepath.Join(dir, "hello.txt")
	require.NoError(t, os.WriteFile(origin, content, 0o644))

	rec := progress.NewRecorder()
	app.Archiver.Store(t.Context(), []types.StoreRequest{{
		ID: "1",
		Entry: types.FileEntry{
			Checksum:  hex.EncodeToString(sum[:]),
			Algorithm: types.ChecksumMD5,
			Size:      int64(len(content)),
			FileName:  "hello.txt",
			Node:      "docs",
			Origin:    origin,
		},
	}}, rec)

	assert.Equal(t, 1, rec.Count(progress.KindStoreSucceededPending))
}
