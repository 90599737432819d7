package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: memory
lock:
  backend: local
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ByteSize(1<<20), cfg.Archive.SmallFileMaxSize)
	assert.Equal(t, ByteSize(10<<20), cfg.Archive.MaxSize)
	assert.Equal(t, 24*time.Hour, cfg.Archive.MaxAge)
	assert.Equal(t, 20, cfg.Archive.ParallelTasks)
	assert.Equal(t, time.Minute, cfg.Lock.CleanAcquireTimeout)
	assert.Equal(t, "glacier:", cfg.Redis.KeyPrefix)
	assert.Equal(t, "GLACIER", cfg.S3.StorageClass)

	arch := cfg.ArchiverConfig()
	assert.Equal(t, int64(1<<20), arch.SmallFileMaxSize)
	assert.Equal(t, time.Hour, arch.AccessTimeout)
	assert.Equal(t, 20, cfg.WorkerPool().Workers)
	assert.Equal(t, int64(5<<20), cfg.StoreOptions().MultipartThreshold)
}

func TestLoadConfigValues(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: console
storage:
  backend: memory
  root_path: regards
  restore_tier: Bulk
archive:
  workspace: /var/lib/glacier
  small_file_max_size: 256KiB
  max_size: 4MB
  max_entries: 100
  max_age: 2h
  cache_lifetime: 30m
  parallel_tasks: 8
lock:
  backend: file
  file_dir: /var/lock/glacier
  ttl: 30s
  wait_timeout: 10s
scheduler:
  flush_interval: 5m
  clean_interval: 90m
  run_on_start: true
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ByteSize(256<<10), cfg.Archive.SmallFileMaxSize)
	assert.Equal(t, ByteSize(4_000_000), cfg.Archive.MaxSize)
	assert.Equal(t, 100, cfg.Archive.MaxEntries)
	assert.Equal(t, 2*time.Hour, cfg.Archive.MaxAge)
	assert.Equal(t, 30*time.Minute, cfg.Archive.CacheLifetime)
	assert.Equal(t, "regards", cfg.ArchiverConfig().RootPath)
	assert.Equal(t, "Bulk", cfg.StoreOptions().RestoreTier)
	assert.Equal(t, 8, cfg.WorkerPool().Workers)
	assert.Equal(t, "/var/lock/glacier", cfg.Lock.FileDir)
	assert.Equal(t, 30*time.Second, cfg.LockOptions().TTL)
	assert.Equal(t, 10*time.Second, cfg.LockOptions().WaitTimeout)
	assert.Equal(t, 90*time.Minute, cfg.Scheduler.CleanInterval)
	assert.True(t, cfg.Scheduler.RunOnStart)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: memory
lock:
  backend: local
archive:
  parallel_tasks: 4
`)
	t.Setenv("GLACIER_ARCHIVE_PARALLEL_TASKS", "12")
	t.Setenv("GLACIER_ARCHIVE_MAX_SIZE", "20MiB")
	t.Setenv("GLACIER_LOG_LEVEL", "warn")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Archive.ParallelTasks)
	assert.Equal(t, ByteSize(20<<20), cfg.Archive.MaxSize)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown storage", "storage:\n  backend: tape\nlock:\n  backend: local\n"},
		{"unknown lock", "storage:\n  backend: memory\nlock:\n  backend: zookeeper\n"},
		{"minio without credentials", "storage:\n  backend: minio\nlock:\n  backend: local\n"},
		{"small file larger than archive", "storage:\n  backend: memory\nlock:\n  backend: local\narchive:\n  small_file_max_size: 20MiB\n"},
		{"bad size", "storage:\n  backend: memory\nlock:\n  backend: local\narchive:\n  max_size: lots\n"},
		{"ttl below renew margin", "storage:\n  backend: memory\nlock:\n  backend: local\n  ttl: 1s\n  renew_margin: 2s\n"},
		{"zero parallel tasks", "storage:\n  backend: memory\nlock:\n  backend: local\narchive:\n  parallel_tasks: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			require.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestByteSize(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("1MiB")))
	assert.Equal(t, ByteSize(1<<20), b)
	assert.Equal(t, "1.0 MiB", b.String())

	require.NoError(t, b.UnmarshalText([]byte("2048")))
	assert.Equal(t, ByteSize(2048), b)

	assert.Error(t, b.UnmarshalText([]byte("ten")))
}
