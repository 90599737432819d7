package biz_test

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lk2023060901/glacier-archiver/internal/archive/biz"
	"github.com/lk2023060901/glacier-archiver/internal/archive/data"
	"github.com/lk2023060901/glacier-archiver/internal/archive/progress"
	"github.com/lk2023060901/glacier-archiver/internal/archive/types"
	"github.com/lk2023060901/glacier-archiver/internal/archive/workspace"
	apperrors "github.com/lk2023060901/glacier-archiver/internal/pkg/errors"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/lock"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/workerpool"
	"github.com/stretchr/testify/require"
)

const (
	testRoot = "archive"
	testNode = "tenant/docs"
)

type fixture struct {
	t      *testing.T
	dir    string
	origin string
	ws     *workspace.Workspace
	store  *data.MemoryStore
	locks  *lock.Service
	pool   *workerpool.Pool
	arch   *biz.Archiver

	mu  sync.Mutex
	now time.Time
}

type fixtureOptions struct {
	config  func(*biz.Config)
	memory  data.MemoryOptions
	lockOpt lock.Options
	store   biz.ObjectStore
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	f := &fixture{t: t, dir: t.TempDir(), now: time.Now()}
	f.origin = filepath.Join(f.dir, "origin")
	require.NoError(t, os.MkdirAll(f.origin, 0o755))

	log := logger.NewNop()
	ws, err := workspace.New(filepath.Join(f.dir, "workspace"), testRoot, log)
	require.NoError(t, err)
	f.ws = ws

	f.store = data.NewMemoryStore(opts.memory)
	f.store.SetClock(f.clock)

	lockOpt := opts.lockOpt
	if lockOpt.WaitTimeout == 0 {
		lockOpt = lock.Options{TTL: time.Minute, WaitTimeout: 5 * time.Second, RetryDelay: 5 * time.Millisecond}
	}
	f.locks = lock.NewLocal(lockOpt, log)

	f.pool, err = workerpool.New(&workerpool.Config{Workers: 4, ExpiryDuration: time.Second, ShutdownTimeout: time.Second}, log)
	require.NoError(t, err)
	t.Cleanup(f.pool.Shutdown)

	cfg := biz.DefaultConfig()
	cfg.RootPath = testRoot
	cfg.SmallFileMaxSize = 64
	cfg.ArchiveMaxSize = 1024
	cfg.AccessTimeout = 5 * time.Second
	cfg.RestoreInitialDelay = time.Millisecond
	cfg.CleanAcquireTimeout = 100 * time.Millisecond
	if opts.config != nil {
		opts.config(&cfg)
	}

	var store biz.ObjectStore = f.store
	if opts.store != nil {
		store = opts.store
	}
	f.arch, err = biz.NewArchiver(cfg, ws, store, f.locks, f.pool, log, biz.WithClock(f.clock))
	require.NoError(t, err)
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// request writes content to the origin directory and returns a request for it.
func (f *fixture) request(id, name, content string) types.StoreRequest {
	f.t.Helper()
	p := filepath.Join(f.origin, id)
	require.NoError(f.t, os.WriteFile(p, []byte(content), 0o644))
	sum := md5.Sum([]byte(content))
	return types.StoreRequest{
		ID: id,
		Entry: types.FileEntry{
			Checksum:  hex.EncodeToString(sum[:]),
			Algorithm: types.ChecksumMD5,
			Size:      int64(len(content)),
			FileName:  name,
			Node:      testNode,
			Origin:    p,
		},
	}
}

// storeAll stores reqs and returns the reported URLs in request order.
func (f *fixture) storeAll(reqs ...types.StoreRequest) []string {
	f.t.Helper()
	rec := progress.NewRecorder()
	f.arch.Store(context.Background(), reqs, rec)
	byID := make(map[string]string)
	for _, e := range rec.Events() {
		require.False(f.t, e.Failed(), "store %s failed: %v", e.RequestID, e.Err)
		byID[e.RequestID] = e.URL
	}
	urls := make([]string, len(reqs))
	for i, r := range reqs {
		urls[i] = byID[r.ID]
		require.NotEmpty(f.t, urls[i], "no outcome for %s", r.ID)
	}
	return urls
}

// flush ages every building directory past the max age and runs a periodic sweep.
func (f *fixture) flush() *progress.Recorder {
	f.advance(f.arch.Config().ArchiveMaxAge + time.Minute)
	rec := progress.NewRecorder()
	f.arch.RunPeriodicAction(context.Background(), rec)
	return rec
}

func (f *fixture) retrieve(url, name string) (*progress.Recorder, string) {
	dst := filepath.Join(f.dir, "restored", strings.ReplaceAll(name, "/", "_"))
	require.NoError(f.t, os.MkdirAll(dst, 0o755))
	rec := progress.NewRecorder()
	f.arch.Retrieve(context.Background(), []types.RetrieveRequest{{ID: name, Location: url, FileName: name, RestorationDir: dst}}, rec)
	return rec, filepath.Join(dst, name)
}

func (f *fixture) delete(urls ...string) *progress.Recorder {
	reqs := make([]types.DeleteRequest, len(urls))
	for i, u := range urls {
		reqs[i] = types.DeleteRequest{ID: u, Location: u}
	}
	rec := progress.NewRecorder()
	f.arch.Delete(context.Background(), reqs, rec)
	return rec
}

func (f *fixture) buildingDirs() []workspace.Dir {
	f.t.Helper()
	dirs, err := f.ws.BuildingDirs(testNode)
	require.NoError(f.t, err)
	return dirs
}

func requireCode(t *testing.T, code int, err error) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, apperrors.ExtractCode(err), "unexpected error: %v", err)
}

func lockOptions(waitMillis int) lock.Options {
	return lock.Options{
		TTL:         time.Minute,
		WaitTimeout: time.Duration(waitMillis) * time.Millisecond,
		RetryDelay:  5 * time.Millisecond,
	}
}

// gatedStore holds the next call of one armed operation until the test lets it through.
type gatedStore struct {
	biz.ObjectStore

	mu      sync.Mutex
	op      string
	entered chan struct{}
	release chan struct{}
}

// newGatedFixture builds a fixture whose object store is f.store behind a gate.
func newGatedFixture(t *testing.T, opts fixtureOptions) (*fixture, *gatedStore) {
	t.Helper()
	g := &gatedStore{}
	opts.store = g
	f := newFixture(t, opts)
	g.ObjectStore = f.store
	return f, g
}

// arm gates the next call of op. entered closes when that call is held; closing release
// lets it run.
func (g *gatedStore) arm(op string) (entered <-chan struct{}, release chan<- struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.op = op
	g.entered = make(chan struct{})
	g.release = make(chan struct{})
	return g.entered, g.release
}

func (g *gatedStore) wait(op string) {
	g.mu.Lock()
	if g.op != op {
		g.mu.Unlock()
		return
	}
	g.op = ""
	entered, release := g.entered, g.release
	g.mu.Unlock()

	close(entered)
	<-release
}

func (g *gatedStore) Put(ctx context.Context, key string, r io.Reader, size int64, sum string) error {
	g.wait(data.OpPut)
	return g.ObjectStore.Put(ctx, key, r, size, sum)
}

func (g *gatedStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	g.wait(data.OpGet)
	return g.ObjectStore.Get(ctx, key)
}

func (g *gatedStore) Status(ctx context.Context, key string) (types.ObjectStatus, error) {
	g.wait(data.OpStatus)
	return g.ObjectStore.Status(ctx, key)
}

func (g *gatedStore) Restore(ctx context.Context, key string) error {
	g.wait(data.OpRestore)
	return g.ObjectStore.Restore(ctx, key)
}

// async runs op on its own goroutine; the result channel is buffered so len reports completion.
func async(op func() *progress.Recorder) <-chan *progress.Recorder {
	ch := make(chan *progress.Recorder, 1)
	go func() { ch <- op() }()
	return ch
}

func requireBlocked(t *testing.T, ch <-chan *progress.Recorder) {
	t.Helper()
	require.Never(t, func() bool { return len(ch) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func receive(t *testing.T, ch <-chan *progress.Recorder) *progress.Recorder {
	t.Helper()
	select {
	case rec := <-ch:
		return rec
	case <-time.After(10 * time.Second):
		t.Fatal("operation did not finish")
		return nil
	}
}

func waitEntered(t *testing.T, entered <-chan struct{}) {
	t.Helper()
	select {
	case <-entered:
	case <-time.After(10 * time.Second):
		t.Fatal("gated store call never happened")
	}
}
