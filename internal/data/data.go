package data

import (
	"context"
	"fmt"
	"time"

	"github.com/lk2023060901/glacier-archiver/internal/archive/biz"
	archivedata "github.com/lk2023060901/glacier-archiver/internal/archive/data"
	"github.com/lk2023060901/glacier-archiver/internal/archive/workspace"
	"github.com/lk2023060901/glacier-archiver/internal/conf"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/lock"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
	pkgminio "github.com/lk2023060901/glacier-archiver/internal/pkg/minio"
	pkgredis "github.com/lk2023060901/glacier-archiver/internal/pkg/redis"
	pkgs3 "github.com/lk2023060901/glacier-archiver/internal/pkg/s3"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/workerpool"
	"go.uber.org/zap"
)

const initTimeout = time.Minute

// Data 归档引擎依赖的基础设施
type Data struct {
	Redis     *pkgredis.Client // lock.backend 不是 redis 时为 nil
	Store     biz.ObjectStore
	Locks     *lock.Service
	Pool      *workerpool.Pool
	Workspace *workspace.Workspace
	Logger    *logger.Logger
}

func NewData(config *conf.Config, log *logger.Logger) (*Data, func(), error) {
	var closers []func()
	cleanup := func() {
		log.Info("cleaning up data resources")
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Data, func(), error) {
		cleanup()
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	// Initialize cold storage
	store, closeStore, err := initStore(ctx, config, log)
	if err != nil {
		return fail(fmt.Errorf("failed to init storage: %w", err))
	}
	closers = append(closers, closeStore)

	// Initialize lock service
	var redisClient *pkgredis.Client
	if config.Lock.Backend == conf.LockRedis {
		redisClient, err = pkgredis.New(&config.Redis, log.Named("redis"))
		if err != nil {
			return fail(fmt.Errorf("failed to connect to redis: %w", err))
		}
		closers = append(closers, func() {
			if err := redisClient.Close(); err != nil {
				log.Warn("failed to close redis client", zap.Error(err))
			}
		})
	}
	locks, err := initLocks(config, redisClient, log)
	if err != nil {
		return fail(fmt.Errorf("failed to init lock service: %w", err))
	}

	// Initialize worker pool
	pool, err := workerpool.New(config.WorkerPool(), log)
	if err != nil {
		return fail(fmt.Errorf("failed to init worker pool: %w", err))
	}
	closers = append(closers, pool.Shutdown)

	// Initialize workspace
	ws, err := workspace.New(config.Archive.Workspace, config.Storage.RootPath, log)
	if err != nil {
		return fail(fmt.Errorf("failed to init workspace: %w", err))
	}

	log.Info("data layer initialized",
		zap.String("storage", config.Storage.Backend),
		zap.String("lock", locks.Kind()),
		zap.String("workspace", config.Archive.Workspace))

	return &Data{
		Redis:     redisClient,
		Store:     store,
		Locks:     locks,
		Pool:      pool,
		Workspace: ws,
		Logger:    log,
	}, cleanup, nil
}

func initStore(ctx context.Context, config *conf.Config, log *logger.Logger) (biz.ObjectStore, func(), error) {
	opts := config.StoreOptions()
	switch config.Storage.Backend {
	case conf.StorageMinIO:
		client, err := pkgminio.NewClient(&config.MinIO, log)
		if err != nil {
			return nil, nil, err
		}
		store := archivedata.NewMinIOStore(client, opts, log)
		if err := store.EnsureBucket(ctx); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, func() { _ = client.Close() }, nil

	case conf.StorageS3:
		client, err := pkgs3.NewClient(ctx, &config.S3, log)
		if err != nil {
			return nil, nil, err
		}
		return archivedata.NewS3Store(client, opts, log), func() {}, nil

	case conf.StorageMemory:
		log.Warn("using in-memory storage, archives are lost on exit")
		return archivedata.NewMemoryStore(archivedata.MemoryOptions{Archived: true}), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", config.Storage.Backend)
}

func initLocks(config *conf.Config, redisClient *pkgredis.Client, log *logger.Logger) (*lock.Service, error) {
	opts := config.LockOptions()
	switch config.Lock.Backend {
	case conf.LockRedis:
		return lock.NewRedis(redisClient, opts, log), nil
	case conf.LockFile:
		return lock.NewFile(config.Lock.FileDir, opts, log)
	case conf.LockLocal:
		return lock.NewLocal(opts, log), nil
	}
	return nil, fmt.Errorf("unknown lock backend %q", config.Lock.Backend)
}
