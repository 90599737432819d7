package conf

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-viper/mapstructure/v2"
	"github.com/lk2023060901/glacier-archiver/internal/archive/biz"
	"github.com/lk2023060901/glacier-archiver/internal/archive/data"
	"github.com/lk2023060901/glacier-archiver/internal/archive/service"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/lock"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
	pkgminio "github.com/lk2023060901/glacier-archiver/internal/pkg/minio"
	pkgredis "github.com/lk2023060901/glacier-archiver/internal/pkg/redis"
	pkgs3 "github.com/lk2023060901/glacier-archiver/internal/pkg/s3"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/workerpool"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀, archive.max_size 对应 GLACIER_ARCHIVE_MAX_SIZE
const EnvPrefix = "GLACIER"

// 存储后端
const (
	StorageMinIO  = "minio"
	StorageS3     = "s3"
	StorageMemory = "memory"
)

// 锁后端
const (
	LockRedis = "redis"
	LockLocal = "local"
	LockFile  = "file"
)

type Config struct {
	Log       logger.Config           `mapstructure:"log"`
	Redis     pkgredis.Config         `mapstructure:"redis"`
	MinIO     pkgminio.Config         `mapstructure:"minio"`
	S3        pkgs3.Config            `mapstructure:"s3"`
	Storage   StorageConfig           `mapstructure:"storage"`
	Archive   ArchiveConfig           `mapstructure:"archive"`
	Lock      LockConfig              `mapstructure:"lock"`
	Scheduler service.SchedulerConfig `mapstructure:"scheduler"`
}

type StorageConfig struct {
	Backend     string `mapstructure:"backend"` // minio, s3, memory
	Bucket      string `mapstructure:"bucket"`
	RootPath    string `mapstructure:"root_path"`
	RestoreDays int    `mapstructure:"restore_days"`
	RestoreTier string `mapstructure:"restore_tier"` // Standard, Bulk, Expedited
}

type ArchiveConfig struct {
	Workspace           string        `mapstructure:"workspace"`
	SmallFileMaxSize    ByteSize      `mapstructure:"small_file_max_size"`
	MaxSize             ByteSize      `mapstructure:"max_size"`
	MaxEntries          int           `mapstructure:"max_entries"`
	MaxAge              time.Duration `mapstructure:"max_age"`
	CacheLifetime       time.Duration `mapstructure:"cache_lifetime"`
	ParallelTasks       int           `mapstructure:"parallel_tasks"`
	MultipartThreshold  ByteSize      `mapstructure:"multipart_threshold"`
	AccessTimeout       time.Duration `mapstructure:"access_timeout"`
	RestoreInitialDelay time.Duration `mapstructure:"restore_initial_delay"`
	UnreachableAttempts int           `mapstructure:"unreachable_attempts"`
}

type LockConfig struct {
	Backend             string        `mapstructure:"backend"` // redis, local, file
	TTL                 time.Duration `mapstructure:"ttl"`
	WaitTimeout         time.Duration `mapstructure:"wait_timeout"`
	RetryDelay          time.Duration `mapstructure:"retry_delay"`
	RenewMargin         time.Duration `mapstructure:"renew_margin"`
	CleanAcquireTimeout time.Duration `mapstructure:"clean_acquire_timeout"`
	FileDir             string        `mapstructure:"file_dir"`
}

// ByteSize 字节数, 配置中可以写 "10MiB"、"1MB" 或纯数字
type ByteSize int64

func (b *ByteSize) UnmarshalText(text []byte) error {
	n, err := humanize.ParseBytes(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", text, err)
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

func setDefaults(v *viper.Viper) {
	lg := logger.DefaultConfig()
	v.SetDefault("log.level", lg.Level)
	v.SetDefault("log.format", lg.Format)
	v.SetDefault("log.output", lg.Output)
	v.SetDefault("log.enablecaller", lg.EnableCaller)
	v.SetDefault("log.enablestacktrace", lg.EnableStacktrace)
	v.SetDefault("log.file.filename", lg.File.Filename)
	v.SetDefault("log.file.maxsize", lg.File.MaxSize)
	v.SetDefault("log.file.maxage", lg.File.MaxAge)
	v.SetDefault("log.file.maxbackups", lg.File.MaxBackups)
	v.SetDefault("log.file.compress", lg.File.Compress)

	rd := pkgredis.DefaultConfig()
	v.SetDefault("redis.mode", rd.Mode)
	v.SetDefault("redis.addr", rd.Addr)
	v.SetDefault("redis.sentinel_addrs", []string{})
	v.SetDefault("redis.master_name", "")
	v.SetDefault("redis.cluster_addrs", []string{})
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", rd.KeyPrefix)
	v.SetDefault("redis.pool_size", rd.PoolSize)
	v.SetDefault("redis.min_idle_conns", rd.MinIdleConns)
	v.SetDefault("redis.dial_timeout", rd.DialTimeout)
	v.SetDefault("redis.read_timeout", rd.ReadTimeout)
	v.SetDefault("redis.write_timeout", rd.WriteTimeout)
	v.SetDefault("redis.max_retries", rd.MaxRetries)

	mn := pkgminio.DefaultConfig()
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("minio.session_token", "")
	v.SetDefault("minio.region", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket_lookup", mn.BucketLookup)
	v.SetDefault("minio.storage_class", "GLACIER")
	v.SetDefault("minio.trace_enabled", false)
	v.SetDefault("minio.max_retries", mn.MaxRetries)
	v.SetDefault("minio.request_timeout", mn.RequestTimeout)

	s3 := pkgs3.DefaultConfig()
	v.SetDefault("s3.region", s3.Region)
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.use_path_style", false)
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
	v.SetDefault("s3.session_token", "")
	v.SetDefault("s3.storage_class", s3.StorageClass)
	v.SetDefault("s3.max_attempts", s3.MaxAttempts)
	v.SetDefault("s3.request_timeout", s3.RequestTimeout)

	v.SetDefault("storage.backend", StorageMinIO)
	v.SetDefault("storage.bucket", "glacier")
	v.SetDefault("storage.root_path", "")
	v.SetDefault("storage.restore_days", 1)
	v.SetDefault("storage.restore_tier", "Standard")

	ac := biz.DefaultConfig()
	v.SetDefault("archive.workspace", "data/workspace")
	v.SetDefault("archive.small_file_max_size", "1MiB")
	v.SetDefault("archive.max_size", "10MiB")
	v.SetDefault("archive.max_entries", 0)
	v.SetDefault("archive.max_age", ac.ArchiveMaxAge)
	v.SetDefault("archive.cache_lifetime", ac.CacheLifetime)
	v.SetDefault("archive.parallel_tasks", 20)
	v.SetDefault("archive.multipart_threshold", "5MiB")
	v.SetDefault("archive.access_timeout", ac.AccessTimeout)
	v.SetDefault("archive.restore_initial_delay", ac.RestoreInitialDelay)
	v.SetDefault("archive.unreachable_attempts", ac.UnreachableAttempts)

	lo := lock.DefaultOptions()
	v.SetDefault("lock.backend", LockRedis)
	v.SetDefault("lock.ttl", lo.TTL)
	v.SetDefault("lock.wait_timeout", lo.WaitTimeout)
	v.SetDefault("lock.retry_delay", lo.RetryDelay)
	v.SetDefault("lock.renew_margin", lo.RenewMargin)
	v.SetDefault("lock.clean_acquire_timeout", ac.CleanAcquireTimeout)
	v.SetDefault("lock.file_dir", "data/locks")

	sc := service.DefaultSchedulerConfig()
	v.SetDefault("scheduler.flush_interval", sc.FlushInterval)
	v.SetDefault("scheduler.clean_interval", sc.CleanInterval)
	v.SetDefault("scheduler.run_on_start", sc.RunOnStart)
}

// LoadConfig 读取配置文件, path 为空时只使用默认值和环境变量
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&config, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// Validate 校验配置, 只校验实际启用的后端
func (c *Config) Validate() error {
	if err := c.Log.Validate(); err != nil {
		return err
	}

	switch c.Storage.Backend {
	case StorageMinIO:
		if err := c.MinIO.Validate(); err != nil {
			return err
		}
	case StorageS3:
		if err := c.S3.Validate(); err != nil {
			return err
		}
	case StorageMemory:
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend != StorageMemory && c.Storage.Bucket == "" {
		return errors.New("storage: bucket is required")
	}

	switch c.Lock.Backend {
	case LockRedis:
		if err := c.Redis.Validate(); err != nil {
			return err
		}
	case LockFile:
		if c.Lock.FileDir == "" {
			return errors.New("lock: file_dir is required for the file backend")
		}
	case LockLocal:
	default:
		return fmt.Errorf("lock: unknown backend %q", c.Lock.Backend)
	}
	if c.Lock.TTL <= c.Lock.RenewMargin {
		return errors.New("lock: ttl must be greater than renew_margin")
	}

	if c.Archive.Workspace == "" {
		return errors.New("archive: workspace is required")
	}
	if c.Archive.ParallelTasks <= 0 {
		return errors.New("archive: parallel_tasks must be > 0")
	}
	if err := c.ArchiverConfig().Validate(); err != nil {
		return err
	}
	return c.Scheduler.Validate()
}

// ArchiverConfig 归档引擎参数
func (c *Config) ArchiverConfig() biz.Config {
	return biz.Config{
		RootPath:            c.Storage.RootPath,
		SmallFileMaxSize:    int64(c.Archive.SmallFileMaxSize),
		ArchiveMaxSize:      int64(c.Archive.MaxSize),
		ArchiveMaxEntries:   c.Archive.MaxEntries,
		ArchiveMaxAge:       c.Archive.MaxAge,
		CacheLifetime:       c.Archive.CacheLifetime,
		AccessTimeout:       c.Archive.AccessTimeout,
		RestoreInitialDelay: c.Archive.RestoreInitialDelay,
		UnreachableAttempts: c.Archive.UnreachableAttempts,
		CleanAcquireTimeout: c.Lock.CleanAcquireTimeout,
	}
}

// LockOptions 锁服务参数
func (c *Config) LockOptions() lock.Options {
	return lock.Options{
		TTL:         c.Lock.TTL,
		WaitTimeout: c.Lock.WaitTimeout,
		RetryDelay:  c.Lock.RetryDelay,
		RenewMargin: c.Lock.RenewMargin,
	}
}

// WorkerPool 并行任务池参数
func (c *Config) WorkerPool() *workerpool.Config {
	wp := workerpool.DefaultConfig()
	wp.Workers = c.Archive.ParallelTasks
	return wp
}

// StoreOptions 冷存储参数
func (c *Config) StoreOptions() data.StoreOptions {
	return data.StoreOptions{
		Bucket:             c.Storage.Bucket,
		MultipartThreshold: int64(c.Archive.MultipartThreshold),
		RestoreDays:        c.Storage.RestoreDays,
		RestoreTier:        c.Storage.RestoreTier,
	}
}
