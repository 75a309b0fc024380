package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/tensordb"
	"github.com/hupe1980/tensordb/blobstore"
	"github.com/hupe1980/tensordb/blobstore/minio"
	"github.com/hupe1980/tensordb/blobstore/s3"
	"github.com/hupe1980/tensordb/chunkstore"
	"github.com/hupe1980/tensordb/docstore"
	"github.com/hupe1980/tensordb/lock"
)

// Storage kinds.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
	StorageMinIO = "minio"
)

// Config is the YAML configuration of the command line client.
//
//	storage:
//	  kind: s3
//	  s3: {bucket: tensors, prefix: prod/}
//	backup:
//	  kind: local
//	  path: /mnt/backup
//	docs:
//	  sqlite: ./tensordb.db
//	lock:
//	  default: distributed
//	  dynamodb: {table: tensordb-locks}
type Config struct {
	Storage     StorageConfig  `yaml:"storage"`
	Backup      *StorageConfig `yaml:"backup"`
	Docs        DocsConfig     `yaml:"docs"`
	Lock        LockConfig     `yaml:"lock"`
	Limits      LimitsConfig   `yaml:"limits"`
	LogLevel    string         `yaml:"log_level"`
	Statements  bool           `yaml:"statements"`
	Compression string         `yaml:"compression"`
	// BlobCache is the capacity in bytes of the in-memory blob cache.
	BlobCache int64 `yaml:"blob_cache"`
}

// StorageConfig selects a blob store.
type StorageConfig struct {
	Kind  string       `yaml:"kind"`
	Path  string       `yaml:"path"`
	S3    S3Config     `yaml:"s3"`
	MinIO minio.Config `yaml:"minio"`
}

// S3Config configures an S3 blob store. Credentials come from the default
// AWS chain.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// DocsConfig selects where definitions are kept. Empty keeps them in the
// tensor storage.
type DocsConfig struct {
	SQLite string `yaml:"sqlite"`
}

// LockConfig configures the synchronizers.
type LockConfig struct {
	Default  lock.Kind      `yaml:"default"`
	Dir      string         `yaml:"dir"`
	Timeout  time.Duration  `yaml:"timeout"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
}

// DynamoDBConfig enables the distributed synchronizer.
type DynamoDBConfig struct {
	Table  string        `yaml:"table"`
	Region string        `yaml:"region"`
	Lease  time.Duration `yaml:"lease"`
}

// LimitsConfig mirrors tensordb.ResourceLimits.
type LimitsConfig struct {
	MaxWorkers    int64 `yaml:"max_workers"`
	IOBytesPerSec int64 `yaml:"io_bytes_per_sec"`
	MemoryBytes   int64 `yaml:"memory_bytes"`
}

// DefaultConfig stores tensors below ./data.
func DefaultConfig() Config {
	return Config{
		Storage:  StorageConfig{Kind: StorageLocal, Path: "./data"},
		LogLevel: "warn",
	}
}

// LoadConfig reads a YAML configuration. An empty path returns DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, cfg.Validate()
}

// Validate checks the enumerated settings.
func (c Config) Validate() error {
	if err := c.Storage.validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	if c.Backup != nil {
		if err := c.Backup.validate(); err != nil {
			return fmt.Errorf("backup: %w", err)
		}
	}

	if _, err := chunkstore.ParseCompression(c.Compression); err != nil {
		return err
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}

	if c.Lock.Default == lock.KindDistributed && c.Lock.DynamoDB.Table == "" {
		return errors.New("lock: distributed synchronizer needs dynamodb.table")
	}

	return nil
}

func (s StorageConfig) validate() error {
	switch s.Kind {
	case StorageLocal:
		if s.Path == "" {
			return errors.New("local storage needs a path")
		}
	case StorageS3:
		if s.S3.Bucket == "" {
			return errors.New("s3 storage needs a bucket")
		}
	case StorageMinIO:
		if s.MinIO.Endpoint == "" || s.MinIO.Bucket == "" {
			return errors.New("minio storage needs an endpoint and a bucket")
		}
	default:
		return fmt.Errorf("unknown storage kind %q", s.Kind)
	}

	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelWarn, nil
	}

	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}

	return level, nil
}

func openBlobs(ctx context.Context, s StorageConfig) (blobstore.BlobStore, error) {
	switch s.Kind {
	case StorageLocal:
		return blobstore.NewLocalStore(s.Path), nil
	case StorageS3:
		optFns := []s3.Option{s3.WithPrefix(s.S3.Prefix), s3.WithRegion(s.S3.Region)}
		if s.S3.Endpoint != "" {
			optFns = append(optFns, s3.WithEndpoint(s.S3.Endpoint, s.S3.PathStyle))
		}

		return s3.New(ctx, s.S3.Bucket, optFns...)
	case StorageMinIO:
		return minio.Dial(s.MinIO)
	default:
		return nil, fmt.Errorf("unknown storage kind %q", s.Kind)
	}
}

// Open builds a client from cfg. The returned closer releases the client and
// the document database.
func Open(ctx context.Context, cfg Config, stderr io.Writer) (*tensordb.Client, io.Closer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	blobs, err := openBlobs(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, err
	}

	level, _ := parseLevel(cfg.LogLevel)
	compression, _ := chunkstore.ParseCompression(cfg.Compression)

	optFns := []tensordb.Option{
		tensordb.WithLogger(tensordb.NewLogger(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))),
		tensordb.WithStatementFormulas(cfg.Statements),
		tensordb.WithDefaultCompression(compression),
		tensordb.WithBlobCache(cfg.BlobCache),
		tensordb.WithResourceLimits(tensordb.ResourceLimits(cfg.Limits)),
		tensordb.WithDefaultSynchronizer(cfg.Lock.Default),
	}

	if cfg.Backup != nil {
		backups, err := openBlobs(ctx, *cfg.Backup)
		if err != nil {
			return nil, nil, fmt.Errorf("backup: %w", err)
		}

		optFns = append(optFns, tensordb.WithBackupStore(backups))
	}

	set, err := synchronizers(ctx, cfg.Lock)
	if err != nil {
		return nil, nil, err
	}

	optFns = append(optFns, tensordb.WithSynchronizers(set))

	var closers closerFunc

	if cfg.Docs.SQLite != "" {
		docs, err := docstore.OpenSQLite(cfg.Docs.SQLite)
		if err != nil {
			return nil, nil, err
		}

		optFns = append(optFns, tensordb.WithDocStore(docs))
		closers = append(closers, docs.Close)
	}

	client, err := tensordb.New(blobs, optFns...)
	if err != nil {
		_ = closers.Close()
		return nil, nil, err
	}

	return client, append(closerFunc{client.Close}, closers...), nil
}

func synchronizers(ctx context.Context, cfg LockConfig) (lock.Set, error) {
	waitFns := []lock.Option{lock.WithTimeout(cfg.Timeout)}

	set := lock.Set{Thread: lock.NewThreadSynchronizer(waitFns...)}

	if cfg.Dir != "" || cfg.Default == lock.KindProcess {
		dir := cfg.Dir
		if dir == "" {
			dir = os.TempDir()
		}

		process, err := lock.NewProcessSynchronizer(dir, waitFns...)
		if err != nil {
			return lock.Set{}, fmt.Errorf("lock: %w", err)
		}

		set.Process = process
	}

	if cfg.DynamoDB.Table != "" {
		var cfgOpts []func(*config.LoadOptions) error
		if cfg.DynamoDB.Region != "" {
			cfgOpts = append(cfgOpts, config.WithRegion(cfg.DynamoDB.Region))
		}

		awsCfg, err := config.LoadDefaultConfig(ctx, cfgOpts...)
		if err != nil {
			return lock.Set{}, fmt.Errorf("lock: %w", err)
		}

		ddbFns := []lock.DynamoDBOption{lock.WithWaitOptions(waitFns...)}
		if cfg.DynamoDB.Lease > 0 {
			ddbFns = append(ddbFns, lock.WithLeaseDuration(cfg.DynamoDB.Lease))
		}

		set.Distributed = lock.NewDynamoDBSynchronizer(dynamodb.NewFromConfig(awsCfg), cfg.DynamoDB.Table, ddbFns...)
	}

	return set, nil
}

// closerFunc closes in order and joins the errors.
type closerFunc []func() error

func (c closerFunc) Close() error {
	var errs []error
	for _, fn := range c {
		errs = append(errs, fn())
	}

	return errors.Join(errs...)
}
