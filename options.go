package tensordb

import (
	"log/slog"

	"github.com/hupe1980/tensordb/blobstore"
	"github.com/hupe1980/tensordb/chunkstore"
	"github.com/hupe1980/tensordb/codec"
	"github.com/hupe1980/tensordb/docstore"
	"github.com/hupe1980/tensordb/lock"
)

type options struct {
	codec            codec.Codec
	docs             docstore.Store
	backups          blobstore.BlobStore
	metricsCollector MetricsCollector
	logger           *Logger
	statements       bool
	handlerCapacity  int
	synchronizers    lock.Set
	synchronizer     lock.Kind
	limits           ResourceLimits
	blobCacheBytes   int64
	compression      chunkstore.Compression
}

// Option configures a Client.
type Option func(*options)

// ResourceLimits bound the resources shared by the stores of a client.
type ResourceLimits struct {
	// MaxWorkers bounds concurrent chunk and backup IO. Zero uses the default.
	MaxWorkers int64
	// IOBytesPerSec throttles backup copies. Zero is unlimited.
	IOBytesPerSec int64
	// MemoryBytes bounds the bytes held by the blob cache. Zero is unlimited.
	MemoryBytes int64
}

// WithCodec configures the codec of metadata and definition documents.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithDocStore stores definitions and creation documents in docs instead
// of the blob store of the client.
//
// Example with SQLite:
//
//	docs, _ := docstore.OpenSQLite("./meta.db")
//	client, _ := tensordb.New(blobstore.NewLocalStore("./data"), tensordb.WithDocStore(docs))
func WithDocStore(docs docstore.Store) Option {
	return func(o *options) {
		o.docs = docs
	}
}

// WithBackupStore enables the backup and update_from_backup actions.
func WithBackupStore(s blobstore.BlobStore) Option {
	return func(o *options) {
		o.backups = s
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &tensordb.BasicMetricsCollector{}
//	client, _ := tensordb.New(blobs, tensordb.WithMetricsCollector(metrics))
//	// ... use client ...
//	stats := metrics.GetStats()
//	fmt.Printf("Actions: %d, Avg latency: %dns\n", stats.ActionCount, stats.ActionAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithStatementFormulas enables statement programs in read_from_formula
// (use_exec). Statement programs run caller-supplied text: only enable them
// when formulas come from trusted sources.
func WithStatementFormulas(enabled bool) Option {
	return func(o *options) {
		o.statements = enabled
	}
}

// WithHandlerCapacity bounds the number of cached handlers. The least
// recently used handler is closed when the cache is full. Zero is unbounded.
func WithHandlerCapacity(n int) Option {
	return func(o *options) {
		o.handlerCapacity = n
	}
}

// WithSynchronizers registers the synchronizers definitions can select with
// their handler "synchronizer" setting.
func WithSynchronizers(set lock.Set) Option {
	return func(o *options) {
		o.synchronizers = set
	}
}

// WithDefaultSynchronizer selects the synchronizer of tensors whose
// definition does not name one.
func WithDefaultSynchronizer(kind lock.Kind) Option {
	return func(o *options) {
		o.synchronizer = kind
	}
}

// WithResourceLimits bounds worker concurrency, backup throughput and
// cache memory.
func WithResourceLimits(limits ResourceLimits) Option {
	return func(o *options) {
		o.limits = limits
	}
}

// WithBlobCache caches up to capacity bytes of read blobs in memory.
// It is most useful in front of remote stores.
func WithBlobCache(capacity int64) Option {
	return func(o *options) {
		o.blobCacheBytes = capacity
	}
}

// WithDefaultCompression sets the chunk compression of tensors whose
// definition does not choose one.
func WithDefaultCompression(c chunkstore.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		codec:            codec.Default,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		compression:      chunkstore.CompressionLZ4,
	}

	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}

	return o
}
