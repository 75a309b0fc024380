package tensordb

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/tensordb/backup"
	"github.com/hupe1980/tensordb/blobstore"
	"github.com/hupe1980/tensordb/chunkstore"
	"github.com/hupe1980/tensordb/definition"
	"github.com/hupe1980/tensordb/docstore"
	"github.com/hupe1980/tensordb/formula"
	"github.com/hupe1980/tensordb/handler"
	"github.com/hupe1980/tensordb/internal/resource"
	"github.com/hupe1980/tensordb/lock"
)

// Params are the keyword parameters of actions and pipeline steps.
type Params = definition.Params

// Client runs actions on tensors as customized by their definitions.
// It is safe for concurrent use; writers of the same path must be
// serialized by the caller or by a synchronizer.
type Client struct {
	blobs    blobstore.BlobStore
	backups  blobstore.BlobStore
	store    *chunkstore.Store
	registry *definition.Registry
	handlers *handler.Manager
	formulas *formula.Evaluator
	mirror   *backup.Mirror

	synchronizers lock.Set
	synchronizer  lock.Kind

	logger  *Logger
	metrics MetricsCollector
}

// New creates a Client storing tensors in blobs. Definitions and creation
// documents live in blobs too unless WithDocStore is given.
func New(blobs blobstore.BlobStore, optFns ...Option) (*Client, error) {
	if blobs == nil {
		return nil, errors.New("tensordb: nil blob store")
	}

	o := applyOptions(optFns)

	rc := resource.NewController(resource.Config{
		MemoryLimitBytes:   o.limits.MemoryBytes,
		MaxWorkers:         o.limits.MaxWorkers,
		IOLimitBytesPerSec: o.limits.IOBytesPerSec,
	})

	if o.blobCacheBytes > 0 {
		blobs = blobstore.NewCachingStore(blobs, o.blobCacheBytes, blobstore.WithResourceController(rc))
	}

	docs := o.docs
	if docs == nil {
		docs = docstore.NewBlobStore(blobs)
	}

	if _, err := o.synchronizers.ByKind(o.synchronizer); err != nil {
		return nil, err
	}

	c := &Client{
		blobs:   blobs,
		backups: o.backups,
		store: chunkstore.New(blobs,
			chunkstore.WithCodec(o.codec),
			chunkstore.WithResourceController(rc),
			chunkstore.WithLogger(o.logger.Logger),
			chunkstore.WithDefaultCompression(o.compression),
		),
		registry: definition.NewRegistry(docs, o.codec),
		formulas: formula.New(formula.WithStatements(o.statements)),
		mirror: backup.New(
			backup.WithResourceController(rc),
			backup.WithCodec(o.codec),
			backup.WithLogger(o.logger.Logger),
		),
		synchronizers: o.synchronizers,
		synchronizer:  o.synchronizer,
		logger:        o.logger,
		metrics:       o.metricsCollector,
	}

	c.handlers = handler.NewManager(o.handlerCapacity, c.newHandler)

	return c, nil
}

func (c *Client) newHandler(ctx context.Context, path string) (*handler.Handler, error) {
	def, err := c.registry.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}

	kind := c.synchronizer
	if def.Handler.Synchronizer != nil {
		kind = *def.Handler.Synchronizer
	}

	syncer, err := c.synchronizers.ByKind(kind)
	if err != nil {
		return nil, err
	}

	return handler.New(path, handler.Config{
		Store:        c.store,
		Settings:     def.Handler,
		Synchronizer: syncer,
		Logger:       c.logger.Logger,
	})
}

// Close closes every cached handler.
func (c *Client) Close() error {
	return c.handlers.CloseAll()
}

// Handlers returns the handler cache of the client.
func (c *Client) Handlers() *handler.Manager { return c.handlers }

// AddTensorDefinition registers def under id. Tensors created with a
// reference to id use it from their next action on.
func (c *Client) AddTensorDefinition(ctx context.Context, id string, def *definition.Definition) error {
	if err := c.registry.Add(ctx, id, def); err != nil {
		return fmt.Errorf("tensordb: add definition %q: %w", id, err)
	}

	c.logger.DebugContext(ctx, "definition registered", "id", id)

	return nil
}

// GetTensorDefinition returns the definition registered under id.
func (c *Client) GetTensorDefinition(ctx context.Context, id string) (*definition.Definition, error) {
	return c.registry.Get(ctx, id)
}

// ListTensorDefinitions returns the registered definition ids.
func (c *Client) ListTensorDefinitions(ctx context.Context) ([]string, error) {
	return c.registry.List(ctx)
}

// CreateTensor binds path to a definition, given inline or by id, and
// records metadata with it. An id is resolved on every action, so it may be
// registered after the tensor is created. Creating an existing path
// replaces its definition; stored data is kept.
func (c *Client) CreateTensor(ctx context.Context, path string, ref definition.DefinitionRef, metadata map[string]any) error {
	if path == "" {
		return errors.New("tensordb: empty path")
	}

	if err := c.registry.Create(ctx, path, ref, metadata); err != nil {
		return fmt.Errorf("tensordb: create %q: %w", path, err)
	}

	c.handlers.Evict(path)
	c.logger.DebugContext(ctx, "tensor created", "path", path)

	return nil
}

// GetStorageTensorDefinition returns the resolved definition of path.
func (c *Client) GetStorageTensorDefinition(ctx context.Context, path string) (*definition.Definition, error) {
	return c.registry.Resolve(ctx, path)
}

// ExistTensorDefinition reports whether path was created.
func (c *Client) ExistTensorDefinition(ctx context.Context, path string) (bool, error) {
	return c.registry.Created(ctx, path)
}

// TensorMetadata returns the metadata recorded by CreateTensor.
func (c *Client) TensorMetadata(ctx context.Context, path string) (map[string]any, error) {
	doc, err := c.registry.Creation(ctx, path)
	if err != nil {
		return nil, err
	}

	return doc.Metadata, nil
}
