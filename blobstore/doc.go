// Package blobstore provides the byte storage abstraction tensors are written to.
//
// A BlobStore is a flat key/value namespace of byte blobs. Tensor metadata,
// chunk payloads and definition documents all live in one. Implementations
// must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-memory map, for tests and ephemeral tensors
//   - LocalStore: local file system with atomic rename-on-write
//   - CachingStore: read-through LRU cache in front of another store
//   - s3.Store: Amazon S3 with range reads and multipart uploads
//   - minio.Store: MinIO and other S3 compatible object stores
//
// # Custom Implementations
//
// Implement the BlobStore interface to support custom storage backends:
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)
//	    Create(ctx, name) (WritableBlob, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
package blobstore
