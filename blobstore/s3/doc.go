// Package s3 provides an S3 implementation of blobstore.BlobStore.
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("tensors/"),
//	    s3.WithRegion("eu-central-1"),
//	)
//
//	client := tensordb.New(tensordb.WithBlobStore(store))
//
// Reads use ranged GETs, Put sends a single PutObject with a CRC32C checksum
// and Create streams through the multipart upload manager. Listing follows
// ListObjectsV2 pagination.
package s3
