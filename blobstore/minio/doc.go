// Package minio provides a BlobStore backed by MinIO or any S3-compatible
// object storage, using the MinIO Go client.
//
//	store, err := minio.Dial(minio.Config{
//	    Endpoint:  "localhost:9000",
//	    AccessKey: "minioadmin",
//	    SecretKey: "minioadmin",
//	    Bucket:    "tensors",
//	})
//
// Missing objects map to blobstore.ErrNotFound and deleting a missing object
// succeeds.
package minio
