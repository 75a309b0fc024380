// Package fs provides the file system seam used by the local blob store.
//
//   - [LocalFS]: production implementation over the os package
//   - [FaultyFS]: test wrapper injecting write, sync and rename failures
//
// Production code uses fs.Default. Tests wrap it to check that a failed
// write never leaves a partially written blob visible:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("chunks", fs.Fault{FailAfterBytes: 16})
//	store := blobstore.NewLocalStore(dir, blobstore.WithFileSystem(ffs))
package fs
