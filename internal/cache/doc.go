// Package cache provides a generic size-bounded LRU.
//
// It backs the blob read cache, weighted by byte size and charged against the
// shared memory budget of a resource.Controller, and the handler manager,
// weighted by entry count with an eviction callback that closes handlers.
//
//	c := cache.New[string, []byte](64<<20,
//	    cache.WithSizeFunc[string](func(b []byte) int64 { return int64(len(b)) }),
//	    cache.WithController[string, []byte](rc),
//	)
package cache
