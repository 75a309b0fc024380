// Package resource shares resource budgets between the stores of one client.
//
//   - Memory: bytes held by caches, with a hard limit
//   - Workers: concurrent chunk and backup IO
//   - IO: token bucket throttling backup copies
//
// All methods are safe for concurrent use, and a nil *Controller is valid and
// imposes no limits:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes:   256 << 20,
//	    MaxWorkers:         16,
//	    IOLimitBytesPerSec: 50 << 20,
//	})
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.SetLimit(rc.MaxWorkers())
package resource
