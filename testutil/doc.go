// Package testutil provides testing utilities for tensordb.
//
// This package is intended for use in tests and benchmarks only.
// It provides helpers for building labeled grids, generating random data
// and comparing arrays.
//
// # Grids
//
//	a := testutil.Grid(array.IntRange(0, 2), array.Strings("a", "b"),
//		1, 2,
//		3, 4,
//	)
//
// # Random Data
//
//	rng := testutil.NewRNG(seed)
//	a := rng.UniformGrid(100, 8)      // uniform [0, 1)
//	rng.SprinkleNaN(a, 0.1)           // about 10% missing cells
//
// # Assertions
//
//	testutil.RequireArrayEqual(t, want, got)
package testutil
