package chunkstore

import (
	"maps"
	"math"
	"slices"

	"github.com/hupe1980/tensordb/array"
)

// FormatVersion is the layout version written into new metadata.
const FormatVersion = 1

const (
	metaName    = ".tensor.json"
	chunkPrefix = "c"
)

// Meta is the metadata document of a stored tensor.
type Meta struct {
	Version int          `json:"version"`
	Dims    []string     `json:"dims"`
	Coords  array.Coords `json:"coords"`
	// Chunks holds the resolved chunk size of every dim.
	Chunks      map[string]int `json:"chunks"`
	FillValue   *float64       `json:"fill_value"`
	Compression Compression    `json:"compression"`
	Attrs       map[string]any `json:"attrs,omitempty"`
}

// Shape returns the sizes of the dims in order.
func (m *Meta) Shape() []int {
	shape := make([]int, len(m.Dims))
	for i, d := range m.Dims {
		shape[i] = len(m.Coords[d])
	}

	return shape
}

// Fill returns the value of cells never written. NaN unless configured.
func (m *Meta) Fill() float64 {
	if m.FillValue == nil {
		return math.NaN()
	}

	return *m.FillValue
}

func (m *Meta) chunkShape() []int {
	shape := make([]int, len(m.Dims))
	for i, d := range m.Dims {
		shape[i] = m.Chunks[d]
	}

	return shape
}

func (m *Meta) clone() *Meta {
	out := *m
	out.Dims = slices.Clone(m.Dims)
	out.Coords = m.Coords.Clone()
	out.Chunks = maps.Clone(m.Chunks)
	out.Attrs = maps.Clone(m.Attrs)

	return &out
}

// resolveChunks turns a requested chunk layout into concrete sizes. Missing,
// zero or negative entries select one chunk spanning the current extent.
func resolveChunks(dims []string, shape []int, requested map[string]int) map[string]int {
	out := make(map[string]int, len(dims))
	for i, d := range dims {
		if n, ok := requested[d]; ok && n > 0 {
			out[d] = n
			continue
		}

		out[d] = max(shape[i], 1)
	}

	return out
}

// ChunksEqual reports whether a requested chunk layout matches resolved sizes.
// Entries absent from requested are not compared.
func ChunksEqual(resolved, requested map[string]int) bool {
	for d, n := range requested {
		if resolved[d] != n {
			return false
		}
	}

	return true
}
