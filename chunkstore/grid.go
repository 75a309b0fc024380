package chunkstore

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/hupe1980/tensordb/blobstore"
)

// chunkKey returns the blob name of the chunk at grid index idx.
func chunkKey(path string, idx []int) string {
	if len(idx) == 0 {
		return blobstore.Join(path, chunkPrefix, "0")
	}

	parts := make([]string, len(idx))
	for i, v := range idx {
		parts[i] = strconv.Itoa(v)
	}

	return blobstore.Join(path, chunkPrefix, strings.Join(parts, "."))
}

func metaKey(path string) string {
	return blobstore.Join(path, metaName)
}

func stridesOf(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1

	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}

	return strides
}

func product(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}

	return n
}

// box is a half-open position range [lo, hi) per dim.
type box struct {
	lo, hi []int
}

func (b box) empty() bool {
	for i := range b.lo {
		if b.hi[i] <= b.lo[i] {
			return true
		}
	}

	return false
}

func (b box) shape() []int {
	s := make([]int, len(b.lo))
	for i := range b.lo {
		s[i] = b.hi[i] - b.lo[i]
	}

	return s
}

// chunkCell is one chunk of a grid together with the part of a box it covers.
type chunkCell struct {
	idx     []int
	origin  []int
	overlap box
}

// chunksIn lists the chunks of a grid with the given chunk shape that
// intersect b, in row-major order.
func chunksIn(b box, chunkShape []int) []chunkCell {
	n := len(b.lo)
	if n == 0 {
		return []chunkCell{{idx: nil, origin: nil, overlap: b}}
	}

	if b.empty() {
		return nil
	}

	first := make([]int, n)
	last := make([]int, n)

	for d := range n {
		first[d] = b.lo[d] / chunkShape[d]
		last[d] = (b.hi[d] - 1) / chunkShape[d]
	}

	var cells []chunkCell

	idx := slices.Clone(first)

	for {
		origin := make([]int, n)
		ov := box{lo: make([]int, n), hi: make([]int, n)}

		for d := range n {
			origin[d] = idx[d] * chunkShape[d]
			ov.lo[d] = max(b.lo[d], origin[d])
			ov.hi[d] = min(b.hi[d], origin[d]+chunkShape[d])
		}

		cells = append(cells, chunkCell{idx: slices.Clone(idx), origin: origin, overlap: ov})

		d := n - 1
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] <= last[d] {
				break
			}

			idx[d] = first[d]
		}

		if d < 0 {
			return cells
		}
	}
}

// copyBox copies the cells of b from src to dst. Both buffers are dense
// row-major blocks placed at an absolute origin.
func copyBox(dst []float64, dstOrigin, dstShape []int, src []float64, srcOrigin, srcShape []int, b box) {
	n := len(b.lo)
	if n == 0 {
		dst[0] = src[0]
		return
	}

	if b.empty() {
		return
	}

	dstStrides := stridesOf(dstShape)
	srcStrides := stridesOf(srcShape)
	run := b.hi[n-1] - b.lo[n-1]
	pos := slices.Clone(b.lo)

	for {
		do, so := 0, 0
		for d := range n {
			do += (pos[d] - dstOrigin[d]) * dstStrides[d]
			so += (pos[d] - srcOrigin[d]) * srcStrides[d]
		}

		copy(dst[do:do+run], src[so:so+run])

		d := n - 2
		for ; d >= 0; d-- {
			pos[d]++
			if pos[d] < b.hi[d] {
				break
			}

			pos[d] = b.lo[d]
		}

		if d < 0 {
			return
		}
	}
}

func encodeValues(values []float64) []byte {
	out := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(out[8*i:], math.Float64bits(v))
	}

	return out
}

func decodeValues(data []byte, n int) ([]float64, error) {
	if len(data) != 8*n {
		return nil, fmt.Errorf("%w: %d bytes for %d values", errCorruptChunk, len(data), n)
	}

	out := make([]float64, n)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[8*i:]))
	}

	return out, nil
}

// chunkID returns the row-major id of the chunk named name, such as "1.0",
// in the grid of m.
func chunkID(m *Meta, name string) (uint32, bool) {
	if len(m.Dims) == 0 {
		return 0, name == "0"
	}

	parts := strings.Split(name, ".")
	if len(parts) != len(m.Dims) {
		return 0, false
	}

	shape := m.Shape()
	chunks := m.chunkShape()
	grid := make([]int, len(shape))

	for i := range shape {
		grid[i] = max((shape[i]+chunks[i]-1)/chunks[i], 1)
	}

	strides := stridesOf(grid)
	id := 0

	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || v >= grid[i] {
			return 0, false
		}

		id += v * strides[i]
	}

	return uint32(id), true
}

// Owns reports whether the blob name belongs to the tensor stored at path.
func Owns(path, name string) bool {
	return name == metaKey(path) || strings.HasPrefix(name, blobstore.Dir(blobstore.Join(path, chunkPrefix)))
}
