package hash

import (
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
)

// ErrChecksum is returned when data does not match its recorded checksum.
var ErrChecksum = errors.New("hash: checksum mismatch")

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the CRC32-Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// NewCRC32C returns a new CRC32-Castagnoli hash.Hash32.
func NewCRC32C() hash.Hash32 {
	return crc32.New(crc32cTable)
}

// Verify checks data against want.
func Verify(name string, data []byte, want uint32) error {
	if got := CRC32C(data); got != want {
		return fmt.Errorf("%w: %s: got %08x, want %08x", ErrChecksum, name, got, want)
	}

	return nil
}
