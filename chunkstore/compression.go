package chunkstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression names the codec of chunk payloads.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionLZ4  Compression = "lz4"
	CompressionZSTD Compression = "zstd"
)

// ParseCompression validates a compression name. The empty name selects lz4.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(s); c {
	case "":
		return CompressionLZ4, nil
	case CompressionNone, CompressionLZ4, CompressionZSTD:
		return c, nil
	default:
		return "", fmt.Errorf("chunkstore: unknown compression %q", s)
	}
}

var errCorruptChunk = errors.New("chunkstore: corrupt chunk")

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}

	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))

	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}

	dec, _ := zstd.NewReader(nil)

	return dec
}

// Frame layout: [UncompressedSize uint32][CompressedSize uint32][Data...].
// CompressedSize 0 means the data is stored raw.
const frameHeaderSize = 8

// compressFrame frames data, compressed when that saves at least 10%.
func compressFrame(data []byte, c Compression) ([]byte, error) {
	var (
		compressed []byte
		err        error
	)

	switch c {
	case CompressionLZ4:
		compressed, err = compressLZ4(data)
	case CompressionZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	}

	if err != nil {
		return nil, err
	}

	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		out := make([]byte, frameHeaderSize+len(data))
		binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
		copy(out[frameHeaderSize:], data)

		return out, nil
	}

	out := make([]byte, frameHeaderSize+len(compressed))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(compressed)))
	copy(out[frameHeaderSize:], compressed)

	return out, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	compressed := make([]byte, lz4.CompressBlockBound(len(data)))

	n, err := lz4.CompressBlock(data, compressed, nil)
	if err != nil {
		return nil, err
	}

	return compressed[:n], nil
}

// decompressFrame reverses compressFrame.
func decompressFrame(frame []byte, c Compression) ([]byte, error) {
	if len(frame) < frameHeaderSize {
		return nil, fmt.Errorf("%w: %d byte frame", errCorruptChunk, len(frame))
	}

	size := binary.LittleEndian.Uint32(frame[0:])
	csize := binary.LittleEndian.Uint32(frame[4:])
	payload := frame[frameHeaderSize:]

	if csize == 0 {
		if uint32(len(payload)) < size {
			return nil, fmt.Errorf("%w: truncated payload", errCorruptChunk)
		}

		return payload[:size], nil
	}

	if uint32(len(payload)) < csize {
		return nil, fmt.Errorf("%w: truncated payload", errCorruptChunk)
	}

	payload = payload[:csize]
	out := make([]byte, size)

	switch c {
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)

		decoded, err := dec.DecodeAll(payload, out[:0])
		if err != nil {
			return nil, err
		}

		if uint32(len(decoded)) != size {
			return nil, fmt.Errorf("%w: decompressed size mismatch", errCorruptChunk)
		}

		return decoded, nil
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, err
		}

		if uint32(n) != size {
			return nil, fmt.Errorf("%w: decompressed size mismatch", errCorruptChunk)
		}

		return out, nil
	default:
		return nil, fmt.Errorf("%w: compressed payload with compression %q", errCorruptChunk, c)
	}
}
