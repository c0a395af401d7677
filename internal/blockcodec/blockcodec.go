// Package blockcodec provides in-memory block compression for point
// attribute storage. Compressed blocks carry a small header so buffers
// that fail to shrink are stored raw and recovered transparently.
package blockcodec

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type selects the compression algorithm.
type Type uint8

const (
	// None stores blocks uncompressed.
	None Type = 0
	// LZ4 favors speed; the right choice for attribute buffers that are
	// decompressed on every access.
	LZ4 Type = 1
	// ZSTD favors ratio; the right choice for attribute buffers that sit
	// idle between sparse edits.
	ZSTD Type = 2
)

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	}
	return "unknown"
}

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

func putZstdEncoder(enc *zstd.Encoder) {
	zstdEncoderPool.Put(enc)
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// Block format: [UncompressedSize uint32][CompressedSize uint32][Data...]
// CompressedSize == 0 means the payload is stored raw.
const headerSize = 8

var (
	errTruncatedBlock = errors.New("blockcodec: truncated block")
	errSizeMismatch   = errors.New("blockcodec: decompressed size mismatch")
)

// Compress encodes data as a single block. If the payload fails to shrink
// below 90% of its input size it is stored raw; Decompress handles both
// forms. Type None returns data unchanged with no header.
func Compress(data []byte, t Type) ([]byte, error) {
	if t == None || len(data) == 0 {
		return data, nil
	}

	var compressed []byte
	var err error
	switch t {
	case LZ4:
		compressed, err = compressLZ4(data)
	case ZSTD:
		compressed = compressZSTD(data)
	default:
		return data, nil
	}
	if err != nil {
		return nil, err
	}

	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		out := make([]byte, headerSize+len(data))
		binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
		binary.LittleEndian.PutUint32(out[4:], 0)
		copy(out[headerSize:], data)
		return out, nil
	}

	out := make([]byte, headerSize+len(compressed))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(compressed)))
	copy(out[headerSize:], compressed)
	return out, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	buf := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, buf, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil // incompressible
	}
	return buf[:n], nil
}

func compressZSTD(data []byte) []byte {
	enc := getZstdEncoder()
	defer putZstdEncoder(enc)
	return enc.EncodeAll(data, nil)
}

// Decompress decodes a block produced by Compress with the same type.
func Decompress(data []byte, t Type) ([]byte, error) {
	if t == None {
		return data, nil
	}
	if len(data) < headerSize {
		return nil, errTruncatedBlock
	}

	uncompressedSize := binary.LittleEndian.Uint32(data[0:])
	compressedSize := binary.LittleEndian.Uint32(data[4:])

	if compressedSize == 0 {
		if uint32(len(data)) < headerSize+uncompressedSize {
			return nil, errTruncatedBlock
		}
		return data[headerSize : headerSize+uncompressedSize], nil
	}

	if uint32(len(data)) < headerSize+compressedSize {
		return nil, errTruncatedBlock
	}
	payload := data[headerSize : headerSize+compressedSize]
	out := make([]byte, uncompressedSize)

	switch t {
	case ZSTD:
		dec := getZstdDecoder()
		defer putZstdDecoder(dec)

		decoded, err := dec.DecodeAll(payload, out[:0])
		if err != nil {
			return nil, err
		}
		if uint32(len(decoded)) != uncompressedSize {
			return nil, errSizeMismatch
		}
		return decoded, nil

	default: // LZ4
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, err
		}
		if uint32(n) != uncompressedSize {
			return nil, errSizeMismatch
		}
		return out, nil
	}
}
