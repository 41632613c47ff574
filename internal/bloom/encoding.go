package bloom

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// EncodeBits packs a bit array into a compact string: DEFLATE then base64.
// A sparse filter (early pages) compresses to a small fraction of its size.
func EncodeBits(bits []byte) (string, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return "", err
	}
	if _, err := w.Write(bits); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeBits reverses EncodeBits for a filter of bitArraySize bits. The
// inflated payload must be exactly the expected length.
func DecodeBits(encoded string, bitArraySize uint64) ([]byte, error) {
	if bitArraySize == 0 || bitArraySize > MaxBitArraySize {
		return nil, fmt.Errorf("%w: bit array size %d out of range", ErrInvalidState, bitArraySize)
	}
	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	want := byteLen(bitArraySize)
	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()

	// read at most one byte past the expected size so oversize payloads are
	// detected without inflating them fully
	bits, err := io.ReadAll(io.LimitReader(r, int64(want)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if uint64(len(bits)) != want {
		return nil, fmt.Errorf("%w: got %d bytes for %d bits", ErrInvalidState, len(bits), bitArraySize)
	}
	return bits, nil
}

// EncodedBits returns the encoded bits string of f.
func (f *Filter) EncodedBits() (string, error) {
	return EncodeBits(f.bits)
}
