package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/hxuan190/token-aggregator/internal/bloom"
)

var (
	ErrInvalidCursor     = errors.New("invalid cursor")
	ErrInvalidLimit      = errors.New("invalid limit")
	ErrSourceUnavailable = errors.New("token source unavailable")
)

// strictJSON rejects unknown keys so a cursor from another shape never
// decodes into a partially filled state.
var strictJSON = sonic.Config{DisallowUnknownFields: true}.Froze()

// Cursor is the resumable pagination state handed to clients. Its wire form
// is base64url(JSON).
type Cursor struct {
	BloomFilterBits    string `json:"bloomFilterBits"`
	BitArraySize       int    `json:"bitArraySize"`
	HashFunctionsCount int    `json:"hashFunctionsCount"`
	Offset             int    `json:"offset"`
}

// cursorWire uses pointers so missing fields can be told apart from zeros.
type cursorWire struct {
	BloomFilterBits    *string `json:"bloomFilterBits"`
	BitArraySize       *int    `json:"bitArraySize"`
	HashFunctionsCount *int    `json:"hashFunctionsCount"`
	Offset             *int    `json:"offset"`
}

// NewCursor snapshots filter and offset.
func NewCursor(filter *bloom.Filter, offset int) (Cursor, error) {
	bits, err := filter.EncodedBits()
	if err != nil {
		return Cursor{}, err
	}
	return Cursor{
		BloomFilterBits:    bits,
		BitArraySize:       int(filter.BitArraySize()),
		HashFunctionsCount: int(filter.HashFunctionsCount()),
		Offset:             offset,
	}, nil
}

func (c Cursor) Encode() (string, error) {
	raw, err := sonic.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Filter rebuilds the bloom filter carried by the cursor.
func (c Cursor) Filter() (*bloom.Filter, error) {
	bits, err := bloom.DecodeBits(c.BloomFilterBits, uint64(c.BitArraySize))
	if err != nil {
		return nil, err
	}
	return bloom.FromState(bloom.State{
		Bits:               bits,
		BitArraySize:       uint64(c.BitArraySize),
		HashFunctionsCount: uint(c.HashFunctionsCount),
	})
}

// DecodeCursor parses an opaque cursor. Every failure wraps ErrInvalidCursor.
// Padded base64url is accepted as well as the raw form.
func DecodeCursor(s string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		raw, err = base64.URLEncoding.DecodeString(s)
	}
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: not base64url: %v", ErrInvalidCursor, err)
	}

	var wire cursorWire
	if err := strictJSON.Unmarshal(raw, &wire); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	switch {
	case wire.BloomFilterBits == nil:
		return Cursor{}, fmt.Errorf("%w: missing bloomFilterBits", ErrInvalidCursor)
	case wire.BitArraySize == nil:
		return Cursor{}, fmt.Errorf("%w: missing bitArraySize", ErrInvalidCursor)
	case wire.HashFunctionsCount == nil:
		return Cursor{}, fmt.Errorf("%w: missing hashFunctionsCount", ErrInvalidCursor)
	case wire.Offset == nil:
		return Cursor{}, fmt.Errorf("%w: missing offset", ErrInvalidCursor)
	}

	c := Cursor{
		BloomFilterBits:    *wire.BloomFilterBits,
		BitArraySize:       *wire.BitArraySize,
		HashFunctionsCount: *wire.HashFunctionsCount,
		Offset:             *wire.Offset,
	}
	if c.Offset < 0 {
		return Cursor{}, fmt.Errorf("%w: negative offset", ErrInvalidCursor)
	}
	if c.BitArraySize <= 0 || c.BitArraySize > bloom.MaxBitArraySize {
		return Cursor{}, fmt.Errorf("%w: bitArraySize %d out of range", ErrInvalidCursor, c.BitArraySize)
	}
	if c.HashFunctionsCount <= 0 || c.HashFunctionsCount > bloom.MaxHashFunctions {
		return Cursor{}, fmt.Errorf("%w: hashFunctionsCount %d out of range", ErrInvalidCursor, c.HashFunctionsCount)
	}
	return c, nil
}

// ParseCursor decodes s and restores its filter.
func ParseCursor(s string) (*bloom.Filter, int, error) {
	c, err := DecodeCursor(s)
	if err != nil {
		return nil, 0, err
	}
	filter, err := c.Filter()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return filter, c.Offset, nil
}
