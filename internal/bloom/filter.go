// Package bloom implements the approximate membership set used to remember
// which token ids a pagination sequence has already classified.
package bloom

import (
	"errors"
	"fmt"
	"math"

	"github.com/spaolacci/murmur3"
)

const (
	// MaxBitArraySize bounds filters rebuilt from untrusted input (2MB of bits).
	MaxBitArraySize = 1 << 24
	// MaxHashFunctions bounds filters rebuilt from untrusted input.
	MaxHashFunctions = 32

	DefaultExpectedItems     = 10000
	DefaultFalsePositiveRate = 0.01
)

var ErrInvalidState = errors.New("invalid bloom filter state")

// Filter is a bloom filter using double hashing over murmur3's 128-bit sum.
// It is not safe for concurrent use; every pagination request owns its own.
type Filter struct {
	bits []byte
	m    uint64 // total bits
	k    uint   // number of hash functions
}

// State is the exact serializable content of a Filter.
type State struct {
	Bits               []byte
	BitArraySize       uint64
	HashFunctionsCount uint
}

// New creates a filter sized for expectedItems at the given false positive
// rate. With the defaults (10k items, 1%) the bit array is ~12KB.
func New(expectedItems int, fpr float64) *Filter {
	if expectedItems <= 0 {
		expectedItems = DefaultExpectedItems
	}
	if fpr <= 0 || fpr >= 1 {
		fpr = DefaultFalsePositiveRate
	}

	n := float64(expectedItems)
	// Optimal bit count: m = -n*ln(p) / (ln(2))^2
	m := uint64(math.Ceil(-n * math.Log(fpr) / (math.Ln2 * math.Ln2)))
	if m > MaxBitArraySize {
		m = MaxBitArraySize
	}
	// Optimal hash count: k = (m/n) * ln(2)
	k := uint(math.Ceil(float64(m) / n * math.Ln2))
	if k < 1 {
		k = 1
	}
	if k > MaxHashFunctions {
		k = MaxHashFunctions
	}

	return &Filter{
		bits: make([]byte, byteLen(m)),
		m:    m,
		k:    k,
	}
}

// FromState rebuilds a filter that answers Has exactly like the one that
// produced s.
func FromState(s State) (*Filter, error) {
	if s.BitArraySize == 0 || s.BitArraySize > MaxBitArraySize {
		return nil, fmt.Errorf("%w: bit array size %d out of range", ErrInvalidState, s.BitArraySize)
	}
	if s.HashFunctionsCount == 0 || s.HashFunctionsCount > MaxHashFunctions {
		return nil, fmt.Errorf("%w: hash function count %d out of range", ErrInvalidState, s.HashFunctionsCount)
	}
	if uint64(len(s.Bits)) != byteLen(s.BitArraySize) {
		return nil, fmt.Errorf("%w: got %d bytes for %d bits", ErrInvalidState, len(s.Bits), s.BitArraySize)
	}

	bits := make([]byte, len(s.Bits))
	copy(bits, s.Bits)
	return &Filter{bits: bits, m: s.BitArraySize, k: s.HashFunctionsCount}, nil
}

// State returns a copy of the filter's bits and sizing parameters.
func (f *Filter) State() State {
	bits := make([]byte, len(f.bits))
	copy(bits, f.bits)
	return State{Bits: bits, BitArraySize: f.m, HashFunctionsCount: f.k}
}

// Add inserts a key. Bits are only ever set.
func (f *Filter) Add(key string) {
	h1, h2 := hash(key)
	for i := uint(0); i < f.k; i++ {
		pos := (h1 + uint64(i)*h2) % f.m
		f.bits[pos/8] |= 1 << (pos % 8)
	}
}

// Has returns false if the key is definitely not in the set.
// Returns true if the key is probably in the set (subject to FPR).
func (f *Filter) Has(key string) bool {
	h1, h2 := hash(key)
	for i := uint(0); i < f.k; i++ {
		pos := (h1 + uint64(i)*h2) % f.m
		if f.bits[pos/8]&(1<<(pos%8)) == 0 {
			return false
		}
	}
	return true
}

func (f *Filter) BitArraySize() uint64 {
	return f.m
}

func (f *Filter) HashFunctionsCount() uint {
	return f.k
}

// FillRatio is the fraction of set bits.
func (f *Filter) FillRatio() float64 {
	var set int
	for _, b := range f.bits {
		for ; b != 0; b &= b - 1 {
			set++
		}
	}
	return float64(set) / float64(f.m)
}

// EstimatedFalsePositiveRate derives the current FPR from the fill ratio.
func (f *Filter) EstimatedFalsePositiveRate() float64 {
	return math.Pow(f.FillRatio(), float64(f.k))
}

func hash(key string) (uint64, uint64) {
	h1, h2 := murmur3.Sum128([]byte(key))
	if h2 == 0 {
		h2 = 1 // Avoid degenerate case
	}
	return h1, h2
}

func byteLen(m uint64) uint64 {
	return (m + 7) / 8
}
