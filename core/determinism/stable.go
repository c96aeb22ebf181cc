// Package determinism provides primitives for guaranteeing deterministic execution.
// All code must use these primitives instead of Go built-ins for maps, IDs, etc.
package determinism

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"slices"
	"strconv"

	"github.com/shopspring/decimal"
)

// Precision is the number of decimal places carried by every stored quantity
const Precision int32 = 6

// StableID is a hash-based unique identifier that's deterministic
type StableID string

// IDGenerator generates stable, deterministic IDs
type IDGenerator struct {
	namespace string
}

// NewIDGenerator creates an ID generator with a namespace
func NewIDGenerator(namespace string) *IDGenerator {
	return &IDGenerator{namespace: namespace}
}

// Generate creates a stable ID from inputs
func (g *IDGenerator) Generate(parts ...string) StableID {
	h := NewHasher(g.namespace)
	h.Strings(parts...)
	return StableID(h.Sum()[:16])
}

// ContentHash is a SHA-256 hash for content integrity
type ContentHash [32]byte

// ComputeHash computes a content hash from bytes
func ComputeHash(data []byte) ContentHash {
	return sha256.Sum256(data)
}

// Hex returns the hash as a hex string
func (h ContentHash) Hex() string {
	return hex.EncodeToString(h[:])
}

// String implements Stringer
func (h ContentHash) String() string {
	return h.Hex()[:16] + "..."
}

// Hasher builds a fingerprint from typed parts.
// Every part is followed by a separator so ("ab","c") and ("a","bc") differ.
type Hasher struct {
	h hash.Hash
}

// NewHasher creates a hasher scoped to a namespace
func NewHasher(namespace string) *Hasher {
	h := &Hasher{h: sha256.New()}
	h.Strings(namespace)
	return h
}

// Strings writes string parts
func (h *Hasher) Strings(parts ...string) *Hasher {
	for _, p := range parts {
		h.h.Write([]byte(p))
		h.h.Write([]byte{0})
	}
	return h
}

// Decimals writes decimal parts at the fixed precision
func (h *Hasher) Decimals(parts ...decimal.Decimal) *Hasher {
	for _, d := range parts {
		h.Strings(d.StringFixed(Precision))
	}
	return h
}

// Int writes an integer part
func (h *Hasher) Int(v int64) *Hasher {
	return h.Strings(strconv.FormatInt(v, 10))
}

// Bool writes a boolean part
func (h *Hasher) Bool(v bool) *Hasher {
	return h.Strings(strconv.FormatBool(v))
}

// Sum returns the hex digest
func (h *Hasher) Sum() string {
	return hex.EncodeToString(h.h.Sum(nil))
}

// Round rounds to the fixed precision
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Precision)
}

// Floor truncates toward negative infinity at the fixed precision
func Floor(d decimal.Decimal) decimal.Decimal {
	return d.RoundFloor(Precision)
}

// FromFloat converts a float at the fixed precision
func FromFloat(f float64) decimal.Decimal {
	return Round(decimal.NewFromFloat(f))
}

// Clamp bounds d to [lo, hi]
func Clamp(d, lo, hi decimal.Decimal) decimal.Decimal {
	if d.LessThan(lo) {
		return lo
	}
	if d.GreaterThan(hi) {
		return hi
	}
	return d
}

// Clamp01 bounds d to [0, 1]
func Clamp01(d decimal.Decimal) decimal.Decimal {
	return Clamp(d, decimal.Zero, decimal.NewFromInt(1))
}

// Min returns the smallest argument
func Min(first decimal.Decimal, rest ...decimal.Decimal) decimal.Decimal {
	return decimal.Min(first, rest...)
}

// Max returns the largest argument
func Max(first decimal.Decimal, rest ...decimal.Decimal) decimal.Decimal {
	return decimal.Max(first, rest...)
}

// SortSlice sorts a slice in a stable, deterministic manner
func SortSlice[T any](slice []T, less func(a, b T) bool) {
	slices.SortStableFunc(slice, func(a, b T) int {
		switch {
		case less(a, b):
			return -1
		case less(b, a):
			return 1
		default:
			return 0
		}
	})
}

// SortedKeys returns the keys of a map in ascending order
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// RangeMapSorted iterates over a map in sorted key order
func RangeMapSorted[K cmp.Ordered, V any](m map[K]V, fn func(K, V) bool) {
	for _, k := range SortedKeys(m) {
		if !fn(k, m[k]) {
			break
		}
	}
}

// SortedUnique returns a sorted copy without duplicates or empty strings
func SortedUnique(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, 0, len(s))
	for _, v := range s {
		if v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) == 0 {
		return nil
	}
	return out
}
