// Package cachekey implements CacheKeyHasher from spec.md §4.3: a
// zero-allocation (after the initial buffer grows to its steady-state size)
// append-and-finalize FNV-1a hasher used by every concrete cache to compute
// its Fingerprint. The append pattern is grounded in the teacher's own
// struct-field-by-field vk.*CreateInfo population style (buffers.go,
// pipeline.go): every field is appended explicitly and in a fixed order, so
// two creation-parameter values that a caller considers equal always
// serialize identically.
package cachekey

import (
	"encoding/binary"
	"hash/fnv"
	"math"
)

// Fingerprint is the 64-bit cache key defined in spec.md §3.1.
type Fingerprint uint64

// Hasher accumulates raw bytes and finalizes them into a Fingerprint via
// FNV-1a. The zero value is ready to use.
type Hasher struct {
	buf []byte
}

// New returns a Hasher with a pre-sized buffer, avoiding reallocation for
// the common case of a cache key built from a fixed struct.
func New() *Hasher {
	return &Hasher{buf: make([]byte, 0, 128)}
}

// AddUint64 appends the raw little-endian bytes of v.
func (h *Hasher) AddUint64(v uint64) *Hasher {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.buf = append(h.buf, tmp[:]...)
	return h
}

// AddUint32 appends the raw little-endian bytes of v.
func (h *Hasher) AddUint32(v uint32) *Hasher {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	h.buf = append(h.buf, tmp[:]...)
	return h
}

// AddInt32 appends the raw little-endian bytes of v.
func (h *Hasher) AddInt32(v int32) *Hasher {
	return h.AddUint32(uint32(v))
}

// AddBool appends a single byte, 1 for true and 0 for false.
func (h *Hasher) AddBool(v bool) *Hasher {
	if v {
		h.buf = append(h.buf, 1)
	} else {
		h.buf = append(h.buf, 0)
	}
	return h
}

// AddBytes raw-appends an already length-prefixed-or-fixed-size blob. Callers
// that need a variable-length blob to be unambiguous should call AddString
// or manually prefix with AddUint32(len(...)) first.
func (h *Hasher) AddBytes(p []byte) *Hasher {
	h.buf = append(h.buf, p...)
	return h
}

// AddString appends a u32 length prefix followed by the string bytes, per
// spec.md §4.3: this prevents "ab"+"c" from colliding with "a"+"bc".
func (h *Hasher) AddString(s string) *Hasher {
	h.AddUint32(uint32(len(s)))
	h.buf = append(h.buf, s...)
	return h
}

// AddStrings length-prefixes the slice itself, then each element via
// AddString, per spec.md §4.3's "ordered container fields are
// length-prefixed then appended element-wise".
func (h *Hasher) AddStrings(ss []string) *Hasher {
	h.AddUint32(uint32(len(ss)))
	for _, s := range ss {
		h.AddString(s)
	}
	return h
}

// AddUint32s length-prefixes then appends each element.
func (h *Hasher) AddUint32s(vs []uint32) *Hasher {
	h.AddUint32(uint32(len(vs)))
	for _, v := range vs {
		h.AddUint32(v)
	}
	return h
}

// QuantizeFloat converts f to the fixed-point i32 representation mandated by
// spec.md §3.1/§4.3 (×1000 then truncate) so that floating point fields hash
// stably across platforms/compilers.
func QuantizeFloat(f float32) int32 {
	return int32(math.Trunc(float64(f) * 1000))
}

// AddFloat quantizes f and appends it, see QuantizeFloat.
func (h *Hasher) AddFloat(f float32) *Hasher {
	return h.AddInt32(QuantizeFloat(f))
}

// Finalize computes the FNV-1a digest of everything appended so far. The
// Hasher remains usable afterward (Finalize does not reset the buffer); call
// Reset first to reuse the same Hasher for an unrelated key.
func (h *Hasher) Finalize() Fingerprint {
	sum := fnv.New64a()
	sum.Write(h.buf)
	return Fingerprint(sum.Sum64())
}

// Reset empties the accumulated buffer, keeping its backing array.
func (h *Hasher) Reset() {
	h.buf = h.buf[:0]
}

// RawBytes returns the bytes accumulated so far. Used by TypedCache's debug
// hash-collision detector (spec.md §4.1) to store the raw param bytes
// alongside a key.
func (h *Hasher) RawBytes() []byte {
	out := make([]byte, len(h.buf))
	copy(out, h.buf)
	return out
}
