package resources

import (
	"encoding/binary"
	"io"
	"math"
	"unsafe"
)

// safeCString null-terminates s for Vulkan PName fields, mirroring the
// teacher's safeString helper (pipeline.go) without its package-level
// global string table — each cache only ever needs one entry-point name at
// a time.
func safeCString(s string) string {
	return s + "\x00"
}

// sliceToPointer returns an unsafe.Pointer to b's backing array, or nil for
// an empty slice, for PData-style Vulkan fields that want raw bytes rather
// than a typed slice.
func sliceToPointer(b []byte) unsafe.Pointer {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Pointer(&b[0])
}

// unsafeBytesView reinterprets a mapped Vulkan buffer pointer as a []byte of
// the given length, mirroring upload.Uploader's use of unsafe.Slice for the
// same purpose.
func unsafeBytesView(ptr unsafe.Pointer, length int) []byte {
	return unsafe.Slice((*byte)(ptr), length)
}

// float32ToBytes little-endian encodes f, for CPU-side vertex/AABB arrays
// that need to land in a mapped Vulkan buffer without an encoding/binary
// round trip per element.
func float32ToBytes(f float32) []byte {
	bits := math.Float32bits(f)
	return []byte{byte(bits), byte(bits >> 8), byte(bits >> 16), byte(bits >> 24)}
}

func writeFloat32(w io.Writer, f float32) error {
	return writeUint32(w, math.Float32bits(f))
}

func readFloat32(r io.Reader) (float32, error) {
	bits, err := readUint32(r)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(bits), nil
}

func uint32ToBytes(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func uint64ToBytes(v uint64) []byte {
	return []byte{
		byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24),
		byte(v >> 32), byte(v >> 40), byte(v >> 48), byte(v >> 56),
	}
}

// The helpers below implement spec.md §6.3's on-disk cache-body format: u32
// version, u32 entry count, u64 keys, u32-length-prefixed strings, and
// u32-word-count-prefixed SPIR-V arrays. Every serializing concrete cache in
// this package builds its body out of these instead of hand-rolling
// encoding/binary calls per field.

func writeUint32(w io.Writer, v uint32) error {
	return binary.Write(w, binary.LittleEndian, v)
}

func readUint32(r io.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func writeUint64(w io.Writer, v uint64) error {
	return binary.Write(w, binary.LittleEndian, v)
}

func readUint64(r io.Reader) (uint64, error) {
	var v uint64
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func writeString(w io.Writer, s string) error {
	if err := writeUint32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeStrings(w io.Writer, ss []string) error {
	if err := writeUint32(w, uint32(len(ss))); err != nil {
		return err
	}
	for _, s := range ss {
		if err := writeString(w, s); err != nil {
			return err
		}
	}
	return nil
}

func readStrings(r io.Reader) ([]string, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// writeWords/readWords implement the "SPIR-V is u32 word count then u32xN
// words" body spec.md §6.3 names explicitly.
func writeWords(w io.Writer, words []uint32) error {
	if err := writeUint32(w, uint32(len(words))); err != nil {
		return err
	}
	for _, word := range words {
		if err := writeUint32(w, word); err != nil {
			return err
		}
	}
	return nil
}

func readWords(r io.Reader) ([]uint32, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	for i := range out {
		v, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := writeUint32(w, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	_, err = io.ReadFull(r, buf)
	return buf, err
}
