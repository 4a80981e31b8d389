package storage

import (
	"bytes"
	"encoding/binary"
)

// ───────────────────────────────────────────────────────────────────────────
// Key types
// ───────────────────────────────────────────────────────────────────────────
//
// Keys are fixed-size values encoded directly into node entries — never
// boxed, never variable length. Two kinds cover the catalog's column
// types: signed 64-bit integers and 32-byte zero-padded strings ordered
// by raw byte comparison.

// Int64Key orders signed 64-bit integer keys.
type Int64Key struct{}

func (Int64Key) Size() int { return 8 }

func (Int64Key) Encode(dst []byte, k int64) {
	binary.LittleEndian.PutUint64(dst[:8], uint64(k))
}

func (Int64Key) Decode(src []byte) int64 {
	return int64(binary.LittleEndian.Uint64(src[:8]))
}

func (Int64Key) Less(a, b int64) bool { return a < b }

// String32 is a fixed-length string key: zero-padded to 32 bytes, longer
// input truncated. Lexicographic byte order is the comparator, so the
// zero padding sorts a short string before its extensions.
type String32 [32]byte

// MakeString32 builds a String32 from s.
func MakeString32(s string) String32 {
	var k String32
	copy(k[:], s)
	return k
}

// String returns the text up to the first NUL.
func (k String32) String() string {
	if i := bytes.IndexByte(k[:], 0); i >= 0 {
		return string(k[:i])
	}
	return string(k[:])
}

// String32Key orders String32 keys by raw byte comparison.
type String32Key struct{}

func (String32Key) Size() int { return 32 }

func (String32Key) Encode(dst []byte, k String32) { copy(dst[:32], k[:]) }

func (String32Key) Decode(src []byte) String32 {
	var k String32
	copy(k[:], src[:32])
	return k
}

func (String32Key) Less(a, b String32) bool {
	return bytes.Compare(a[:], b[:]) < 0
}
