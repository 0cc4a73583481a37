// Package bytesx contains byte-level helpers shared by the codecs.
package bytesx

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
)

// ErrShortRead indicates that a buffer ended before a fixed-width field.
var ErrShortRead = errors.New("bytesx: short read")

// GenRandomBytes returns n cryptographically random bytes.
func GenRandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// PutUint16 writes v big-endian into b[0:2].
func PutUint16(b []byte, v uint16) {
	binary.BigEndian.PutUint16(b, v)
}

// PutUint32 writes v big-endian into b[0:4].
func PutUint32(b []byte, v uint32) {
	binary.BigEndian.PutUint32(b, v)
}

// Uint16 reads a big-endian uint16 from b[0:2].
func Uint16(b []byte) uint16 {
	return binary.BigEndian.Uint16(b)
}

// ReadUint16 reads a big-endian uint16 from buf.
func ReadUint16(buf *bytes.Buffer) (uint16, error) {
	var b [2]byte
	if n, _ := buf.Read(b[:]); n != 2 {
		return 0, ErrShortRead
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

// ReadUint32 reads a big-endian uint32 from buf.
func ReadUint32(buf *bytes.Buffer) (uint32, error) {
	var b [4]byte
	if n, _ := buf.Read(b[:]); n != 4 {
		return 0, ErrShortRead
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// HexPrefix returns the hex dump of at most max leading bytes of b, with an
// ellipsis when b is longer.
func HexPrefix(b []byte, max int) string {
	if len(b) <= max {
		return hex.EncodeToString(b)
	}
	return hex.EncodeToString(b[:max]) + "..."
}

// IsZero returns whether every byte of b is zero.
func IsZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
