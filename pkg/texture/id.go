package texture

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/zeebo/blake3"
)

// FormatID is the 64-bit fingerprint of a texture format:
//
//	bits 63..56  pixel format (low byte)
//	bits 55..40  standard width
//	bits 39..24  standard height
//	bits 23..0   keyed BLAKE3 hash of the standard data size, truncated
//
// Formats learned independently on different machines converge on the same
// ID. Two formats that differ only in compression ratio can collide.
type FormatID uint64

// sizeHashKey domain-separates the data size hash. Changing it changes every
// FormatID ever persisted.
var sizeHashKey = [32]byte{
	't', 'e', 'x', 'r', 'e', 's', 'o', 'l', 'v', 'e', '.', 'f', 'o', 'r', 'm', 'a',
	't', '.', 's', 'i', 'z', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

func sizeHash(dataSize int) uint32 {
	hasher, err := blake3.NewKeyed(sizeHashKey[:])
	if err != nil {
		// only returned for a key that is not 32 bytes
		panic("texture: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(dataSize))
	hasher.Write(buf[:])
	sum := hasher.Sum(nil)
	return uint32(sum[0])<<16 | uint32(sum[1])<<8 | uint32(sum[2])
}

// NewFormatID derives the fingerprint for a format.
func NewFormatID(format PixelFormat, width, height, dataSize int) FormatID {
	return FormatID(uint64(format&0xff)<<56 |
		uint64(width&0xffff)<<40 |
		uint64(height&0xffff)<<24 |
		uint64(sizeHash(dataSize)))
}

// PixelFormat returns the pixel format byte folded into the ID.
func (id FormatID) PixelFormat() PixelFormat {
	return PixelFormat(id >> 56)
}

// Width returns the standard width folded into the ID.
func (id FormatID) Width() int {
	return int(id>>40) & 0xffff
}

// Height returns the standard height folded into the ID.
func (id FormatID) Height() int {
	return int(id>>24) & 0xffff
}

// String returns the ID as 16 lowercase hex digits.
func (id FormatID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// MarshalText implements encoding.TextMarshaler.
func (id FormatID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *FormatID) UnmarshalText(text []byte) error {
	parsed, err := ParseFormatID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseFormatID parses the hex form produced by String.
func ParseFormatID(s string) (FormatID, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse format id %q: %w", s, err)
	}
	return FormatID(v), nil
}
