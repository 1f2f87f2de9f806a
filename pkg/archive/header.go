// Package archive stores registry snapshots as one zstd frame behind a
// fixed header. The header records how the payload is serialized, its
// length before and after compression, and a BLAKE3 digest of the
// uncompressed payload that readers verify.
//
//	0x00  magic "TXDB"
//	0x04  u16 version
//	0x06  u16 payload encoding
//	0x08  u64 payload length
//	0x10  u64 compressed length
//	0x18  [32]byte BLAKE3-256 of the payload
package archive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const magic = "TXDB"

// HeaderSize is the encoded size of a Header.
const HeaderSize = 0x38

// Version is the header version written by this package.
const Version = 1

var (
	// ErrNotArchive is returned for data that does not start with the magic.
	ErrNotArchive = errors.New("not a snapshot archive")
	// ErrChecksum is returned when a payload does not match its digest.
	ErrChecksum = errors.New("snapshot checksum mismatch")
)

// Encoding identifies the serialization of the payload.
type Encoding uint16

const (
	EncodingJSON Encoding = 1
	EncodingCBOR Encoding = 2
)

func (e Encoding) String() string {
	switch e {
	case EncodingJSON:
		return "json"
	case EncodingCBOR:
		return "cbor"
	default:
		return fmt.Sprintf("encoding(%d)", uint16(e))
	}
}

// Header precedes the compressed payload.
type Header struct {
	Version          uint16
	Encoding         Encoding
	Length           uint64
	CompressedLength uint64
	Sum              [32]byte
}

// IsArchive reports whether data starts with the archive magic.
func IsArchive(data []byte) bool {
	return bytes.HasPrefix(data, []byte(magic))
}

// AppendBinary appends the encoded header to b.
func (h *Header) AppendBinary(b []byte) ([]byte, error) {
	b = append(b, magic...)
	b = binary.LittleEndian.AppendUint16(b, h.Version)
	b = binary.LittleEndian.AppendUint16(b, uint16(h.Encoding))
	b = binary.LittleEndian.AppendUint64(b, h.Length)
	b = binary.LittleEndian.AppendUint64(b, h.CompressedLength)
	return append(b, h.Sum[:]...), nil
}

func (h *Header) MarshalBinary() ([]byte, error) {
	return h.AppendBinary(make([]byte, 0, HeaderSize))
}

// UnmarshalBinary decodes and validates a header.
func (h *Header) UnmarshalBinary(data []byte) error {
	if !IsArchive(data) {
		return ErrNotArchive
	}
	if len(data) < HeaderSize {
		return fmt.Errorf("archive header truncated: %d of %d bytes", len(data), HeaderSize)
	}

	h.Version = binary.LittleEndian.Uint16(data[0x04:])
	h.Encoding = Encoding(binary.LittleEndian.Uint16(data[0x06:]))
	h.Length = binary.LittleEndian.Uint64(data[0x08:])
	h.CompressedLength = binary.LittleEndian.Uint64(data[0x10:])
	copy(h.Sum[:], data[0x18:HeaderSize])
	return h.validate()
}

func (h *Header) validate() error {
	if h.Version != Version {
		return fmt.Errorf("unsupported archive version %d", h.Version)
	}
	if h.Encoding != EncodingJSON && h.Encoding != EncodingCBOR {
		return fmt.Errorf("unsupported payload %s", h.Encoding)
	}
	if h.Length == 0 || h.CompressedLength == 0 {
		return errors.New("archive payload is empty")
	}
	return nil
}
