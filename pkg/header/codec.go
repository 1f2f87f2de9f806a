package header

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/go-hclog"

	"github.com/goopsie/texresolve/pkg/texture"
)

// Decode parses a container header from buf.
//
// A buffer that does not start with Magic is not a headered container:
// Decode returns nil, nil. A header whose format block cannot describe a
// texture returns ErrMalformed. Every other inconsistency is logged at warn
// level, recorded in Diagnostics, and decoding continues with the primary
// copy of the field.
func Decode(buf *[Size]byte, logger hclog.Logger) (*Header, error) {
	if [4]byte(buf[0:4]) != Magic {
		return nil, nil
	}

	h := &Header{}
	h.DecodeFrom(buf[:])
	if err := h.Validate(); err != nil {
		return nil, err
	}

	h.check()
	if logger != nil {
		for _, d := range h.Diagnostics {
			logger.Warn("container header inconsistency", "field", d.Field, "detail", d.Message)
		}
	}
	return h, nil
}

// Read reads a header from the start of r.
//
// When r holds no header (wrong magic or fewer than Size bytes), Read
// returns nil, nil and r is repositioned at offset 0. Otherwise r is left
// positioned at the first payload byte.
func Read(r io.ReadSeeker, logger hclog.Logger) (*Header, error) {
	var buf [Size]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("read header: %w", err)
		}
		if _, err := r.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewind: %w", err)
		}
		return nil, nil
	}

	h, err := Decode(&buf, logger)
	if err != nil {
		return nil, err
	}
	if h == nil {
		if _, err := r.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewind: %w", err)
		}
	}
	return h, nil
}

// Encode renders the cached header of f with both data length fields set to
// dataSize. Every other byte is reproduced verbatim.
func Encode(f *texture.TextureFormat, dataSize int) ([Size]byte, error) {
	var out [Size]byte

	raw, err := f.HeaderBytes()
	if err != nil {
		return out, err
	}
	if len(raw) != Size {
		return out, fmt.Errorf("cached header is %d bytes, want %d", len(raw), Size)
	}
	if dataSize < 0 || uint64(dataSize) > 0xffffffff {
		return out, fmt.Errorf("data size %d does not fit the header", dataSize)
	}

	copy(out[:], raw)
	binary.LittleEndian.PutUint32(out[0x08:0x0C], uint32(dataSize))
	binary.LittleEndian.PutUint32(out[0x14:0x18], uint32(dataSize))
	return out, nil
}

// Format converts the header into a TextureFormat. DataSize of every tier
// is derived from the dimensions; the verbatim header bytes are cached on
// the result.
func (h *Header) Format() *texture.TextureFormat {
	f := &texture.TextureFormat{
		PixelFormat: texture.PixelFormat(h.Block.PixelFormat),
		Standard: texture.Dimensions{
			Width:   int(h.Block.Width),
			Height:  int(h.Block.Height),
			Mipmaps: max(h.Block.Mipmaps, 1),
		},
		ArraySize: int(h.Block.ArraySize),
	}
	if h.Block.HasHighRes() {
		f.HighRes = &texture.Dimensions{
			Width:   int(h.Block.HighResWidth),
			Height:  int(h.Block.HighResHeight),
			Mipmaps: max(h.Block.HighResMipmaps, 1),
		}
	}
	f.Recompute()

	raw, _ := h.MarshalBinary()
	f.SetHeaderBytes(raw)
	return f
}

// PayloadTier reports which tier the header's data length belongs to.
// ok is false when the data length matches neither tier.
func (h *Header) PayloadTier() (highRes bool, ok bool) {
	f := h.Format()
	n := int(h.File.DataLength)
	if n == f.Standard.DataSize {
		return false, true
	}
	if f.HighRes != nil && n == f.HighRes.DataSize {
		return true, true
	}
	return false, false
}

func (h *Header) warn(field, format string, args ...any) {
	h.Diagnostics = append(h.Diagnostics, Diagnostic{Field: field, Message: fmt.Sprintf(format, args...)})
}

// check cross-validates redundant fields and derived values.
func (h *Header) check() {
	if h.File.DataLength != h.File.DataLengthCopy {
		h.warn("data_length", "primary %d, copy %d", h.File.DataLength, h.File.DataLengthCopy)
	}
	if h.File.HeaderLength != h.Texture.HeaderLength {
		h.warn("header_length", "primary %d, copy %d", h.File.HeaderLength, h.Texture.HeaderLength)
	}
	if h.Block.PixelFormat != h.Block.PixelFormatCopy {
		h.warn("pixel_format", "primary %d, copy %d", h.Block.PixelFormat, h.Block.PixelFormatCopy)
	}
	if h.Texture.Magic != TextureMagic {
		h.warn("texture_magic", "unexpected %x", h.Texture.Magic)
	}
	if h.Texture.Version != Version {
		h.warn("version", "unsupported version %d", h.Texture.Version)
	}
	if h.Texture.BlockLength != h.Texture.FormatBlockLength+4 {
		h.warn("block_length", "block length %d, format block length %d", h.Texture.BlockLength, h.Texture.FormatBlockLength)
	}
	if h.Tag != Tag {
		h.warn("tag", "unexpected tag %q", h.Tag[:])
	}

	pf := texture.PixelFormat(h.Block.PixelFormat)
	if !pf.Known() {
		h.warn("pixel_format", "unknown pixel format %s", pf)
		return
	}

	std := texture.Dimensions{Width: int(h.Block.Width), Height: int(h.Block.Height)}
	if want := texture.MipLevels(std, false); h.Block.Mipmaps != want {
		h.warn("mipmaps", "header has %d, dimensions imply %d", h.Block.Mipmaps, want)
	}
	if h.Block.HasHighRes() {
		hr := texture.Dimensions{Width: int(h.Block.HighResWidth), Height: int(h.Block.HighResHeight)}
		if want := texture.MipLevels(hr, true); h.Block.HighResMipmaps != want {
			h.warn("highres_mipmaps", "header has %d, dimensions imply %d", h.Block.HighResMipmaps, want)
		}
	}
	if _, ok := h.PayloadTier(); !ok {
		h.warn("data_length", "%d bytes matches no tier of the declared format", h.File.DataLength)
	}
}

// Mismatch is one field on which a header disagrees with another belief
// about the same file.
type Mismatch struct {
	Field    string
	Header   any
	Believed any
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: header %v, believed %v", m.Field, m.Header, m.Believed)
}

// Compare lists the fields on which h disagrees with belief and logs each
// one at warn level.
func Compare(h *Header, belief *texture.TextureFormat, logger hclog.Logger) []Mismatch {
	got := h.Format()
	var out []Mismatch
	add := func(field string, header, believed any) {
		out = append(out, Mismatch{Field: field, Header: header, Believed: believed})
	}

	if got.PixelFormat != belief.PixelFormat {
		add("pixel_format", got.PixelFormat, belief.PixelFormat)
	}
	if got.ArraySize != belief.ArraySize {
		add("array_size", got.ArraySize, belief.ArraySize)
	}
	if !got.Standard.Equal(belief.Standard) {
		add("dimensions", got.Standard, belief.Standard)
	}
	if got.Standard.Mipmaps != belief.Standard.Mipmaps {
		add("mipmaps", got.Standard.Mipmaps, belief.Standard.Mipmaps)
	}
	switch {
	case (got.HighRes == nil) != (belief.HighRes == nil):
		add("highres", got.HighRes != nil, belief.HighRes != nil)
	case got.HighRes != nil:
		if !got.HighRes.Equal(*belief.HighRes) {
			add("highres_dimensions", *got.HighRes, *belief.HighRes)
		}
		if got.HighRes.Mipmaps != belief.HighRes.Mipmaps {
			add("highres_mipmaps", got.HighRes.Mipmaps, belief.HighRes.Mipmaps)
		}
	}

	if logger != nil {
		for _, m := range out {
			logger.Warn("header disagrees with known format", "field", m.Field, "header", m.Header, "believed", m.Believed)
		}
	}
	return out
}
