package texture

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// ContainerHeaderSize is the length of the prefix a headered container puts
// in front of the payload. Length lookups index both variants of every tier.
const ContainerHeaderSize = 128

// Dimensions describes one resolution tier of a texture.
type Dimensions struct {
	Width    int   `json:"width" cbor:"width"`
	Height   int   `json:"height" cbor:"height"`
	Mipmaps  uint8 `json:"mipmaps" cbor:"mipmaps"`
	DataSize int   `json:"data_size" cbor:"data_size"`
}

// Equal compares width and height only; mipmaps and data size are derived.
func (d Dimensions) Equal(o Dimensions) bool {
	return d.Width == o.Width && d.Height == o.Height
}

// String returns "WxH".
func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// TextureFormat is one concrete texture variant: pixel format, tiers, array
// size and the verbatim container header last observed for it.
type TextureFormat struct {
	PixelFormat PixelFormat `json:"pixel_format" cbor:"pixel_format"`
	Standard    Dimensions  `json:"standard" cbor:"standard"`
	HighRes     *Dimensions `json:"highres,omitempty" cbor:"highres,omitempty"`
	ArraySize   int         `json:"array_size" cbor:"array_size"`
	RawHeader   string      `json:"raw_header,omitempty" cbor:"raw_header,omitempty"` // hex
}

// ID returns the fingerprint of the format.
func (f *TextureFormat) ID() FormatID {
	return NewFormatID(f.PixelFormat, f.Standard.Width, f.Standard.Height, f.Standard.DataSize)
}

// HeaderBytes decodes the cached raw header.
func (f *TextureFormat) HeaderBytes() ([]byte, error) {
	if f.RawHeader == "" {
		return nil, errors.New("format has no cached header")
	}
	raw, err := hex.DecodeString(f.RawHeader)
	if err != nil {
		return nil, fmt.Errorf("decode raw header: %w", err)
	}
	return raw, nil
}

// SetHeaderBytes caches raw as the format's header.
func (f *TextureFormat) SetHeaderBytes(raw []byte) {
	f.RawHeader = hex.EncodeToString(raw)
}

// Tier returns the standard or high-res dimensions. The second result is
// false when a high-res tier is requested from a format without one.
func (f *TextureFormat) Tier(highRes bool) (Dimensions, bool) {
	if !highRes {
		return f.Standard, true
	}
	if f.HighRes == nil {
		return Dimensions{}, false
	}
	return *f.HighRes, true
}

// TierSize returns ExpectedSize for the given tier.
func (f *TextureFormat) TierSize(d Dimensions) int {
	return ExpectedSize(f.PixelFormat, d.Width, d.Height, f.ArraySize, d.Mipmaps)
}

// Recompute re-derives DataSize for every tier from ExpectedSize.
func (f *TextureFormat) Recompute() {
	f.Standard.DataSize = f.TierSize(f.Standard)
	if f.HighRes != nil {
		f.HighRes.DataSize = f.TierSize(*f.HighRes)
	}
}

// Validate checks that the format is usable and that every tier's DataSize
// agrees with ExpectedSize.
func (f *TextureFormat) Validate() error {
	var errs []error

	if !f.PixelFormat.Known() {
		errs = append(errs, fmt.Errorf("unknown pixel format %s", f.PixelFormat))
	}
	if f.ArraySize < 1 {
		errs = append(errs, fmt.Errorf("invalid array size %d", f.ArraySize))
	}
	if err := f.validateTier("standard", f.Standard); err != nil {
		errs = append(errs, err)
	}
	if f.HighRes != nil {
		if err := f.validateTier("high-res", *f.HighRes); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (f *TextureFormat) validateTier(name string, d Dimensions) error {
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("invalid %s dimensions %s", name, d)
	}
	if d.DataSize <= 0 || d.DataSize > MaxDataSize {
		return fmt.Errorf("%s tier %s: %w: %d bytes", name, d, ErrUnrepresentable, d.DataSize)
	}
	if want := f.TierSize(d); d.DataSize != want {
		return fmt.Errorf("%s tier: %w", name, CheckSize(want, d.DataSize))
	}
	return nil
}

// FileLengths returns every file length a container of this format can
// have: each tier's payload with and without the container header.
func (f *TextureFormat) FileLengths() []int {
	lengths := []int{f.Standard.DataSize, f.Standard.DataSize + ContainerHeaderSize}
	if f.HighRes != nil {
		lengths = append(lengths, f.HighRes.DataSize, f.HighRes.DataSize+ContainerHeaderSize)
	}
	return lengths
}

// SameLayout reports whether two formats describe the same physical layout.
// The cached header is not compared.
func (f *TextureFormat) SameLayout(o *TextureFormat) bool {
	if f.PixelFormat != o.PixelFormat || f.ArraySize != o.ArraySize || f.Standard != o.Standard {
		return false
	}
	if (f.HighRes == nil) != (o.HighRes == nil) {
		return false
	}
	return f.HighRes == nil || *f.HighRes == *o.HighRes
}

// Clone returns a deep copy.
func (f *TextureFormat) Clone() *TextureFormat {
	c := *f
	if f.HighRes != nil {
		hr := *f.HighRes
		c.HighRes = &hr
	}
	return &c
}

// String returns a human-readable representation.
func (f *TextureFormat) String() string {
	s := fmt.Sprintf("%s %s x%d, %d mips, %d bytes", f.PixelFormat, f.Standard, f.ArraySize, f.Standard.Mipmaps, f.Standard.DataSize)
	if f.HighRes != nil {
		s += fmt.Sprintf(" (high-res %s, %d mips, %d bytes)", f.HighRes, f.HighRes.Mipmaps, f.HighRes.DataSize)
	}
	return s
}
