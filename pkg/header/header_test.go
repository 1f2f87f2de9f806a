package header

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"

	"github.com/goopsie/texresolve/pkg/texture"
)

// seekableBuffer wraps bytes.Reader for tests that need io.ReadSeeker.
type seekableBuffer struct {
	*bytes.Reader
}

func newSeekable(b []byte) *seekableBuffer {
	return &seekableBuffer{Reader: bytes.NewReader(b)}
}

func rgbaBlock() FormatBlock {
	return FormatBlock{
		Width:       128,
		Height:      128,
		ArraySize:   1,
		PixelFormat: uint32(texture.DXGI_FORMAT_R8G8B8A8_UNORM),
		Mipmaps:     5,
	}
}

func bc7HighResBlock() FormatBlock {
	return FormatBlock{
		Width:          512,
		Height:         512,
		HighResWidth:   2048,
		HighResHeight:  2048,
		ArraySize:      1,
		PixelFormat:    uint32(texture.DXGI_FORMAT_BC7_UNORM),
		Mipmaps:        7,
		HighResMipmaps: 2,
	}
}

func encode(t *testing.T, h *Header) [Size]byte {
	t.Helper()
	data, err := h.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var buf [Size]byte
	copy(buf[:], data)
	return buf
}

func testLogger(out io.Writer) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "header-test",
		Level:  hclog.Warn,
		Output: out,
	})
}

func TestLayout(t *testing.T) {
	if formatBlockOffset != 0x54 {
		t.Errorf("format block offset: got %#x, want 0x54", formatBlockOffset)
	}
	if formatBlockOffset+formatBlockSize != Size {
		t.Errorf("header size: got %d, want %d", formatBlockOffset+formatBlockSize, Size)
	}

	buf := encode(t, New(rgbaBlock(), 87296))
	if !bytes.Equal(buf[0:4], Magic[:]) {
		t.Errorf("magic: got %x", buf[0:4])
	}
	if buf[0x08] != 0x00 || buf[0x09] != 0x55 || buf[0x0A] != 0x01 {
		t.Errorf("data length: got %x", buf[0x08:0x0C])
	}
	if !bytes.Equal(buf[0x08:0x0C], buf[0x14:0x18]) {
		t.Error("data length copies differ")
	}
	if buf[0x38] != BlockLength || buf[0x3C] != FormatBlockLength {
		t.Errorf("block lengths: got %d/%d", buf[0x38], buf[0x3C])
	}
	if buf[0x69] != 5 {
		t.Errorf("mipmaps: got %d", buf[0x69])
	}
}

func TestDecode(t *testing.T) {
	t.Run("ConcreteScenario", func(t *testing.T) {
		buf := encode(t, New(rgbaBlock(), 87296))

		h, err := Decode(&buf, nil)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if h == nil {
			t.Fatal("expected header, got nil")
		}
		if len(h.Diagnostics) != 0 {
			t.Errorf("unexpected diagnostics: %v", h.Diagnostics)
		}

		f := h.Format()
		want := texture.Dimensions{Width: 128, Height: 128, Mipmaps: 5, DataSize: 87296}
		if f.Standard != want {
			t.Errorf("standard: got %+v, want %+v", f.Standard, want)
		}
		if f.HighRes != nil {
			t.Errorf("expected no high-res tier, got %+v", f.HighRes)
		}
		if f.PixelFormat != texture.DXGI_FORMAT_R8G8B8A8_UNORM {
			t.Errorf("pixel format: got %s", f.PixelFormat)
		}
		if err := f.Validate(); err != nil {
			t.Errorf("validate: %v", err)
		}
	})

	t.Run("NoMagic", func(t *testing.T) {
		var buf [Size]byte
		copy(buf[:], "plain payload")
		h, err := Decode(&buf, nil)
		if err != nil || h != nil {
			t.Errorf("expected nil, nil; got %v, %v", h, err)
		}
	})

	t.Run("Malformed", func(t *testing.T) {
		block := rgbaBlock()
		block.Width = 0
		buf := encode(t, New(block, 0))
		_, err := Decode(&buf, nil)
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("expected ErrMalformed, got %v", err)
		}
	})

	t.Run("UnrepresentableSize", func(t *testing.T) {
		tests := []struct {
			name  string
			block FormatBlock
		}{
			{"ProductOverflows", FormatBlock{
				Width: 65535, Height: 65535, ArraySize: 0xffffffff,
				PixelFormat: uint32(texture.DXGI_FORMAT_R16G16B16A16_FLOAT), Mipmaps: 1,
			}},
			{"AboveDataLength", FormatBlock{
				Width: 65535, Height: 65535, ArraySize: 1,
				PixelFormat: uint32(texture.DXGI_FORMAT_R8G8B8A8_UNORM), Mipmaps: 1,
			}},
			{"HighResTier", FormatBlock{
				Width: 512, Height: 512, HighResWidth: 65535, HighResHeight: 65535, ArraySize: 4,
				PixelFormat: uint32(texture.DXGI_FORMAT_R8G8B8A8_UNORM), Mipmaps: 7, HighResMipmaps: 2,
			}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				buf := encode(t, New(tt.block, 16))
				h, err := Decode(&buf, nil)
				if !errors.Is(err, ErrMalformed) || !errors.Is(err, texture.ErrUnrepresentable) {
					t.Errorf("expected ErrMalformed wrapping ErrUnrepresentable, got %v", err)
				}
				if h != nil {
					t.Errorf("expected no header, got %+v", h.Block)
				}
			})
		}
	})

	t.Run("HighResTier", func(t *testing.T) {
		block := bc7HighResBlock()
		hiSize := texture.ExpectedSize(texture.DXGI_FORMAT_BC7_UNORM, 2048, 2048, 1, 2)
		buf := encode(t, New(block, uint32(hiSize)))

		h, err := Decode(&buf, nil)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(h.Diagnostics) != 0 {
			t.Errorf("unexpected diagnostics: %v", h.Diagnostics)
		}
		highRes, ok := h.PayloadTier()
		if !ok || !highRes {
			t.Errorf("PayloadTier: got highRes=%v ok=%v", highRes, ok)
		}
		f := h.Format()
		if f.HighRes == nil || f.HighRes.DataSize != hiSize {
			t.Errorf("high-res tier: got %+v", f.HighRes)
		}
	})
}

func TestRedundantFieldWarnings(t *testing.T) {
	h := New(rgbaBlock(), 87296)
	h.File.DataLengthCopy = 1
	h.Block.PixelFormatCopy = uint32(texture.DXGI_FORMAT_BC1_UNORM)
	buf := encode(t, h)

	var logs bytes.Buffer
	decoded, err := Decode(&buf, testLogger(&logs))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	fields := map[string]bool{}
	for _, d := range decoded.Diagnostics {
		fields[d.Field] = true
	}
	for _, want := range []string{"data_length", "pixel_format"} {
		if !fields[want] {
			t.Errorf("missing diagnostic for %s: %v", want, decoded.Diagnostics)
		}
		if !strings.Contains(logs.String(), "field="+want) {
			t.Errorf("missing log line for %s:\n%s", want, logs.String())
		}
	}

	// primary copies win
	if decoded.File.DataLength != 87296 {
		t.Errorf("data length: got %d", decoded.File.DataLength)
	}
	if decoded.Format().PixelFormat != texture.DXGI_FORMAT_R8G8B8A8_UNORM {
		t.Errorf("pixel format: got %s", decoded.Format().PixelFormat)
	}
}

func TestDerivedWarnings(t *testing.T) {
	block := rgbaBlock()
	block.Mipmaps = 3
	buf := encode(t, New(block, 12345))

	h, err := Decode(&buf, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	fields := map[string]bool{}
	for _, d := range h.Diagnostics {
		fields[d.Field] = true
	}
	if !fields["mipmaps"] {
		t.Errorf("expected mipmaps diagnostic: %v", h.Diagnostics)
	}
	if !fields["data_length"] {
		t.Errorf("expected data_length diagnostic: %v", h.Diagnostics)
	}
}

func TestRead(t *testing.T) {
	t.Run("Headered", func(t *testing.T) {
		buf := encode(t, New(rgbaBlock(), 4))
		r := newSeekable(append(buf[:], 1, 2, 3, 4))

		h, err := Read(r, nil)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if h == nil {
			t.Fatal("expected header")
		}
		pos, _ := r.Seek(0, io.SeekCurrent)
		if pos != Size {
			t.Errorf("position: got %d, want %d", pos, Size)
		}
	})

	t.Run("Headerless", func(t *testing.T) {
		payload := bytes.Repeat([]byte{0xab}, 4096)
		r := newSeekable(payload)

		h, err := Read(r, nil)
		if err != nil || h != nil {
			t.Fatalf("expected nil, nil; got %v, %v", h, err)
		}
		pos, _ := r.Seek(0, io.SeekCurrent)
		if pos != 0 {
			t.Errorf("position: got %d, want 0", pos)
		}
	})

	t.Run("ShortFile", func(t *testing.T) {
		r := newSeekable(Magic[:])
		h, err := Read(r, nil)
		if err != nil || h != nil {
			t.Fatalf("expected nil, nil; got %v, %v", h, err)
		}
		pos, _ := r.Seek(0, io.SeekCurrent)
		if pos != 0 {
			t.Errorf("position: got %d, want 0", pos)
		}
	})
}

func TestEncodeRoundTrip(t *testing.T) {
	h := New(bc7HighResBlock(), 0)
	h.File.Reserved0 = [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	h.Block.PlaneFlags = 0x3
	h.Block.Reserved[20] = 0x7f
	std := texture.ExpectedSize(texture.DXGI_FORMAT_BC7_UNORM, 512, 512, 1, 7)
	h.File.DataLength = uint32(std)
	h.File.DataLengthCopy = uint32(std)
	original := encode(t, h)

	decoded, err := Decode(&original, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	f := decoded.Format()

	got, err := Encode(f, std)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got != original {
		t.Errorf("round trip mismatch:\n got %x\nwant %x", got, original)
	}

	t.Run("PatchesDataLength", func(t *testing.T) {
		out, err := Encode(f, 77)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		var again Header
		again.DecodeFrom(out[:])
		if again.File.DataLength != 77 || again.File.DataLengthCopy != 77 {
			t.Errorf("data length: got %d/%d", again.File.DataLength, again.File.DataLengthCopy)
		}
		if again.Block != decoded.Block {
			t.Error("format block changed")
		}
	})

	t.Run("NoCachedHeader", func(t *testing.T) {
		bare := f.Clone()
		bare.RawHeader = ""
		if _, err := Encode(bare, std); err == nil {
			t.Error("expected error without cached header")
		}
	})

	t.Run("WrongLength", func(t *testing.T) {
		bad := f.Clone()
		bad.SetHeaderBytes([]byte{1, 2, 3})
		if _, err := Encode(bad, std); err == nil {
			t.Error("expected error for short cached header")
		}
	})
}

func TestCompare(t *testing.T) {
	buf := encode(t, New(rgbaBlock(), 87296))
	h, err := Decode(&buf, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	same := h.Format()
	if got := Compare(h, same, nil); len(got) != 0 {
		t.Errorf("expected no mismatches, got %v", got)
	}

	other := same.Clone()
	other.PixelFormat = texture.DXGI_FORMAT_BC1_UNORM
	other.HighRes = &texture.Dimensions{Width: 512, Height: 512, Mipmaps: 2}

	var logs bytes.Buffer
	got := Compare(h, other, testLogger(&logs))
	fields := map[string]bool{}
	for _, m := range got {
		fields[m.Field] = true
	}
	if !fields["pixel_format"] || !fields["highres"] {
		t.Errorf("expected pixel_format and highres mismatches, got %v", got)
	}
	if !strings.Contains(logs.String(), "field=pixel_format") {
		t.Errorf("expected warning log, got:\n%s", logs.String())
	}
}
