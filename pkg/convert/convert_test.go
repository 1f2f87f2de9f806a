package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"

	"github.com/goopsie/texresolve/pkg/codec"
	"github.com/goopsie/texresolve/pkg/dds"
	"github.com/goopsie/texresolve/pkg/header"
	"github.com/goopsie/texresolve/pkg/registry"
	"github.com/goopsie/texresolve/pkg/scan"
	"github.com/goopsie/texresolve/pkg/texture"
)

func newConverter(t *testing.T, out string, opts ...Option) *Converter {
	t.Helper()
	reg := registry.New(registry.WithLogger(hclog.NewNullLogger()))
	tc, err := codec.NewTranscoder(codec.NativeCodec, codec.NewSoftware(), nil)
	if err != nil {
		t.Fatal(err)
	}
	resolver := scan.NewResolver(reg, scan.WithOutputDir(out), scan.WithTranscoder(tc))
	return New(resolver, tc, opts...)
}

func writeContainer(t *testing.T, path string, block header.FormatBlock, payload []byte) *texture.TextureFormat {
	t.Helper()
	h := header.New(block, uint32(len(payload)))
	raw, err := h.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, append(raw, payload...), 0o644); err != nil {
		t.Fatal(err)
	}
	return h.Format()
}

func writePNG(t *testing.T, path string, w, h int, c color.NRGBA) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeSidecar(t *testing.T, dir, key string, f *texture.TextureFormat) {
	t.Helper()
	data, err := json.Marshal(f)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, key+scan.SidecarSuffix), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func readDDS(t *testing.T, path string) (*dds.Info, []byte) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	info, err := dds.Read(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return info, data[info.DataOffset:]
}

func fill(n int, v byte) []byte {
	return bytes.Repeat([]byte{v}, n)
}

func rgbaFormat(w, h int, mips uint8) *texture.TextureFormat {
	f := &texture.TextureFormat{
		PixelFormat: texture.DXGI_FORMAT_R8G8B8A8_UNORM,
		Standard:    texture.Dimensions{Width: w, Height: h, Mipmaps: mips},
		ArraySize:   1,
	}
	f.Recompute()
	return f
}

func convertOne(t *testing.T, c *Converter, path string) Outcome {
	t.Helper()
	outcomes, err := c.Run(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("got %d outcomes, want 1", len(outcomes))
	}
	return outcomes[0]
}

func TestTextureToImage(t *testing.T) {
	t.Run("BC1ToDDS", func(t *testing.T) {
		dir, out := t.TempDir(), t.TempDir()
		white := []byte{0xff, 0xff, 0x00, 0x00, 0, 0, 0, 0}
		block := header.FormatBlock{
			Width: 8, Height: 8, ArraySize: 1, Mipmaps: 1,
			PixelFormat: uint32(texture.DXGI_FORMAT_BC1_UNORM),
		}
		writeContainer(t, filepath.Join(dir, "hero.tex"), block, bytes.Repeat(white, 4))

		o := convertOne(t, newConverter(t, out), filepath.Join(dir, "hero.tex"))
		if o.Err != nil {
			t.Fatalf("convert: %v", o.Err)
		}
		want := filepath.Join(out, "hero.dds")
		if len(o.Outputs) != 1 || o.Outputs[0].Path != want {
			t.Fatalf("outputs: got %+v", o.Outputs)
		}

		info, payload := readDDS(t, want)
		if info.Format != texture.DXGI_FORMAT_R8G8B8A8_UNORM || info.Width != 8 || info.Height != 8 {
			t.Errorf("dds: got %+v", info)
		}
		if !bytes.Equal(payload, fill(256, 0xff)) {
			t.Errorf("payload: got %d bytes, first %v", len(payload), payload[:min(len(payload), 8)])
		}
	})

	t.Run("SizeMismatchIsFatal", func(t *testing.T) {
		dir, out := t.TempDir(), t.TempDir()
		block := header.FormatBlock{
			Width: 16, Height: 16, ArraySize: 1, Mipmaps: 1,
			PixelFormat: uint32(texture.DXGI_FORMAT_R8G8B8A8_UNORM),
		}
		path := filepath.Join(dir, "short.tex")
		raw, _ := header.New(block, 1024).MarshalBinary()
		if err := os.WriteFile(path, append(raw, make([]byte, 1000)...), 0o644); err != nil {
			t.Fatal(err)
		}

		o := convertOne(t, newConverter(t, out), path)
		if !errors.Is(o.Err, texture.ErrSizeMismatch) {
			t.Fatalf("expected ErrSizeMismatch, got %v", o.Err)
		}
		if len(o.Outputs) != 0 {
			t.Errorf("unexpected outputs %+v", o.Outputs)
		}
		if _, err := os.Stat(filepath.Join(out, "short.dds")); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("output written despite mismatch: %v", err)
		}
	})

	t.Run("ArraySplitPerSlice", func(t *testing.T) {
		dir, out := t.TempDir(), t.TempDir()
		block := header.FormatBlock{
			Width: 4, Height: 4, ArraySize: 2, Mipmaps: 1,
			PixelFormat: uint32(texture.DXGI_FORMAT_R8G8B8A8_UNORM),
		}
		writeContainer(t, filepath.Join(dir, "pair.tex"), block, append(fill(64, 1), fill(64, 2)...))

		o := convertOne(t, newConverter(t, out), filepath.Join(dir, "pair.tex"))
		if o.Err != nil {
			t.Fatalf("convert: %v", o.Err)
		}
		if len(o.Outputs) != 2 {
			t.Fatalf("outputs: got %+v", o.Outputs)
		}
		for i, v := range []byte{1, 2} {
			path := filepath.Join(out, "pair#"+string(rune('0'+i))+".dds")
			if o.Outputs[i].Path != path {
				t.Errorf("output %d: got %s, want %s", i, o.Outputs[i].Path, path)
			}
			info, payload := readDDS(t, path)
			if info.ArraySize != 1 {
				t.Errorf("slice %d: array size %d", i, info.ArraySize)
			}
			if !bytes.Equal(payload, fill(64, v)) {
				t.Errorf("slice %d: wrong payload", i)
			}
		}
	})

	t.Run("PNGOutput", func(t *testing.T) {
		dir, out := t.TempDir(), t.TempDir()
		block := header.FormatBlock{
			Width: 4, Height: 4, ArraySize: 1, Mipmaps: 1,
			PixelFormat: uint32(texture.DXGI_FORMAT_R8_UNORM),
		}
		writeContainer(t, filepath.Join(dir, "mask.tex"), block, fill(16, 77))

		reg := registry.New()
		tc, _ := codec.NewTranscoder(codec.NativeCodec, codec.NewSoftware(), nil)
		c := New(scan.NewResolver(reg, scan.WithOutputDir(out), scan.WithImageExt("png")), tc)

		o := convertOne(t, c, filepath.Join(dir, "mask.tex"))
		if o.Err != nil {
			t.Fatalf("convert: %v", o.Err)
		}
		f, err := os.Open(filepath.Join(out, "mask.png"))
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()
		img, err := png.Decode(f)
		if err != nil {
			t.Fatal(err)
		}
		if g, ok := img.(*image.Gray); !ok || g.GrayAt(3, 3).Y != 77 {
			t.Errorf("got %T %v", img, img.At(3, 3))
		}
	})

	t.Run("ForcedFormat", func(t *testing.T) {
		dir, out := t.TempDir(), t.TempDir()
		path := filepath.Join(dir, "blob.bin")
		if err := os.WriteFile(path, fill(64, 9), 0o644); err != nil {
			t.Fatal(err)
		}

		o := convertOne(t, newConverter(t, out), path)
		if !errors.Is(o.Err, ErrUnresolved) {
			t.Fatalf("expected ErrUnresolved, got %v", o.Err)
		}

		o = convertOne(t, newConverter(t, out, WithFormat(rgbaFormat(4, 4, 1))), path)
		if o.Err != nil {
			t.Fatalf("convert: %v", o.Err)
		}
		if _, payload := readDDS(t, filepath.Join(out, "blob.dds")); !bytes.Equal(payload, fill(64, 9)) {
			t.Error("payload not carried through")
		}
	})
}

func TestImageToTexture(t *testing.T) {
	t.Run("ResizeAndMips", func(t *testing.T) {
		dir, out := t.TempDir(), t.TempDir()
		block := header.FormatBlock{
			Width: 16, Height: 16, ArraySize: 1, Mipmaps: 2,
			PixelFormat: uint32(texture.DXGI_FORMAT_R8G8B8A8_UNORM),
		}
		f := writeContainer(t, filepath.Join(dir, "hero.tex"), block, make([]byte, 1280))
		writePNG(t, filepath.Join(dir, "hero.png"), 8, 8, color.NRGBA{R: 255, A: 255})

		o := convertOne(t, newConverter(t, out), filepath.Join(dir, "hero.png"))
		if o.Err != nil {
			t.Fatalf("convert: %v", o.Err)
		}
		path := filepath.Join(out, "hero.tex")
		if len(o.Outputs) != 1 || o.Outputs[0].Path != path {
			t.Fatalf("outputs: got %+v", o.Outputs)
		}

		file, err := os.Open(path)
		if err != nil {
			t.Fatal(err)
		}
		defer file.Close()
		h, err := header.Read(file, nil)
		if err != nil || h == nil {
			t.Fatalf("header: %v, %v", h, err)
		}
		if h.File.DataLength != 1280 || h.Format().ID() != f.ID() {
			t.Errorf("header: length %d, format %s", h.File.DataLength, h.Format())
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		payload := data[header.Size:]
		if len(payload) != 1280 {
			t.Fatalf("payload: %d bytes", len(payload))
		}
		for _, off := range []int{0, 1020, 1024, 1276} {
			if p := payload[off : off+4]; p[0] < 250 || p[1] > 5 || p[3] < 250 {
				t.Errorf("pixel at %d: got %v, want red", off, p)
			}
		}
	})

	t.Run("DDSPassThrough", func(t *testing.T) {
		dir, out := t.TempDir(), t.TempDir()
		f := rgbaFormat(4, 4, 1)
		writeSidecar(t, dir, "tile", f)

		ddsFile, err := os.Create(filepath.Join(dir, "tile.dds"))
		if err != nil {
			t.Fatal(err)
		}
		if err := dds.Write(ddsFile, f, false, fill(64, 42)); err != nil {
			t.Fatal(err)
		}
		ddsFile.Close()

		o := convertOne(t, newConverter(t, out), filepath.Join(dir, "tile.dds"))
		if o.Err != nil {
			t.Fatalf("convert: %v", o.Err)
		}
		// sidecar formats carry no container header
		data, err := os.ReadFile(filepath.Join(out, "tile.tex"))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(data, fill(64, 42)) {
			t.Errorf("got %d bytes", len(data))
		}
	})

	t.Run("BlockCompressionUnsupported", func(t *testing.T) {
		dir, out := t.TempDir(), t.TempDir()
		f := &texture.TextureFormat{
			PixelFormat: texture.DXGI_FORMAT_BC7_UNORM,
			Standard:    texture.Dimensions{Width: 8, Height: 8, Mipmaps: 1},
			ArraySize:   1,
		}
		f.Recompute()
		writeSidecar(t, dir, "rock", f)
		writePNG(t, filepath.Join(dir, "rock.png"), 8, 8, color.NRGBA{G: 255, A: 255})

		o := convertOne(t, newConverter(t, out), filepath.Join(dir, "rock.png"))
		if !errors.Is(o.Err, codec.ErrUnsupported) {
			t.Fatalf("expected ErrUnsupported, got %v", o.Err)
		}
		if _, err := os.Stat(filepath.Join(out, "rock.tex")); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("output written: %v", err)
		}
	})

	t.Run("MissingHighResTier", func(t *testing.T) {
		dir, out := t.TempDir(), t.TempDir()
		writeSidecar(t, dir, "hero", rgbaFormat(4, 4, 1))
		writePNG(t, filepath.Join(dir, "hero_hires.png"), 4, 4, color.NRGBA{A: 255})

		o := convertOne(t, newConverter(t, out), filepath.Join(dir, "hero_hires.png"))
		if o.Err == nil {
			t.Fatal("expected error for missing high-res tier")
		}
	})

	t.Run("Unresolved", func(t *testing.T) {
		dir := t.TempDir()
		writePNG(t, filepath.Join(dir, "lone.png"), 4, 4, color.NRGBA{A: 255})

		o := convertOne(t, newConverter(t, t.TempDir()), filepath.Join(dir, "lone.png"))
		if !errors.Is(o.Err, ErrUnresolved) {
			t.Errorf("expected ErrUnresolved, got %v", o.Err)
		}
	})
}

func TestRunCancelled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.tex")
	if err := os.WriteFile(path, fill(64, 0), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes, err := newConverter(t, t.TempDir()).Run(ctx, []string{path})
	if !errors.Is(err, context.Canceled) || len(outcomes) != 0 {
		t.Errorf("got %d outcomes, %v", len(outcomes), err)
	}
}
