package codec

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"golang.org/x/image/bmp"

	"github.com/goopsie/texresolve/pkg/dds"
	"github.com/goopsie/texresolve/pkg/texture"
)

// fakeNative sizes every output from its request and can be told to return
// one byte short.
type fakeNative struct {
	mu       sync.Mutex
	next     NativeHandle
	live     map[NativeHandle]bool
	released int
	info     ImageInfo
	truncate bool
}

func (n *fakeNative) Load(data []byte) (NativeHandle, error) {
	if len(data) == 0 {
		return 0, errors.New("empty image")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.live == nil {
		n.live = make(map[NativeHandle]bool)
	}
	n.next++
	n.live[n.next] = true
	return n.next, nil
}

func (n *fakeNative) Metadata(h NativeHandle) (ImageInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.live[h] {
		return ImageInfo{}, errors.New("stale handle")
	}
	return n.info, nil
}

func (n *fakeNative) Release(h NativeHandle) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.live, h)
	n.released++
}

func (n *fakeNative) sized(size int) []byte {
	if n.truncate {
		size--
	}
	return make([]byte, size)
}

func (n *fakeNative) Compress(req Request, pixels []byte) ([]byte, error) {
	return n.sized(req.Size()), nil
}

func (n *fakeNative) Decompress(req Request, data []byte) ([]byte, error) {
	out := req
	out.Format = DecodedFormat(req.Format)
	return n.sized(out.Size()), nil
}

func (n *fakeNative) GenerateMipmaps(req Request, pixels []byte) ([]byte, error) {
	return n.sized(req.Size()), nil
}

func (n *fakeNative) Resize(req Request, pixels []byte, width, height int) ([]byte, error) {
	out := req
	out.Width, out.Height = width, height
	return n.sized(out.Size()), nil
}

func bc7Format() *texture.TextureFormat {
	f := &texture.TextureFormat{
		PixelFormat: texture.DXGI_FORMAT_BC7_UNORM,
		Standard:    texture.Dimensions{Width: 256, Height: 256, Mipmaps: 6},
		HighRes:     &texture.Dimensions{Width: 1024, Height: 1024, Mipmaps: 2},
		ArraySize:   1,
	}
	f.Recompute()
	return f
}

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    Backend
		wantErr bool
	}{
		{"native", NativeCodec, false},
		{"", GenericDecoder, false},
		{" Generic ", GenericDecoder, false},
		{"opengl", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseBackend(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseBackend(%q): err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseBackend(%q): got %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestHandleClose(t *testing.T) {
	n := &fakeNative{info: ImageInfo{Width: 8, Height: 8, MipCount: 1, ArraySize: 1}}
	h, err := Open(n, []byte{1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if info, err := h.Metadata(); err != nil || info.Width != 8 {
		t.Fatalf("Metadata: %+v, %v", info, err)
	}

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Close()
		}()
	}
	wg.Wait()

	if n.released != 1 {
		t.Errorf("released %d times, want 1", n.released)
	}
	if _, err := h.Metadata(); !errors.Is(err, ErrClosed) {
		t.Errorf("Metadata after Close: got %v, want ErrClosed", err)
	}

	if _, err := Open(n, nil); err == nil {
		t.Error("expected load error")
	}
}

func TestDecodedFormat(t *testing.T) {
	tests := map[texture.PixelFormat]texture.PixelFormat{
		texture.DXGI_FORMAT_BC1_UNORM:      texture.DXGI_FORMAT_R8G8B8A8_UNORM,
		texture.DXGI_FORMAT_BC7_UNORM_SRGB: texture.DXGI_FORMAT_R8G8B8A8_UNORM_SRGB,
		texture.DXGI_FORMAT_BC4_UNORM:      texture.DXGI_FORMAT_R8_UNORM,
		texture.DXGI_FORMAT_BC5_SNORM:      texture.DXGI_FORMAT_R8G8_UNORM,
		texture.DXGI_FORMAT_BC6H_UF16:      texture.DXGI_FORMAT_R16G16B16A16_FLOAT,
		texture.DXGI_FORMAT_B8G8R8A8_UNORM: texture.DXGI_FORMAT_B8G8R8A8_UNORM,
	}
	for in, want := range tests {
		if got := DecodedFormat(in); got != want {
			t.Errorf("DecodedFormat(%s): got %s, want %s", in, got, want)
		}
	}
}

func TestTranscoder(t *testing.T) {
	f := bc7Format()
	rgba := func(w, h int, mips uint8) int {
		return texture.ExpectedSize(texture.DXGI_FORMAT_R8G8B8A8_UNORM, w, h, 1, mips)
	}

	t.Run("Decompress", func(t *testing.T) {
		tc, err := NewTranscoder(NativeCodec, &fakeNative{}, nil)
		if err != nil {
			t.Fatal(err)
		}
		out, err := tc.Decompress(f, false, make([]byte, f.Standard.DataSize))
		if err != nil {
			t.Fatalf("Decompress: %v", err)
		}
		if len(out) != rgba(256, 256, 6) {
			t.Errorf("output: got %d bytes", len(out))
		}

		out, err = tc.Decompress(f, true, make([]byte, f.HighRes.DataSize))
		if err != nil {
			t.Fatalf("Decompress high-res: %v", err)
		}
		if len(out) != rgba(1024, 1024, 2) {
			t.Errorf("high-res output: got %d bytes", len(out))
		}
	})

	t.Run("Compress", func(t *testing.T) {
		tc, _ := NewTranscoder(NativeCodec, &fakeNative{}, nil)
		out, err := tc.Compress(f, false, make([]byte, rgba(256, 256, 6)))
		if err != nil {
			t.Fatalf("Compress: %v", err)
		}
		if len(out) != f.Standard.DataSize {
			t.Errorf("output: got %d, want %d", len(out), f.Standard.DataSize)
		}
	})

	t.Run("GenerateMipmaps", func(t *testing.T) {
		tc, _ := NewTranscoder(NativeCodec, &fakeNative{}, nil)
		out, err := tc.GenerateMipmaps(f, false, make([]byte, rgba(256, 256, 1)))
		if err != nil {
			t.Fatalf("GenerateMipmaps: %v", err)
		}
		if len(out) != rgba(256, 256, 6) {
			t.Errorf("output: got %d bytes", len(out))
		}
	})

	t.Run("Resize", func(t *testing.T) {
		tc, _ := NewTranscoder(NativeCodec, &fakeNative{}, nil)
		src := ImageInfo{Width: 512, Height: 512, MipCount: 1, ArraySize: 1}
		out, err := tc.Resize(src, make([]byte, rgba(512, 512, 1)), f, false)
		if err != nil {
			t.Fatalf("Resize: %v", err)
		}
		if len(out) != rgba(256, 256, 1) {
			t.Errorf("output: got %d bytes", len(out))
		}
	})

	t.Run("WrongInputSize", func(t *testing.T) {
		tc, _ := NewTranscoder(NativeCodec, &fakeNative{}, nil)
		_, err := tc.Decompress(f, false, make([]byte, f.Standard.DataSize+128))
		var mismatch *texture.SizeMismatchError
		if !errors.As(err, &mismatch) {
			t.Fatalf("expected SizeMismatchError, got %v", err)
		}
		if mismatch.Expected != f.Standard.DataSize {
			t.Errorf("expected size: got %d", mismatch.Expected)
		}
	})

	t.Run("WrongOutputSize", func(t *testing.T) {
		tc, _ := NewTranscoder(NativeCodec, &fakeNative{truncate: true}, nil)
		if _, err := tc.Compress(f, false, make([]byte, rgba(256, 256, 6))); !errors.Is(err, texture.ErrSizeMismatch) {
			t.Errorf("expected ErrSizeMismatch, got %v", err)
		}
	})

	t.Run("MissingHighRes", func(t *testing.T) {
		tc, _ := NewTranscoder(NativeCodec, &fakeNative{}, nil)
		g := f.Clone()
		g.HighRes = nil
		if _, err := tc.Decompress(g, true, nil); err == nil {
			t.Error("expected error for missing high-res tier")
		}
	})

	t.Run("GenericBackend", func(t *testing.T) {
		tc, err := NewTranscoder(GenericDecoder, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := tc.Decompress(f, false, make([]byte, f.Standard.DataSize)); !errors.Is(err, ErrUnsupported) {
			t.Errorf("expected ErrUnsupported, got %v", err)
		}
	})

	t.Run("NativeRequired", func(t *testing.T) {
		if _, err := NewTranscoder(NativeCodec, nil, nil); err == nil {
			t.Error("expected error without native library")
		}
	})
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestMetadata(t *testing.T) {
	dir := t.TempDir()

	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, image.NewNRGBA(image.Rect(0, 0, 64, 32))); err != nil {
		t.Fatal(err)
	}
	var grayBuf bytes.Buffer
	gray := image.NewGray(image.Rect(0, 0, 16, 16))
	gray.Set(1, 1, color.Gray{Y: 200})
	if err := png.Encode(&grayBuf, gray); err != nil {
		t.Fatal(err)
	}
	var bmpBuf bytes.Buffer
	if err := bmp.Encode(&bmpBuf, image.NewRGBA(image.Rect(0, 0, 20, 10))); err != nil {
		t.Fatal(err)
	}
	f := bc7Format()
	var ddsBuf bytes.Buffer
	if err := dds.Write(&ddsBuf, f, false, make([]byte, f.Standard.DataSize)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		data   []byte
		width  int
		height int
		mips   uint8
		format texture.PixelFormat
	}{
		{"albedo.png", pngBuf.Bytes(), 64, 32, 1, texture.DXGI_FORMAT_R8G8B8A8_UNORM},
		{"mask.png", grayBuf.Bytes(), 16, 16, 1, texture.DXGI_FORMAT_R8_UNORM},
		{"legacy.bmp", bmpBuf.Bytes(), 20, 10, 1, texture.DXGI_FORMAT_R8G8B8A8_UNORM},
		{"hero.DDS", ddsBuf.Bytes(), 256, 256, 6, texture.DXGI_FORMAT_BC7_UNORM},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := Metadata(writeFile(t, dir, tt.name, tt.data))
			if err != nil {
				t.Fatalf("Metadata: %v", err)
			}
			if info.Width != tt.width || info.Height != tt.height || info.MipCount != tt.mips {
				t.Errorf("got %s %d mips, want %dx%d %d mips", info.Dimensions(), info.MipCount, tt.width, tt.height, tt.mips)
			}
			if info.Format != tt.format {
				t.Errorf("format: got %s, want %s", info.Format, tt.format)
			}
		})
	}

	t.Run("Unsupported", func(t *testing.T) {
		_, err := Metadata(writeFile(t, dir, "thing.tga", []byte("not an image at all")))
		if !errors.Is(err, ErrUnsupported) {
			t.Errorf("expected ErrUnsupported, got %v", err)
		}
	})
}

func TestTranscoderMetadata(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "hero.tga", []byte{0, 0, 2})

	n := &fakeNative{info: ImageInfo{Width: 512, Height: 256, MipCount: 1, ArraySize: 1, Format: texture.DXGI_FORMAT_R8G8B8A8_UNORM}}
	tc, err := NewTranscoder(NativeCodec, n, nil)
	if err != nil {
		t.Fatal(err)
	}
	info, err := tc.Metadata(path)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if info.Width != 512 || info.Height != 256 {
		t.Errorf("got %s", info.Dimensions())
	}
	if n.released != 1 || len(n.live) != 0 {
		t.Errorf("handle not released: released=%d live=%d", n.released, len(n.live))
	}
}
