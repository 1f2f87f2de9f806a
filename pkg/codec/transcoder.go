package codec

import (
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"

	"github.com/goopsie/texresolve/pkg/texture"
)

// Transcoder runs native operations for one tier of a texture format and
// rejects every buffer whose length disagrees with ExpectedSize.
type Transcoder struct {
	backend Backend
	native  Native
	logger  hclog.Logger
}

// NewTranscoder binds a backend. NativeCodec requires a Native library.
func NewTranscoder(backend Backend, native Native, logger hclog.Logger) (*Transcoder, error) {
	if backend == NativeCodec && native == nil {
		return nil, errors.New("native codec backend selected without a native library")
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Transcoder{backend: backend, native: native, logger: logger}, nil
}

// Backend returns the selected backend.
func (t *Transcoder) Backend() Backend {
	return t.backend
}

func tierRequest(f *texture.TextureFormat, highRes bool, format texture.PixelFormat) (Request, error) {
	d, ok := f.Tier(highRes)
	if !ok {
		return Request{}, errors.New("format has no high-res tier")
	}
	return Request{
		Format:    format,
		Width:     d.Width,
		Height:    d.Height,
		ArraySize: f.ArraySize,
		Mipmaps:   max(d.Mipmaps, 1),
	}, nil
}

func (t *Transcoder) requireNative(op string) error {
	if t.backend != NativeCodec {
		return fmt.Errorf("%s: %w %s", op, ErrUnsupported, t.backend)
	}
	return nil
}

func (t *Transcoder) checkOutput(op string, req Request, out []byte) error {
	if err := texture.CheckSize(req.Size(), len(out)); err != nil {
		t.logger.Error("codec output has wrong size", "op", op, "format", req.Format,
			"width", req.Width, "height", req.Height, "expected", req.Size(), "actual", len(out))
		return fmt.Errorf("%s output: %w", op, err)
	}
	return nil
}

// Decompress expands one tier's payload to DecodedFormat.
func (t *Transcoder) Decompress(f *texture.TextureFormat, highRes bool, data []byte) ([]byte, error) {
	if err := t.requireNative("decompress"); err != nil {
		return nil, err
	}
	in, err := tierRequest(f, highRes, f.PixelFormat)
	if err != nil {
		return nil, err
	}
	if err := texture.CheckSize(in.Size(), len(data)); err != nil {
		return nil, fmt.Errorf("decompress input: %w", err)
	}

	out, err := t.native.Decompress(in, data)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}

	want := in
	want.Format = DecodedFormat(f.PixelFormat)
	if err := t.checkOutput("decompress", want, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Compress packs decoded pixels into one tier's payload.
func (t *Transcoder) Compress(f *texture.TextureFormat, highRes bool, pixels []byte) ([]byte, error) {
	if err := t.requireNative("compress"); err != nil {
		return nil, err
	}
	out, err := tierRequest(f, highRes, f.PixelFormat)
	if err != nil {
		return nil, err
	}
	in := out
	in.Format = DecodedFormat(f.PixelFormat)
	if err := texture.CheckSize(in.Size(), len(pixels)); err != nil {
		return nil, fmt.Errorf("compress input: %w", err)
	}

	data, err := t.native.Compress(out, pixels)
	if err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := t.checkOutput("compress", out, data); err != nil {
		return nil, err
	}
	return data, nil
}

// GenerateMipmaps extends a single decoded level to the tier's mip chain.
func (t *Transcoder) GenerateMipmaps(f *texture.TextureFormat, highRes bool, pixels []byte) ([]byte, error) {
	if err := t.requireNative("generate mipmaps"); err != nil {
		return nil, err
	}
	out, err := tierRequest(f, highRes, DecodedFormat(f.PixelFormat))
	if err != nil {
		return nil, err
	}
	in := out
	in.Mipmaps = 1
	if err := texture.CheckSize(in.Size(), len(pixels)); err != nil {
		return nil, fmt.Errorf("generate mipmaps input: %w", err)
	}

	data, err := t.native.GenerateMipmaps(out, pixels)
	if err != nil {
		return nil, fmt.Errorf("generate mipmaps: %w", err)
	}
	if err := t.checkOutput("generate mipmaps", out, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Resize scales a single decoded level of src to the top level of one tier
// of f.
func (t *Transcoder) Resize(src ImageInfo, pixels []byte, f *texture.TextureFormat, highRes bool) ([]byte, error) {
	if err := t.requireNative("resize"); err != nil {
		return nil, err
	}
	in := Request{
		Format:    DecodedFormat(f.PixelFormat),
		Width:     src.Width,
		Height:    src.Height,
		ArraySize: max(src.ArraySize, 1),
		Mipmaps:   1,
	}
	if err := texture.CheckSize(in.Size(), len(pixels)); err != nil {
		return nil, fmt.Errorf("resize input: %w", err)
	}
	out, err := tierRequest(f, highRes, in.Format)
	if err != nil {
		return nil, err
	}
	out.Mipmaps = 1
	out.ArraySize = in.ArraySize

	data, err := t.native.Resize(in, pixels, out.Width, out.Height)
	if err != nil {
		return nil, fmt.Errorf("resize: %w", err)
	}
	if err := t.checkOutput("resize", out, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Metadata reports the dimensions and format of an image file using the
// selected backend.
func (t *Transcoder) Metadata(path string) (ImageInfo, error) {
	if t.backend == GenericDecoder {
		return Metadata(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("read image: %w", err)
	}
	h, err := Open(t.native, data)
	if err != nil {
		return ImageInfo{}, err
	}
	defer h.Close()
	return h.Metadata()
}
