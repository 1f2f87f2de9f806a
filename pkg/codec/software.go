package codec

import (
	"bytes"
	"fmt"
	"image"
	"sync"

	"golang.org/x/image/draw"

	"github.com/goopsie/texresolve/pkg/dds"
	"github.com/goopsie/texresolve/pkg/texture"
)

// Software is a Native codec written in Go. It loads DDS files and the
// image formats Metadata reads, expands BC1 to BC5, and scales 8-bit
// RGBA, BGRA and grayscale levels. Uncompressed payloads pass through
// Compress and Decompress unchanged; block compression is unsupported.
type Software struct {
	mu     sync.Mutex
	next   NativeHandle
	loaded map[NativeHandle]ImageInfo
}

var _ Native = (*Software)(nil)

// NewSoftware returns an empty software codec.
func NewSoftware() *Software {
	return &Software{loaded: make(map[NativeHandle]ImageInfo)}
}

func (s *Software) Load(data []byte) (NativeHandle, error) {
	var (
		info ImageInfo
		err  error
	)
	if bytes.HasPrefix(data, []byte("DDS ")) {
		var di *dds.Info
		di, err = dds.Read(bytes.NewReader(data))
		if di != nil {
			info = infoFromDDS(di)
		}
	} else {
		info, err = decodeConfig(bytes.NewReader(data))
	}
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.loaded[s.next] = info
	return s.next, nil
}

func (s *Software) Metadata(h NativeHandle) (ImageInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.loaded[h]
	if !ok {
		return ImageInfo{}, fmt.Errorf("unknown handle %d", h)
	}
	return info, nil
}

func (s *Software) Release(h NativeHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.loaded, h)
}

// span is one array slice of one mip level within a payload.
type span struct {
	width, height int
	offset, size  int
}

// layout lists the slices of a payload shaped like req and stored as pf,
// in payload order: every slice of the base level, then every slice of
// the next level.
func layout(req Request, pf texture.PixelFormat) []span {
	slices := max(req.ArraySize, 1)
	base := texture.BaseSize(pf, req.Width, req.Height, slices)

	var spans []span
	offset := 0
	for level := range max(int(req.Mipmaps), 1) {
		size := (base >> (2 * level)) / slices
		for range slices {
			spans = append(spans, span{
				width:  max(req.Width>>level, 1),
				height: max(req.Height>>level, 1),
				offset: offset,
				size:   size,
			})
			offset += size
		}
	}
	return spans
}

func (s *Software) Decompress(req Request, data []byte) ([]byte, error) {
	if err := texture.CheckSize(req.Size(), len(data)); err != nil {
		return nil, err
	}
	out := req
	out.Format = DecodedFormat(req.Format)
	if out.Format == req.Format {
		return bytes.Clone(data), nil
	}

	dst := make([]byte, out.Size())
	outSpans := layout(out, out.Format)
	for i, sp := range layout(req, req.Format) {
		pixels, err := decodeBlocks(req.Format, data[sp.offset:sp.offset+sp.size], sp.width, sp.height)
		if err != nil {
			return nil, err
		}
		o := outSpans[i]
		if err := texture.CheckSize(o.size, len(pixels)); err != nil {
			return nil, fmt.Errorf("level %dx%d: %w", sp.width, sp.height, err)
		}
		copy(dst[o.offset:], pixels)
	}
	return dst, nil
}

func (s *Software) Compress(req Request, pixels []byte) ([]byte, error) {
	if DecodedFormat(req.Format) != req.Format {
		return nil, fmt.Errorf("compress %s: %w", req.Format, ErrUnsupported)
	}
	if err := texture.CheckSize(req.Size(), len(pixels)); err != nil {
		return nil, err
	}
	return bytes.Clone(pixels), nil
}

// wrapImage views buf as a width x height image of pf without copying.
func wrapImage(pf texture.PixelFormat, buf []byte, width, height int) (draw.Image, error) {
	if err := texture.CheckSize(width*height*pf.BytesPerPixel(), len(buf)); err != nil {
		return nil, err
	}
	rect := image.Rect(0, 0, width, height)
	switch pf {
	case texture.DXGI_FORMAT_R8G8B8A8_UNORM, texture.DXGI_FORMAT_R8G8B8A8_UNORM_SRGB,
		texture.DXGI_FORMAT_B8G8R8A8_UNORM, texture.DXGI_FORMAT_B8G8R8A8_UNORM_SRGB:
		return &image.NRGBA{Pix: buf, Stride: 4 * width, Rect: rect}, nil
	case texture.DXGI_FORMAT_R8_UNORM:
		return &image.Gray{Pix: buf, Stride: width, Rect: rect}, nil
	}
	return nil, fmt.Errorf("scale %s: %w", pf, ErrUnsupported)
}

func (s *Software) GenerateMipmaps(req Request, pixels []byte) ([]byte, error) {
	top := req
	top.Mipmaps = 1
	if err := texture.CheckSize(top.Size(), len(pixels)); err != nil {
		return nil, err
	}

	out := make([]byte, req.Size())
	copy(out, pixels)

	slices := max(req.ArraySize, 1)
	spans := layout(req, req.Format)
	for i := slices; i < len(spans); i++ {
		prev, cur := spans[i-slices], spans[i]
		src, err := wrapImage(req.Format, out[prev.offset:prev.offset+prev.size], prev.width, prev.height)
		if err != nil {
			return nil, err
		}
		dst, err := wrapImage(req.Format, out[cur.offset:cur.offset+cur.size], cur.width, cur.height)
		if err != nil {
			return nil, err
		}
		draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	}
	return out, nil
}

func (s *Software) Resize(req Request, pixels []byte, width, height int) ([]byte, error) {
	req.Mipmaps = 1
	if err := texture.CheckSize(req.Size(), len(pixels)); err != nil {
		return nil, err
	}

	slices := max(req.ArraySize, 1)
	inSize := len(pixels) / slices
	outSize := width * height * req.Format.BytesPerPixel()
	out := make([]byte, outSize*slices)

	for i := range slices {
		src, err := wrapImage(req.Format, pixels[i*inSize:(i+1)*inSize], req.Width, req.Height)
		if err != nil {
			return nil, err
		}
		dst, err := wrapImage(req.Format, out[i*outSize:(i+1)*outSize], width, height)
		if err != nil {
			return nil, err
		}
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	}
	return out, nil
}
