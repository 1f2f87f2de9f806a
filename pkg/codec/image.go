package codec

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"

	"github.com/goopsie/texresolve/pkg/texture"
)

// ImagePixels converts img to one level of pf. Only 8-bit RGBA, BGRA and
// R8 levels can be produced.
func ImagePixels(img image.Image, pf texture.PixelFormat) ([]byte, error) {
	b := img.Bounds()
	buf := make([]byte, b.Dx()*b.Dy()*pf.BytesPerPixel())
	dst, err := wrapImage(pf, buf, b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	if isBGRA(pf) {
		swapRB(buf)
	}
	return buf, nil
}

// EncodeImage writes the first width x height level in pixels as an image
// file. The encoding is chosen by ext: .png, .bmp, .tif/.tiff or .jpg/.jpeg.
func EncodeImage(w io.Writer, ext string, pf texture.PixelFormat, pixels []byte, width, height int) error {
	n := width * height * pf.BytesPerPixel()
	if len(pixels) < n {
		return fmt.Errorf("encode image: %w", texture.CheckSize(n, len(pixels)))
	}
	level := pixels[:n]
	if isBGRA(pf) {
		level = append([]byte(nil), level...)
		swapRB(level)
	}
	img, err := wrapImage(pf, level, width, height)
	if err != nil {
		return err
	}

	switch strings.ToLower(ext) {
	case ".png":
		return png.Encode(w, img)
	case ".bmp":
		return bmp.Encode(w, img)
	case ".tif", ".tiff":
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	case ".jpg", ".jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 95})
	}
	return fmt.Errorf("encode %s image: %w", ext, ErrUnsupported)
}

func isBGRA(pf texture.PixelFormat) bool {
	return pf == texture.DXGI_FORMAT_B8G8R8A8_UNORM || pf == texture.DXGI_FORMAT_B8G8R8A8_UNORM_SRGB
}

func swapRB(pix []byte) {
	for i := 0; i+3 < len(pix); i += 4 {
		pix[i], pix[i+2] = pix[i+2], pix[i]
	}
}

// Slice copies one array slice out of a payload shaped like req. The
// result is laid out as the same texture with an array size of one.
func Slice(req Request, data []byte, index int) ([]byte, error) {
	if err := texture.CheckSize(req.Size(), len(data)); err != nil {
		return nil, err
	}
	slices := max(req.ArraySize, 1)
	if index < 0 || index >= slices {
		return nil, fmt.Errorf("slice %d out of range, array size %d", index, slices)
	}

	one := req
	one.ArraySize = 1
	out := make([]byte, 0, one.Size())
	for i, sp := range layout(req, req.Format) {
		if i%slices == index {
			out = append(out, data[sp.offset:sp.offset+sp.size]...)
		}
	}
	if err := texture.CheckSize(one.Size(), len(out)); err != nil {
		return nil, fmt.Errorf("slice %d: %w", index, err)
	}
	return out, nil
}
