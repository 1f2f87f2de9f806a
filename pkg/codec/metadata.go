package codec

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/goopsie/texresolve/pkg/dds"
	"github.com/goopsie/texresolve/pkg/texture"
)

// Metadata reads an image file's dimensions and format without the native
// library. DDS files are read from their header; PNG, JPEG, BMP, TIFF and
// WebP files from their image config, and always report one mip level.
func Metadata(path string) (ImageInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".dds") {
		info, err := dds.Read(f)
		if err != nil {
			return ImageInfo{}, fmt.Errorf("read %s: %w", filepath.Base(path), err)
		}
		return infoFromDDS(info), nil
	}

	info, err := decodeConfig(f)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return info, nil
}

func infoFromDDS(info *dds.Info) ImageInfo {
	return ImageInfo{
		Width:     info.Width,
		Height:    info.Height,
		MipCount:  info.MipLevels,
		ArraySize: info.ArraySize,
		Format:    info.Format,
	}
}

func decodeConfig(r io.Reader) (ImageInfo, error) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return ImageInfo{}, ErrUnsupported
		}
		return ImageInfo{}, fmt.Errorf("decode: %w", err)
	}
	return ImageInfo{
		Width:     cfg.Width,
		Height:    cfg.Height,
		MipCount:  1,
		ArraySize: 1,
		Format:    formatFromModel(cfg.ColorModel),
	}, nil
}

func formatFromModel(m color.Model) texture.PixelFormat {
	switch m {
	case color.GrayModel:
		return texture.DXGI_FORMAT_R8_UNORM
	case color.RGBA64Model, color.NRGBA64Model:
		return texture.DXGI_FORMAT_R16G16B16A16_FLOAT
	default:
		return texture.DXGI_FORMAT_R8G8B8A8_UNORM
	}
}
