// Package convert writes the conversions a scan resolves: texture
// containers become images, and images become texture containers.
//
// Every payload read or produced is checked against texture.ExpectedSize
// for the tier it belongs to. A mismatch fails the group; nothing is
// written for the member that failed.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/goopsie/texresolve/pkg/codec"
	"github.com/goopsie/texresolve/pkg/dds"
	"github.com/goopsie/texresolve/pkg/header"
	"github.com/goopsie/texresolve/pkg/scan"
	"github.com/goopsie/texresolve/pkg/texture"
)

// ErrUnresolved is returned for groups whose format could not be resolved.
var ErrUnresolved = errors.New("format not resolved")

// Converter converts groups using the formats a resolver finds for them.
type Converter struct {
	resolver   *scan.Resolver
	transcoder *codec.Transcoder
	logger     hclog.Logger
	format     *texture.TextureFormat
}

// Option configures a Converter.
type Option func(*Converter)

// WithLogger sets the logger.
func WithLogger(logger hclog.Logger) Option {
	return func(c *Converter) {
		c.logger = logger
	}
}

// WithFormat converts every group as f instead of its resolved format.
func WithFormat(f *texture.TextureFormat) Option {
	return func(c *Converter) {
		c.format = f
	}
}

// New returns a converter. The transcoder must use a backend that can
// transcode.
func New(resolver *scan.Resolver, tc *codec.Transcoder, opts ...Option) *Converter {
	c := &Converter{
		resolver:   resolver,
		transcoder: tc,
		logger:     hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Output is one file written by a conversion.
type Output struct {
	Source  string
	Path    string
	Format  *texture.TextureFormat
	HighRes bool
}

// Outcome is the conversion of one group.
type Outcome struct {
	Result  scan.Result
	Outputs []Output
	Err     error
}

// Run groups paths and converts each group in order. A failed group does
// not stop the batch; cancellation is checked between groups.
func (c *Converter) Run(ctx context.Context, paths []string) ([]Outcome, error) {
	var outcomes []Outcome
	for _, g := range scan.GroupFiles(paths) {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		res, outputs, err := c.Group(g)
		if err != nil {
			c.logger.Error("conversion failed", "group", g.ID(), "error", err)
		}
		outcomes = append(outcomes, Outcome{Result: res, Outputs: outputs, Err: err})
	}
	return outcomes, nil
}

// Group resolves g and writes its conversion. The resolution is returned
// even when the conversion fails.
func (c *Converter) Group(g *scan.Group) (scan.Result, []Output, error) {
	res := c.resolver.ResolveGroup(g)
	if res.Err != nil {
		return res, nil, res.Err
	}

	f := res.Default()
	if c.format != nil {
		f = c.format
	}
	if f == nil {
		return res, nil, fmt.Errorf("%s: %w", g.ID(), ErrUnresolved)
	}
	if res.Kind == scan.ResultCandidates && c.format == nil {
		c.logger.Warn("converting with a guessed format", "group", g.ID(), "format", f.ID(), "candidates", len(res.Candidates))
	}

	paths := c.resolver.OutputPaths(g, res.Side, f)
	var (
		outputs []Output
		err     error
	)
	switch res.Side {
	case scan.ImageSide:
		outputs, err = c.toTexture(g, f, paths)
	default:
		outputs, err = c.toImages(g, res.Files, f, paths)
	}
	return res, outputs, err
}

// toImages decompresses every container of g. Members that pack a whole
// array are split into one image per slice.
func (c *Converter) toImages(g *scan.Group, files []scan.FileResolution, f *texture.TextureFormat, paths []string) ([]Output, error) {
	var outputs []Output
	next := 0
	for i, m := range g.Members {
		base := filepath.Base(m.Path)
		fr := files[i]

		d, ok := f.Tier(fr.HighRes)
		if !ok {
			return outputs, fmt.Errorf("%s: format %s has no high-res tier", base, f.ID())
		}
		payload, err := readPayload(m.Path, fr.Headered)
		if err != nil {
			return outputs, fmt.Errorf("%s: %w", base, err)
		}
		if err := texture.CheckSize(f.TierSize(d), len(payload)); err != nil {
			return outputs, fmt.Errorf("%s: %w", base, err)
		}

		decoded, err := c.transcoder.Decompress(f, fr.HighRes, payload)
		if err != nil {
			return outputs, fmt.Errorf("%s: %w", base, err)
		}
		img := f.Clone()
		img.PixelFormat = codec.DecodedFormat(f.PixelFormat)
		img.RawHeader = ""
		img.Recompute()

		if f.ArraySize > 1 && m.Name.Index < 0 {
			req := codec.Request{
				Format:    img.PixelFormat,
				Width:     d.Width,
				Height:    d.Height,
				ArraySize: f.ArraySize,
				Mipmaps:   max(d.Mipmaps, 1),
			}
			one := img.Clone()
			one.ArraySize = 1
			one.Recompute()
			for s := range f.ArraySize {
				slice, err := codec.Slice(req, decoded, s)
				if err != nil {
					return outputs, fmt.Errorf("%s: %w", base, err)
				}
				out, err := c.writeImage(m.Path, paths, next, one, fr.HighRes, slice)
				if err != nil {
					return outputs, err
				}
				outputs = append(outputs, out)
				next++
			}
			continue
		}

		out, err := c.writeImage(m.Path, paths, next, img, fr.HighRes, decoded)
		if err != nil {
			return outputs, err
		}
		outputs = append(outputs, out)
		next++
	}
	return outputs, nil
}

func readPayload(path string, headered bool) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read container: %w", err)
	}
	if headered {
		if len(data) < header.Size {
			return nil, fmt.Errorf("container shorter than its header: %d bytes", len(data))
		}
		data = data[header.Size:]
	}
	return data, nil
}

// writeImage writes one decoded tier as paths[i]. DDS outputs keep the
// whole mip chain; other image files hold the top level.
func (c *Converter) writeImage(source string, paths []string, i int, f *texture.TextureFormat, highRes bool, pixels []byte) (Output, error) {
	if i >= len(paths) {
		return Output{}, fmt.Errorf("%s: no output path for image %d", filepath.Base(source), i)
	}
	path := paths[i]
	d, _ := f.Tier(highRes)

	err := writeFile(path, func(w io.Writer) error {
		ext := filepath.Ext(path)
		if strings.EqualFold(ext, ".dds") {
			return dds.Write(w, f, highRes, pixels)
		}
		return codec.EncodeImage(w, ext, f.PixelFormat, pixels, d.Width, d.Height)
	})
	if err != nil {
		return Output{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	c.logger.Debug("wrote image", "source", source, "path", path, "format", f)
	return Output{Source: source, Path: path, Format: f, HighRes: highRes}, nil
}

// toTexture encodes every image of g as the tier its name selects.
func (c *Converter) toTexture(g *scan.Group, f *texture.TextureFormat, paths []string) ([]Output, error) {
	var outputs []Output
	for _, m := range g.Members {
		base := filepath.Base(m.Path)
		if m.Name.Index >= 0 {
			return outputs, fmt.Errorf("%s: assembling array slices: %w", base, codec.ErrUnsupported)
		}
		d, ok := f.Tier(m.Name.HighRes)
		if !ok {
			return outputs, fmt.Errorf("%s: format %s has no high-res tier", base, f.ID())
		}
		path := paths[0]
		if m.Name.HighRes {
			path = paths[1]
		}

		src, pixels, err := loadImage(m.Path, codec.DecodedFormat(f.PixelFormat))
		if err != nil {
			return outputs, fmt.Errorf("%s: %w", base, err)
		}
		payload, err := c.encodeTier(f, m.Name.HighRes, src, pixels)
		if err != nil {
			return outputs, fmt.Errorf("%s: %w", base, err)
		}
		if err := texture.CheckSize(f.TierSize(d), len(payload)); err != nil {
			return outputs, fmt.Errorf("%s: %w", base, err)
		}

		if err := c.writeContainer(path, f, payload); err != nil {
			return outputs, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		c.logger.Debug("wrote container", "source", m.Path, "path", path, "format", f.ID())
		outputs = append(outputs, Output{Source: m.Path, Path: path, Format: f, HighRes: m.Name.HighRes})
	}
	return outputs, nil
}

// loadImage reads an image file. DDS files keep their payload as stored;
// every other image is decoded to one level of pf.
func loadImage(path string, pf texture.PixelFormat) (codec.ImageInfo, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return codec.ImageInfo{}, nil, fmt.Errorf("read image: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".dds") {
		info, err := dds.Read(bytes.NewReader(data))
		if err != nil {
			return codec.ImageInfo{}, nil, err
		}
		src := codec.ImageInfo{
			Width:     info.Width,
			Height:    info.Height,
			MipCount:  max(info.MipLevels, 1),
			ArraySize: max(info.ArraySize, 1),
			Format:    info.Format,
		}
		payload := data[info.DataOffset:]
		req := codec.Request{Format: src.Format, Width: src.Width, Height: src.Height, ArraySize: src.ArraySize, Mipmaps: src.MipCount}
		if err := texture.CheckSize(req.Size(), len(payload)); err != nil {
			return codec.ImageInfo{}, nil, fmt.Errorf("dds payload: %w", err)
		}
		return src, payload, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return codec.ImageInfo{}, nil, fmt.Errorf("decode image: %w", err)
	}
	pixels, err := codec.ImagePixels(img, pf)
	if err != nil {
		return codec.ImageInfo{}, nil, err
	}
	b := img.Bounds()
	return codec.ImageInfo{Width: b.Dx(), Height: b.Dy(), MipCount: 1, ArraySize: 1, Format: pf}, pixels, nil
}

// encodeTier turns a loaded image into the payload of one tier of f:
// decompress when needed, resize the top level, rebuild the mip chain and
// compress.
func (c *Converter) encodeTier(f *texture.TextureFormat, highRes bool, src codec.ImageInfo, data []byte) ([]byte, error) {
	d, _ := f.Tier(highRes)
	mips := max(d.Mipmaps, 1)
	if src.Format == f.PixelFormat && src.Dimensions().Equal(d) && src.MipCount == mips && src.ArraySize == f.ArraySize {
		return data, nil
	}
	if src.ArraySize != f.ArraySize {
		return nil, fmt.Errorf("image has %d slices, format %s has %d", src.ArraySize, f.ID(), f.ArraySize)
	}

	decoded := codec.DecodedFormat(f.PixelFormat)
	switch src.Format {
	case decoded:
	case f.PixelFormat:
		stored := &texture.TextureFormat{PixelFormat: src.Format, Standard: src.Dimensions(), ArraySize: src.ArraySize}
		stored.Recompute()
		var err error
		if data, err = c.transcoder.Decompress(stored, false, data); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("convert %s image to %s: %w", src.Format, f.PixelFormat, codec.ErrUnsupported)
	}

	top := data[:texture.BaseSize(decoded, src.Width, src.Height, src.ArraySize)]
	if !src.Dimensions().Equal(d) {
		c.logger.Debug("resizing image", "from", src.Dimensions(), "to", d)
		src.Format = decoded
		var err error
		if top, err = c.transcoder.Resize(src, top, f, highRes); err != nil {
			return nil, err
		}
	}
	if mips > 1 {
		var err error
		if top, err = c.transcoder.GenerateMipmaps(f, highRes, top); err != nil {
			return nil, err
		}
	}
	return c.transcoder.Compress(f, highRes, top)
}

// writeContainer writes payload behind f's cached header with its data
// length patched. Formats without a cached header are written headerless.
func (c *Converter) writeContainer(path string, f *texture.TextureFormat, payload []byte) error {
	var prefix []byte
	if f.RawHeader != "" {
		h, err := header.Encode(f, len(payload))
		if err != nil {
			return err
		}
		prefix = h[:]
	} else {
		c.logger.Warn("format has no cached container header, writing payload only", "path", path, "format", f.ID())
	}

	return writeFile(path, func(w io.Writer) error {
		if _, err := w.Write(prefix); err != nil {
			return err
		}
		_, err := w.Write(payload)
		return err
	})
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close output: %w", cerr)
		}
	}()
	return write(file)
}
