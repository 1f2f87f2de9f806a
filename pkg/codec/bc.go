package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/goopsie/texresolve/pkg/texture"
)

// texel is one decoded pixel. Formats with fewer channels use a prefix.
type texel [4]uint8

// blockDecoders maps the block formats Software can expand to the decoder
// for one 4x4 block.
var blockDecoders = map[texture.PixelFormat]func(block []byte, srgb bool) [16]texel{
	texture.DXGI_FORMAT_BC1_UNORM:      decodeBC1,
	texture.DXGI_FORMAT_BC1_UNORM_SRGB: decodeBC1,
	texture.DXGI_FORMAT_BC2_UNORM:      decodeBC2,
	texture.DXGI_FORMAT_BC2_UNORM_SRGB: decodeBC2,
	texture.DXGI_FORMAT_BC3_UNORM:      decodeBC3,
	texture.DXGI_FORMAT_BC3_UNORM_SRGB: decodeBC3,
	texture.DXGI_FORMAT_BC4_UNORM:      decodeBC4,
	texture.DXGI_FORMAT_BC5_UNORM:      decodeBC5,
}

// blockBytes is the stored size of one 4x4 block.
func blockBytes(pf texture.PixelFormat) int {
	return 64 / pf.CompressionRatio()
}

// decodeBlocks expands one slice of one level into DecodedFormat(pf).
func decodeBlocks(pf texture.PixelFormat, src []byte, width, height int) ([]byte, error) {
	decode, ok := blockDecoders[pf]
	if !ok {
		return nil, fmt.Errorf("decompress %s: %w", pf, ErrUnsupported)
	}
	if width%4 != 0 || height%4 != 0 {
		return nil, fmt.Errorf("decompress %s: %w: %dx%d level is not block aligned", pf, ErrUnsupported, width, height)
	}

	size := blockBytes(pf)
	blocksX, blocksY := width/4, height/4
	if err := texture.CheckSize(blocksX*blocksY*size, len(src)); err != nil {
		return nil, err
	}

	bpp := DecodedFormat(pf).BytesPerPixel()
	dst := make([]byte, width*height*bpp)
	srgb := pf.SRGB()

	offset := 0
	for by := range blocksY {
		for bx := range blocksX {
			texels := decode(src[offset:offset+size], srgb)
			offset += size

			for i, t := range texels {
				x, y := bx*4+i%4, by*4+i/4
				copy(dst[(y*width+x)*bpp:], t[:bpp])
			}
		}
	}
	return dst, nil
}

func expand565(c uint16) [3]uint8 {
	r := (c >> 11) & 0x1f
	g := (c >> 5) & 0x3f
	b := c & 0x1f
	return [3]uint8{uint8(r<<3 | r>>2), uint8(g<<2 | g>>4), uint8(b<<3 | b>>2)}
}

// colorPalette decodes the endpoints of a color block. When punchThrough
// is set and the first endpoint is not greater than the second, the block
// uses three colors plus transparent black. sRGB endpoints are blended in
// linear space.
func colorPalette(block []byte, srgb, punchThrough bool) [4]texel {
	c0 := binary.LittleEndian.Uint16(block[0:])
	c1 := binary.LittleEndian.Uint16(block[2:])
	e0, e1 := expand565(c0), expand565(c1)
	threeColor := punchThrough && c0 <= c1

	var p [4]texel
	for ch := range 3 {
		a, b := float32(e0[ch]), float32(e1[ch])
		if srgb {
			a, b = srgbToLinear(e0[ch]), srgbToLinear(e1[ch])
		}

		var m2, m3 float32
		if threeColor {
			m2 = (a + b) / 2
		} else {
			m2 = (2*a + b) / 3
			m3 = (a + 2*b) / 3
		}

		p[0][ch], p[1][ch] = e0[ch], e1[ch]
		if srgb {
			p[2][ch], p[3][ch] = linearToSrgb(m2), linearToSrgb(m3)
		} else {
			p[2][ch], p[3][ch] = uint8(m2+0.5), uint8(m3+0.5)
		}
	}

	p[0][3], p[1][3], p[2][3], p[3][3] = 255, 255, 255, 255
	if threeColor {
		p[3] = texel{}
	}
	return p
}

func colorTexels(block []byte, srgb, punchThrough bool) [16]texel {
	palette := colorPalette(block, srgb, punchThrough)
	indices := binary.LittleEndian.Uint32(block[4:])

	var out [16]texel
	for i := range out {
		out[i] = palette[(indices>>(2*i))&3]
	}
	return out
}

// channelTexels decodes a BC4-style block: two 8-bit endpoints and 3-bit
// indices into an eight entry ramp.
func channelTexels(block []byte) [16]uint8 {
	a0, a1 := block[0], block[1]

	var ramp [8]uint8
	ramp[0], ramp[1] = a0, a1
	if a0 > a1 {
		for i := 2; i < 8; i++ {
			ramp[i] = uint8((int(a0)*(8-i) + int(a1)*(i-1)) / 7)
		}
	} else {
		for i := 2; i < 6; i++ {
			ramp[i] = uint8((int(a0)*(6-i) + int(a1)*(i-1)) / 5)
		}
		ramp[6], ramp[7] = 0, 255
	}

	var indices uint64
	for i := range 6 {
		indices |= uint64(block[2+i]) << (8 * i)
	}

	var out [16]uint8
	for i := range out {
		out[i] = ramp[(indices>>(3*i))&7]
	}
	return out
}

func decodeBC1(block []byte, srgb bool) [16]texel {
	return colorTexels(block, srgb, true)
}

func decodeBC2(block []byte, srgb bool) [16]texel {
	out := colorTexels(block[8:], srgb, false)
	alpha := binary.LittleEndian.Uint64(block)
	for i := range out {
		out[i][3] = uint8((alpha>>(4*i))&0xf) * 17
	}
	return out
}

func decodeBC3(block []byte, srgb bool) [16]texel {
	out := colorTexels(block[8:], srgb, false)
	alpha := channelTexels(block)
	for i := range out {
		out[i][3] = alpha[i]
	}
	return out
}

func decodeBC4(block []byte, _ bool) [16]texel {
	var out [16]texel
	for i, v := range channelTexels(block) {
		out[i][0] = v
	}
	return out
}

func decodeBC5(block []byte, _ bool) [16]texel {
	var out [16]texel
	red, green := channelTexels(block), channelTexels(block[8:])
	for i := range out {
		out[i][0], out[i][1] = red[i], green[i]
	}
	return out
}

func srgbToLinear(c uint8) float32 {
	v := float32(c) / 255
	if v <= 0.04045 {
		return v / 12.92
	}
	return float32(math.Pow(float64((v+0.055)/1.055), 2.4))
}

func linearToSrgb(v float32) uint8 {
	if v <= 0.0031308 {
		return uint8(math.Min(255, math.Max(0, float64(v)*12.92*255+0.5)))
	}
	srgb := 1.055*math.Pow(float64(v), 1/2.4) - 0.055
	return uint8(math.Min(255, math.Max(0, srgb*255+0.5)))
}
