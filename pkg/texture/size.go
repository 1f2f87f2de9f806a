package texture

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
)

// HighResMipLevels is the mip count of every power-of-two high-res tier.
const HighResMipLevels = 2

// MaxDataSize is the largest tier payload a container header can declare.
const MaxDataSize = math.MaxUint32

var (
	// ErrSizeMismatch matches every *SizeMismatchError.
	ErrSizeMismatch = errors.New("size mismatch")
	// ErrUnrepresentable is returned for layouts whose payload size is zero
	// or larger than MaxDataSize.
	ErrUnrepresentable = errors.New("payload size not representable")
)

// SizeMismatchError reports a buffer whose length disagrees with ExpectedSize.
type SizeMismatchError struct {
	Expected int
	Actual   int
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("size mismatch: expected %d bytes, got %d", e.Expected, e.Actual)
}

// Is makes errors.Is(err, ErrSizeMismatch) work.
func (e *SizeMismatchError) Is(target error) bool {
	return target == ErrSizeMismatch
}

// CheckSize returns a *SizeMismatchError when actual differs from expected.
func CheckSize(expected, actual int) error {
	if expected != actual {
		return &SizeMismatchError{Expected: expected, Actual: actual}
	}
	return nil
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// MipLevels returns the mip count the asset pipeline generates for a tier.
//
// Non power-of-two textures are never mipped. High-res tiers stop at two
// levels. Standard tiers stop once the smallest level would drop below 32px.
func MipLevels(d Dimensions, highRes bool) uint8 {
	if !isPowerOfTwo(d.Width) || !isPowerOfTwo(d.Height) {
		return 1
	}
	if highRes {
		return HighResMipLevels
	}

	smallest := min(d.Width, d.Height)
	levels := bits.Len(uint(smallest)) - 1 - 2 // floor(log2) - 2
	if levels < 1 {
		return 1
	}
	return uint8(levels)
}

// BaseSize returns the byte count of the top level of every array slice.
// It returns 0 for negative inputs and for products above MaxDataSize.
func BaseSize(format PixelFormat, width, height, arraySize int) int {
	if width < 0 || height < 0 || arraySize < 0 {
		return 0
	}
	n, ok := mulSize(uint64(format.BytesPerPixel()), uint64(width), uint64(height), uint64(arraySize))
	if !ok {
		return 0
	}
	n /= uint64(format.CompressionRatio())
	if n > MaxDataSize {
		return 0
	}
	return int(n)
}

// mulSize multiplies factors and reports false on uint64 overflow.
func mulSize(factors ...uint64) (uint64, bool) {
	n := uint64(1)
	for _, f := range factors {
		hi, lo := bits.Mul64(n, f)
		if hi != 0 {
			return 0, false
		}
		n = lo
	}
	return n, true
}

// ExpectedSize returns the payload size of a texture tier: the base level
// followed by mipmaps-1 further levels, each a quarter of its predecessor.
// A mip count of zero is treated as one. Layouts whose payload exceeds
// MaxDataSize yield 0.
func ExpectedSize(format PixelFormat, width, height, arraySize int, mipmaps uint8) int {
	base := uint64(BaseSize(format, width, height, arraySize))

	var total uint64
	for i := range max(int(mipmaps), 1) {
		total += base >> (2 * i)
	}
	if total > MaxDataSize {
		return 0
	}
	return int(total)
}
