package archive

import (
	"fmt"
	"io"

	"github.com/DataDog/zstd"
	"github.com/zeebo/blake3"
)

// Writer compresses a payload of any length into dst. Space for the header
// is reserved up front and Close fills it in, so dst must be seekable.
type Writer struct {
	dst    io.WriteSeeker
	start  int64
	header Header
	z      *zstd.Writer
	hash   *blake3.Hasher
}

type options struct {
	level    int
	encoding Encoding
}

// Option configures a Writer.
type Option func(*options)

// WithLevel sets the zstd compression level.
func WithLevel(level int) Option {
	return func(o *options) {
		o.level = level
	}
}

// WithEncoding records how the payload is serialized. The default is JSON.
func WithEncoding(enc Encoding) Option {
	return func(o *options) {
		o.encoding = enc
	}
}

// NewWriter starts an archive at the current position of dst.
func NewWriter(dst io.WriteSeeker, opts ...Option) (*Writer, error) {
	o := options{level: zstd.DefaultCompression, encoding: EncodingJSON}
	for _, opt := range opts {
		opt(&o)
	}

	start, err := dst.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	if _, err := dst.Write(make([]byte, HeaderSize)); err != nil {
		return nil, fmt.Errorf("reserve header: %w", err)
	}

	return &Writer{
		dst:    dst,
		start:  start,
		header: Header{Version: Version, Encoding: o.encoding},
		z:      zstd.NewWriterLevel(dst, o.level),
		hash:   blake3.New(),
	}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.z.Write(p)
	w.hash.Write(p[:n])
	w.header.Length += uint64(n)
	return n, err
}

// Close flushes the frame and writes the header. dst is left positioned
// after the payload.
func (w *Writer) Close() error {
	if err := w.z.Close(); err != nil {
		return fmt.Errorf("close compressor: %w", err)
	}

	end, err := w.dst.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("get position: %w", err)
	}
	w.header.CompressedLength = uint64(end - w.start - HeaderSize)
	copy(w.header.Sum[:], w.hash.Sum(nil))

	header, err := w.header.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := w.dst.Seek(w.start, io.SeekStart); err != nil {
		return fmt.Errorf("seek to header: %w", err)
	}
	if _, err := w.dst.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.dst.Seek(end, io.SeekStart); err != nil {
		return fmt.Errorf("seek to end: %w", err)
	}
	return nil
}

// Encode writes data to dst as a complete archive. The payload is
// compressed in memory, so dst needs no seeking.
func Encode(dst io.Writer, data []byte, opts ...Option) error {
	o := options{level: zstd.DefaultCompression, encoding: EncodingJSON}
	for _, opt := range opts {
		opt(&o)
	}

	frame, err := zstd.CompressLevel(nil, data, o.level)
	if err != nil {
		return fmt.Errorf("compress payload: %w", err)
	}
	h := Header{
		Version:          Version,
		Encoding:         o.encoding,
		Length:           uint64(len(data)),
		CompressedLength: uint64(len(frame)),
		Sum:              blake3.Sum256(data),
	}
	buf, err := h.AppendBinary(make([]byte, 0, HeaderSize+len(frame)))
	if err != nil {
		return err
	}
	if _, err := dst.Write(append(buf, frame...)); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	return nil
}
