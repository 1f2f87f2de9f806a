package archive

import (
	"errors"
	"fmt"
	"io"

	"github.com/DataDog/zstd"
	"github.com/zeebo/blake3"
)

// Reader streams the decompressed payload of an archive. When the payload
// is exhausted its length and digest are checked against the header and
// any disagreement is returned in place of io.EOF.
type Reader struct {
	Header

	z    io.ReadCloser
	hash *blake3.Hasher
	read uint64
}

// NewReader reads and validates the header from r.
func NewReader(r io.Reader) (*Reader, error) {
	var buf [HeaderSize]byte
	n, err := io.ReadFull(r, buf[:])
	if n >= len(magic) && !IsArchive(buf[:n]) {
		return nil, ErrNotArchive
	}
	if err != nil {
		return nil, fmt.Errorf("read archive header: %w", err)
	}

	rd := &Reader{hash: blake3.New()}
	if err := rd.Header.UnmarshalBinary(buf[:]); err != nil {
		return nil, err
	}
	rd.z = zstd.NewReader(io.LimitReader(r, int64(rd.CompressedLength)))
	return rd, nil
}

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.z.Read(p)
	r.hash.Write(p[:n])
	r.read += uint64(n)
	if errors.Is(err, io.EOF) {
		if verr := r.verify(); verr != nil {
			return n, verr
		}
	}
	return n, err
}

func (r *Reader) verify() error {
	if r.read != r.Length {
		return fmt.Errorf("archive payload is %d bytes, header says %d", r.read, r.Length)
	}
	var sum [32]byte
	copy(sum[:], r.hash.Sum(nil))
	if sum != r.Sum {
		return ErrChecksum
	}
	return nil
}

func (r *Reader) Close() error {
	return r.z.Close()
}

// ReadAll decompresses and verifies a whole archive.
func ReadAll(r io.Reader) ([]byte, Encoding, error) {
	rd, err := NewReader(r)
	if err != nil {
		return nil, 0, err
	}
	defer rd.Close()

	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, 0, err
	}
	return data, rd.Encoding, nil
}
