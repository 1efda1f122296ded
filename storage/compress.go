package storage

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// MaxDecompressedSize bounds Decompress. Streaming readers are not limited.
const MaxDecompressedSize = 256 << 20

// NewCompressWriter wraps w with a gzip writer. The caller must Close it to
// flush the trailer.
func NewCompressWriter(w io.Writer) *gzip.Writer {
	return gzip.NewWriter(w)
}

// NewDecompressReader returns a reader yielding the decompressed bytes of r.
func NewDecompressReader(r io.Reader) (io.ReadCloser, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIntegrity, err)
	}
	return zr, nil
}

// Compress gzips data in memory.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := NewCompressWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress gunzips data in memory, refusing output larger than
// MaxDecompressedSize.
func Decompress(data []byte) ([]byte, error) {
	r, err := NewDecompressReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, MaxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIntegrity, err)
	}
	if len(out) > MaxDecompressedSize {
		return nil, ErrDecompressedTooLarge
	}
	return out, nil
}
