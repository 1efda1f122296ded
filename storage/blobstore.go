package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// HashSize is the size of a content hash in bytes.
const HashSize = 32

// BlobStore keeps gzip-compressed content addressed by the SHA-256 of the
// uncompressed bytes. Blobs are stored at {baseDir}/{h0h1}/{h2h3}/.../{last}:
// every 2-hex-char segment of the hash but the last is a directory level.
type BlobStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewBlobStore creates a blob store rooted at baseDir, typically a store's
// data/ directory. The directory is created if it does not exist.
func NewBlobStore(baseDir string) (*BlobStore, error) {
	if baseDir == "" {
		return nil, ErrInvalidBaseDir
	}
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return &BlobStore{baseDir: baseDir}, nil
}

// BaseDir returns the directory blobs are stored under.
func (bs *BlobStore) BaseDir() string {
	return bs.baseDir
}

// BlobPath converts a content hash to its filesystem path under baseDir.
func BlobPath(baseDir string, hash []byte) string {
	return filepath.Join(baseDir, filepath.FromSlash(RelPath(hash)))
}

// RelPath returns the slash-separated fan-out path of a content hash, relative
// to the data directory. It is also the path used on the wire.
func RelPath(hash []byte) string {
	h := hex.EncodeToString(hash)
	segs := make([]string, 0, len(h)/2)
	for i := 0; i+2 <= len(h); i += 2 {
		segs = append(segs, h[i:i+2])
	}
	return strings.Join(segs, "/")
}

// HashFromRelPath is the inverse of RelPath.
func HashFromRelPath(rel string) ([]byte, error) {
	segs := strings.Split(rel, "/")
	if len(segs) != HashSize {
		return nil, fmt.Errorf("%w: %q is not a blob path", ErrInvalidHash, rel)
	}
	for _, s := range segs {
		if len(s) != 2 || strings.ToLower(s) != s {
			return nil, fmt.Errorf("%w: %q is not a blob path", ErrInvalidHash, rel)
		}
	}
	hash, err := hex.DecodeString(strings.Join(segs, ""))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHash, err)
	}
	return hash, nil
}

func validateHash(hash []byte) error {
	if len(hash) != HashSize {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidHash, len(hash))
	}
	return nil
}

func (bs *BlobStore) path(hash []byte) string {
	return BlobPath(bs.baseDir, hash)
}

// Put streams r into the store. The content hash is computed over the
// uncompressed bytes while they are compressed into a temporary file, which is
// then moved into place. An existing blob is never replaced; added reports
// whether a new blob was written.
func (bs *BlobStore) Put(r io.Reader) (hash []byte, added bool, err error) {
	tmp, err := os.CreateTemp(bs.baseDir, ".put-*")
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	zw := NewCompressWriter(tmp)
	if _, err := io.Copy(zw, io.TeeReader(r, h)); err != nil {
		_ = tmp.Close()
		return nil, false, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	if err := zw.Close(); err != nil {
		_ = tmp.Close()
		return nil, false, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}

	hash = h.Sum(nil)
	added, err = bs.place(tmp.Name(), hash, false)
	if err != nil {
		return nil, false, err
	}
	return hash, added, nil
}

// Import stores a blob that is already compressed, as received from a peer.
// The decompressed bytes must hash to hash or ErrIntegrity is returned and
// nothing is stored. An existing blob is kept unless force is set.
func (bs *BlobStore) Import(hash []byte, compressed io.Reader, force bool) (bool, error) {
	if err := validateHash(hash); err != nil {
		return false, err
	}
	if !force {
		if ok, err := bs.Has(hash); err != nil || ok {
			return false, err
		}
	}

	tmp, err := os.CreateTemp(bs.baseDir, ".import-*")
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, compressed); err != nil {
		_ = tmp.Close()
		return false, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		_ = tmp.Close()
		return false, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	ok, err := hashMatches(tmp, hash)
	_ = tmp.Close()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("%w: %x", ErrIntegrity, hash)
	}

	return bs.place(tmp.Name(), hash, force)
}

// place renames a finished temp file to the blob path of hash.
func (bs *BlobStore) place(tmpPath string, hash []byte, overwrite bool) (bool, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	dst := bs.path(hash)
	if !overwrite {
		if _, err := os.Stat(dst); err == nil {
			return false, nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return false, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return false, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return true, nil
}

type blobReader struct {
	io.ReadCloser
	f io.Closer
}

func (b *blobReader) Close() error {
	err := b.ReadCloser.Close()
	if cerr := b.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Open returns a stream of the decompressed content of a blob.
func (bs *BlobStore) Open(hash []byte) (io.ReadCloser, error) {
	f, err := bs.OpenCompressed(hash)
	if err != nil {
		return nil, err
	}
	zr, err := NewDecompressReader(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &blobReader{ReadCloser: zr, f: f}, nil
}

// OpenCompressed returns the blob file as stored on disk.
func (bs *BlobStore) OpenCompressed(hash []byte) (io.ReadCloser, error) {
	if err := validateHash(hash); err != nil {
		return nil, err
	}

	bs.mu.RLock()
	defer bs.mu.RUnlock()

	f, err := os.Open(bs.path(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %x", ErrNotFound, hash)
		}
		return nil, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return f, nil
}

// Has reports whether a blob exists for hash.
func (bs *BlobStore) Has(hash []byte) (bool, error) {
	if err := validateHash(hash); err != nil {
		return false, err
	}

	bs.mu.RLock()
	defer bs.mu.RUnlock()

	_, err := os.Stat(bs.path(hash))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("%w: %w", ErrIOFailure, err)
}

// Size returns the compressed size of a blob.
func (bs *BlobStore) Size(hash []byte) (int64, error) {
	if err := validateHash(hash); err != nil {
		return 0, err
	}

	bs.mu.RLock()
	defer bs.mu.RUnlock()

	info, err := os.Stat(bs.path(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return info.Size(), nil
}

// Delete removes a blob.
func (bs *BlobStore) Delete(hash []byte) error {
	if err := validateHash(hash); err != nil {
		return err
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()

	if err := os.Remove(bs.path(hash)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return nil
}

// List returns the hashes of all stored blobs in ascending order.
func (bs *BlobStore) List() ([][]byte, error) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	var hashes [][]byte
	err := filepath.WalkDir(bs.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(bs.baseDir, path)
		if err != nil {
			return err
		}
		name := strings.ReplaceAll(filepath.ToSlash(rel), "/", "")
		if len(name) != HashSize*2 {
			return nil
		}
		h, err := hex.DecodeString(name)
		if err != nil {
			return nil
		}
		hashes = append(hashes, h)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}

	sort.Slice(hashes, func(i, j int) bool {
		return bytes.Compare(hashes[i], hashes[j]) < 0
	})
	return hashes, nil
}

// Verify recomputes the hash of a blob's decompressed content. A blob that
// fails to decompress or hashes differently yields false without error.
func (bs *BlobStore) Verify(hash []byte) (bool, error) {
	f, err := bs.OpenCompressed(hash)
	if err != nil {
		return false, err
	}
	defer f.Close()
	return hashMatches(f, hash)
}

func hashMatches(compressed io.Reader, hash []byte) (bool, error) {
	zr, err := NewDecompressReader(compressed)
	if err != nil {
		return false, nil
	}
	defer zr.Close()

	h := sha256.New()
	if _, err := io.Copy(h, zr); err != nil {
		var pe *fs.PathError
		if errors.As(err, &pe) {
			return false, fmt.Errorf("%w: %w", ErrIOFailure, err)
		}
		return false, nil
	}
	return bytes.Equal(h.Sum(nil), hash), nil
}
