package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Helper functions ---

func sum(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

func newTestStore(t *testing.T) *BlobStore {
	t.Helper()
	bs, err := NewBlobStore(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)
	return bs
}

func readAll(t *testing.T, rc io.ReadCloser) []byte {
	t.Helper()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

// --- NewBlobStore tests ---

func TestNewBlobStore_CreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	bs, err := NewBlobStore(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, bs.BaseDir())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewBlobStore_EmptyDir(t *testing.T) {
	_, err := NewBlobStore("")
	assert.ErrorIs(t, err, ErrInvalidBaseDir)
}

// --- Path tests ---

func TestRelPath_FanOut(t *testing.T) {
	hash := sum([]byte("hello"))
	h := hex.EncodeToString(hash)

	rel := RelPath(hash)
	segs := strings.Split(rel, "/")
	require.Len(t, segs, 32)
	assert.Equal(t, h[:2], segs[0])
	assert.Equal(t, h[2:4], segs[1])
	assert.Equal(t, h[62:], segs[31])
	assert.Equal(t, h, strings.Join(segs, ""))
}

func TestBlobPath(t *testing.T) {
	hash := sum([]byte("hello"))
	p := BlobPath("/base", hash)
	assert.Equal(t, filepath.Join("/base", filepath.FromSlash(RelPath(hash))), p)
}

// --- Put / Open tests ---

func TestPut_RoundTrip(t *testing.T) {
	bs := newTestStore(t)
	content := bytes.Repeat([]byte("digstore "), 1000)

	hash, added, err := bs.Put(bytes.NewReader(content))
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, sum(content), hash)

	rc, err := bs.Open(hash)
	require.NoError(t, err)
	assert.Equal(t, content, readAll(t, rc))
}

func TestPut_StoredCompressed(t *testing.T) {
	bs := newTestStore(t)
	content := bytes.Repeat([]byte("a"), 4096)

	hash, _, err := bs.Put(bytes.NewReader(content))
	require.NoError(t, err)

	size, err := bs.Size(hash)
	require.NoError(t, err)
	assert.Less(t, size, int64(len(content)))

	rc, err := bs.OpenCompressed(hash)
	require.NoError(t, err)
	raw := readAll(t, rc)
	out, err := Decompress(raw)
	require.NoError(t, err)
	assert.Equal(t, content, out)
}

func TestPut_EmptyContent(t *testing.T) {
	bs := newTestStore(t)
	hash, added, err := bs.Put(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, sum(nil), hash)

	rc, err := bs.Open(hash)
	require.NoError(t, err)
	assert.Empty(t, readAll(t, rc))
}

func TestPut_ExistingBlobKept(t *testing.T) {
	bs := newTestStore(t)
	content := []byte("same content")

	hash, added, err := bs.Put(bytes.NewReader(content))
	require.NoError(t, err)
	require.True(t, added)

	info1, err := os.Stat(BlobPath(bs.BaseDir(), hash))
	require.NoError(t, err)

	hash2, added, err := bs.Put(bytes.NewReader(content))
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, hash, hash2)

	info2, err := os.Stat(BlobPath(bs.BaseDir(), hash))
	require.NoError(t, err)
	assert.Equal(t, info1.ModTime(), info2.ModTime())
}

func TestPut_NoTempFilesLeft(t *testing.T) {
	bs := newTestStore(t)
	_, _, err := bs.Put(strings.NewReader("x"))
	require.NoError(t, err)

	entries, err := os.ReadDir(bs.BaseDir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), "."), "leftover %s", e.Name())
	}
}

func TestOpen_NotFound(t *testing.T) {
	bs := newTestStore(t)
	_, err := bs.Open(sum([]byte("missing")))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_InvalidHash(t *testing.T) {
	bs := newTestStore(t)
	_, err := bs.Open([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidHash)
}

// --- Import tests ---

func TestImport_Valid(t *testing.T) {
	bs := newTestStore(t)
	content := []byte("from a peer")
	compressed, err := Compress(content)
	require.NoError(t, err)

	added, err := bs.Import(sum(content), bytes.NewReader(compressed), false)
	require.NoError(t, err)
	assert.True(t, added)

	rc, err := bs.Open(sum(content))
	require.NoError(t, err)
	assert.Equal(t, content, readAll(t, rc))
}

func TestImport_HashMismatch(t *testing.T) {
	bs := newTestStore(t)
	compressed, err := Compress([]byte("world"))
	require.NoError(t, err)

	_, err = bs.Import(sum([]byte("hello")), bytes.NewReader(compressed), false)
	assert.ErrorIs(t, err, ErrIntegrity)

	ok, err := bs.Has(sum([]byte("hello")))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestImport_NotGzip(t *testing.T) {
	bs := newTestStore(t)
	_, err := bs.Import(sum([]byte("hello")), strings.NewReader("plain"), false)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestImport_SkipsExistingUnlessForced(t *testing.T) {
	bs := newTestStore(t)
	content := []byte("dup")
	hash, _, err := bs.Put(bytes.NewReader(content))
	require.NoError(t, err)

	compressed, err := Compress(content)
	require.NoError(t, err)

	added, err := bs.Import(hash, bytes.NewReader(compressed), false)
	require.NoError(t, err)
	assert.False(t, added)

	added, err = bs.Import(hash, bytes.NewReader(compressed), true)
	require.NoError(t, err)
	assert.True(t, added)
}

// --- Has / Delete / List tests ---

func TestHasDelete(t *testing.T) {
	bs := newTestStore(t)
	hash, _, err := bs.Put(strings.NewReader("gone soon"))
	require.NoError(t, err)

	ok, err := bs.Has(hash)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, bs.Delete(hash))
	ok, err = bs.Has(hash)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, bs.Delete(hash), ErrNotFound)
}

func TestList(t *testing.T) {
	bs := newTestStore(t)
	var want [][]byte
	for _, s := range []string{"a", "b", "c"} {
		h, _, err := bs.Put(strings.NewReader(s))
		require.NoError(t, err)
		want = append(want, h)
	}

	got, err := bs.List()
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := 1; i < len(got); i++ {
		assert.Negative(t, bytes.Compare(got[i-1], got[i]))
	}
	for _, h := range want {
		assert.Contains(t, got, h)
	}
}

// --- Verify tests ---

func TestVerify(t *testing.T) {
	bs := newTestStore(t)
	hash, _, err := bs.Put(strings.NewReader("intact"))
	require.NoError(t, err)

	ok, err := bs.Verify(hash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerify_Corrupted(t *testing.T) {
	bs := newTestStore(t)
	hash, _, err := bs.Put(strings.NewReader("intact"))
	require.NoError(t, err)

	other, err := Compress([]byte("tampered"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(BlobPath(bs.BaseDir(), hash), other, 0600))

	ok, err := bs.Verify(hash)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(BlobPath(bs.BaseDir(), hash), []byte("garbage"), 0600))
	ok, err = bs.Verify(hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_Missing(t *testing.T) {
	bs := newTestStore(t)
	_, err := bs.Verify(sum([]byte("nope")))
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- Concurrency ---

func TestPut_Concurrent(t *testing.T) {
	bs := newTestStore(t)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := bs.Put(strings.NewReader("shared"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	ok, err := bs.Verify(sum([]byte("shared")))
	require.NoError(t, err)
	assert.True(t, ok)
}

// --- Compression helpers ---

func TestCompressDecompress(t *testing.T) {
	data := []byte("The quick brown fox jumps over the lazy dog")
	c, err := Compress(data)
	require.NoError(t, err)
	out, err := Decompress(c)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestDecompress_Invalid(t *testing.T) {
	_, err := Decompress([]byte("not gzip"))
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestHashFromRelPath(t *testing.T) {
	hash := sum([]byte("hello"))
	back, err := HashFromRelPath(RelPath(hash))
	require.NoError(t, err)
	assert.Equal(t, hash, back)

	upper := strings.ToUpper(RelPath(hash))
	for _, bad := range []string{"", "ab/cd", upper, RelPath(hash) + "/00", strings.Replace(RelPath(hash), "/", "x", 1)} {
		_, err := HashFromRelPath(bad)
		assert.ErrorIs(t, err, ErrInvalidHash, bad)
	}
}
