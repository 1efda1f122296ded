package ledger

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"github.com/dignetwork/digstore-go"
	"github.com/dignetwork/digstore-go/merkle"
	"github.com/dignetwork/digstore-go/metrics"
	"github.com/dignetwork/digstore-go/storage"
)

// DataDir is the blob directory inside a store directory.
const DataDir = "data"

// DefaultSnapshotCacheSize is the number of parsed snapshots kept in memory.
const DefaultSnapshotCacheSize = 64

// Ledger is the Merkle history engine of one store: a live index of keys,
// the tree over it, and the committed snapshots and manifest on disk.
//
// Mutations are expected to come from a single writer at a time.
type Ledger struct {
	id    StoreID
	dir   string
	blobs *storage.BlobStore

	mu    sync.RWMutex
	index LiveIndex
	tree  *merkle.Tree

	snapshots *lru.Cache
	metrics   *metrics.Registry
	logger    zerolog.Logger
}

type options struct {
	cacheSize int
	metrics   *metrics.Registry
	logger    *zerolog.Logger
}

// Option configures a Ledger.
type Option func(*options)

// WithSnapshotCacheSize sets how many parsed snapshots are cached.
func WithSnapshotCacheSize(n int) Option {
	return func(o *options) { o.cacheSize = n }
}

// WithMetrics records commits and upserts on r.
func WithMetrics(r *metrics.Registry) Option {
	return func(o *options) { o.metrics = r }
}

// WithLogger replaces the default component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}

// Open opens the store id under rootDir, creating its directory if needed,
// and loads the last committed snapshot into the live index.
func Open(rootDir string, id StoreID, opts ...Option) (*Ledger, error) {
	if _, err := ParseStoreID(string(id)); err != nil {
		return nil, err
	}
	o := options{cacheSize: DefaultSnapshotCacheSize}
	for _, opt := range opts {
		opt(&o)
	}

	dir := filepath.Join(rootDir, id.String())
	blobs, err := storage.NewBlobStore(filepath.Join(dir, DataDir))
	if err != nil {
		return nil, err
	}
	cache, err := lru.New(o.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("ledger: snapshot cache: %w", err)
	}

	l := &Ledger{
		id:        id,
		dir:       dir,
		blobs:     blobs,
		snapshots: cache,
		metrics:   o.metrics,
		logger:    digstore.Component("ledger").With().Str("store", id.String()).Logger(),
	}
	if o.logger != nil {
		l.logger = *o.logger
	}
	if err := l.ClearPendingRoot(); err != nil {
		return nil, err
	}
	return l, nil
}

// ID returns the store identifier.
func (l *Ledger) ID() StoreID { return l.id }

// Dir returns the store directory.
func (l *Ledger) Dir() string { return l.dir }

// Blobs returns the store's blob store.
func (l *Ledger) Blobs() *storage.BlobStore { return l.blobs }

// Manifest returns the committed roots in order.
func (l *Ledger) Manifest() ([]merkle.Hash, error) {
	return ReadManifest(l.dir)
}

// UpsertKey stores the content read from r under key. If the key already
// holds identical content the call changes nothing and returns false.
func (l *Ledger) UpsertKey(r io.Reader, key []byte) (FileEntry, bool, error) {
	hash, added, err := l.blobs.Put(r)
	if err != nil {
		return FileEntry{}, false, err
	}
	contentHash, err := merkle.HashFromBytes(hash)
	if err != nil {
		return FileEntry{}, false, err
	}
	entry := NewFileEntry(key, contentHash)

	l.mu.Lock()
	defer l.mu.Unlock()

	if prev, ok := l.index.Get(entry.HexKey()); ok && prev.CombinedHash == entry.CombinedHash {
		l.logger.Debug().Str("key", entry.HexKey()).Msg("upsert unchanged")
		l.metrics.RecordUpsert(false)
		return prev, false, nil
	}
	l.index.Set(entry)
	l.tree = l.index.Tree()
	l.metrics.RecordUpsert(true)
	l.logger.Debug().
		Str("key", entry.HexKey()).
		Str("sha256", entry.ContentHash.String()).
		Bool("newBlob", added).
		Msg("upsert")
	return entry, true, nil
}

// DeleteKey removes key from the live index and reports whether it was there.
func (l *Ledger) DeleteKey(key []byte) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.index.Delete(hex.EncodeToString(key)) {
		return false
	}
	l.tree = l.index.Tree()
	return true
}

// DeleteAllLeaves empties the live index.
func (l *Ledger) DeleteAllLeaves() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.index = NewLiveIndex()
	l.tree = l.index.Tree()
}

// Root returns the root of the live tree, committed or not.
func (l *Ledger) Root() merkle.Hash {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tree.Root()
}

// ListKeys returns the hex keys of the live index, or of the snapshot at
// root when root is non-nil.
func (l *Ledger) ListKeys(root *merkle.Hash) ([]string, error) {
	if root == nil {
		l.mu.RLock()
		defer l.mu.RUnlock()
		return l.index.Keys(), nil
	}
	ix, err := l.Load(*root)
	if err != nil {
		return nil, err
	}
	return ix.Keys(), nil
}

// Commit writes the live tree as a snapshot and appends its root to the
// manifest. The first commit of a store also records the empty genesis root
// ahead of its own. When the root equals the last committed root nothing is
// written and written is false.
func (l *Ledger) Commit() (root merkle.Hash, written bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	manifest, err := ReadManifest(l.dir)
	if err != nil {
		return merkle.Hash{}, false, err
	}
	root = l.tree.Root()
	if n := len(manifest); n > 0 && manifest[n-1] == root {
		l.metrics.RecordCommit(false)
		return root, false, nil
	}

	// A history always starts at the empty root.
	appended := []merkle.Hash{root}
	if len(manifest) == 0 && !root.IsZero() {
		empty := NewLiveIndex()
		genesis := empty.Snapshot(empty.Tree())
		if err := WriteSnapshot(l.dir, genesis); err != nil {
			return merkle.Hash{}, false, err
		}
		l.snapshots.Add(merkle.Zero, genesis)
		appended = []merkle.Hash{merkle.Zero, root}
	}

	snap := l.index.Snapshot(l.tree)
	if err := WriteSnapshot(l.dir, snap); err != nil {
		return merkle.Hash{}, false, err
	}
	if err := AppendManifest(l.dir, appended...); err != nil {
		return merkle.Hash{}, false, err
	}
	l.snapshots.Add(root, snap)
	l.metrics.RecordCommit(true)
	l.logger.Info().
		Str("root", root.String()).
		Int("keys", l.index.Len()).
		Int("generation", len(manifest)+len(appended)-1).
		Msg("committed")
	return root, true, nil
}

// ClearPendingRoot discards uncommitted changes by reloading the last
// committed snapshot, or an empty index if nothing was committed.
func (l *Ledger) ClearPendingRoot() error {
	manifest, err := ReadManifest(l.dir)
	if err != nil {
		return err
	}
	ix := NewLiveIndex()
	if n := len(manifest); n > 0 {
		ix, err = l.Load(manifest[n-1])
		if err != nil {
			return err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.index = ix
	l.tree = ix.Tree()
	return nil
}

// LastRoot returns the last committed root.
func (l *Ledger) LastRoot() (merkle.Hash, error) {
	manifest, err := ReadManifest(l.dir)
	if err != nil {
		return merkle.Hash{}, err
	}
	if len(manifest) == 0 {
		return merkle.Hash{}, ErrNoCommits
	}
	return manifest[len(manifest)-1], nil
}

// LoadSnapshot returns the snapshot for root, from cache when possible.
func (l *Ledger) LoadSnapshot(root merkle.Hash) (*Snapshot, error) {
	if v, ok := l.snapshots.Get(root); ok {
		return v.(*Snapshot), nil
	}
	s, err := ReadSnapshot(l.dir, root)
	if err != nil {
		return nil, err
	}
	l.snapshots.Add(root, s)
	return s, nil
}

// Load returns a fresh index holding the state frozen at root.
func (l *Ledger) Load(root merkle.Hash) (LiveIndex, error) {
	s, err := l.LoadSnapshot(root)
	if err != nil {
		return LiveIndex{}, err
	}
	return IndexFromSnapshot(s)
}

// lookup finds hexKey in the live index or in the snapshot at root.
func (l *Ledger) lookup(hexKey string, root *merkle.Hash) (FileEntry, error) {
	if root == nil {
		l.mu.RLock()
		e, ok := l.index.Get(hexKey)
		l.mu.RUnlock()
		if !ok {
			return FileEntry{}, fmt.Errorf("%w: %s", ErrKeyNotFound, hexKey)
		}
		return e, nil
	}
	s, err := l.LoadSnapshot(*root)
	if err != nil {
		return FileEntry{}, err
	}
	return s.Lookup(hexKey)
}

// GetValueStream opens the decompressed content stored under hexKey in the
// live index, or in the snapshot at root when root is non-nil.
func (l *Ledger) GetValueStream(hexKey string, root *merkle.Hash) (io.ReadCloser, error) {
	e, err := l.lookup(hexKey, root)
	if err != nil {
		return nil, err
	}
	return l.blobs.Open(e.ContentHash[:])
}

// GetProof builds an inclusion proof for hexKey holding contentHash at
// root, defaulting to the last committed root.
func (l *Ledger) GetProof(hexKey string, contentHash merkle.Hash, root *merkle.Hash) (string, error) {
	var r merkle.Hash
	if root != nil {
		r = *root
	} else {
		last, err := l.LastRoot()
		if err != nil {
			return "", err
		}
		r = last
	}

	key, err := DecodeKey(hexKey)
	if err != nil {
		return "", err
	}
	s, err := l.LoadSnapshot(r)
	if err != nil {
		return "", err
	}
	path, err := merkle.Build(s.Leaves).Proof(CombinedHash(key, contentHash))
	if err != nil {
		return "", fmt.Errorf("%w: %s with %s at %s", ErrKeyNotFound, hexKey, contentHash, r)
	}
	return Token{Key: hexKey, RootHash: r, Proof: merkle.EncodeProof(path)}.Encode()
}

// VerifyProof reports whether token proves that its key held contentHash at
// the token's root. The root's snapshot must be available locally. Any
// malformed input yields false.
func (l *Ledger) VerifyProof(token string, contentHash merkle.Hash) bool {
	t, err := DecodeToken(token)
	if err != nil {
		return false
	}
	key, err := DecodeKey(t.Key)
	if err != nil || hex.EncodeToString(key) != t.Key {
		return false
	}
	path, err := t.Siblings()
	if err != nil || merkle.EncodeProof(path) != t.Proof {
		return false
	}
	if _, err := l.LoadSnapshot(t.RootHash); err != nil {
		return false
	}
	return merkle.Verify(path, CombinedHash(key, contentHash), t.RootHash)
}

// RootDiff lists the keys that differ between two snapshots, each mapped to
// its content hash.
type RootDiff struct {
	Added   map[string]merkle.Hash // in B only
	Deleted map[string]merkle.Hash // in A only
	// Modified holds keys present in both with different content, mapped to
	// the content hash in B.
	Modified map[string]merkle.Hash
}

// GetRootDiff compares the snapshots at a and b.
func (l *Ledger) GetRootDiff(a, b merkle.Hash) (*RootDiff, error) {
	sa, err := l.LoadSnapshot(a)
	if err != nil {
		return nil, err
	}
	sb, err := l.LoadSnapshot(b)
	if err != nil {
		return nil, err
	}
	return DiffSnapshots(sa, sb), nil
}

// DiffSnapshots compares two snapshots' file maps.
func DiffSnapshots(a, b *Snapshot) *RootDiff {
	d := &RootDiff{
		Added:    map[string]merkle.Hash{},
		Deleted:  map[string]merkle.Hash{},
		Modified: map[string]merkle.Hash{},
	}
	for k, fb := range b.Files {
		fa, ok := a.Files[k]
		switch {
		case !ok:
			d.Added[k] = fb.SHA256
		case fa.SHA256 != fb.SHA256:
			d.Modified[k] = fb.SHA256
		}
	}
	for k, fa := range a.Files {
		if _, ok := b.Files[k]; !ok {
			d.Deleted[k] = fa.SHA256
		}
	}
	return d
}

// VerifyKeyIntegrity checks that the blob for contentHash decompresses to
// contentHash and that the snapshot at root holds a leaf built from it.
func (l *Ledger) VerifyKeyIntegrity(contentHash merkle.Hash, root merkle.Hash) (bool, error) {
	ok, err := l.blobs.Verify(contentHash[:])
	if err != nil || !ok {
		return false, err
	}
	s, err := l.LoadSnapshot(root)
	if err != nil {
		return false, err
	}
	leaves := make(map[merkle.Hash]struct{}, len(s.Leaves))
	for _, leaf := range s.Leaves {
		leaves[leaf] = struct{}{}
	}
	for hexKey, f := range s.Files {
		if f.SHA256 != contentHash {
			continue
		}
		key, err := DecodeKey(hexKey)
		if err != nil {
			return false, err
		}
		if _, ok := leaves[CombinedHash(key, contentHash)]; ok {
			return true, nil
		}
	}
	return false, nil
}

// Height returns the store's creation height marker.
func (l *Ledger) Height() (*Height, error) {
	return ReadHeight(l.dir)
}

// SetHeight writes the store's creation height marker.
func (l *Ledger) SetHeight(h *Height) error {
	return WriteHeight(l.dir, h)
}

// HasSnapshot reports whether <root>.dat exists locally.
func (l *Ledger) HasSnapshot(root merkle.Hash) bool {
	_, err := os.Stat(SnapshotPath(l.dir, root))
	return err == nil
}
