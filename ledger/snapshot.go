package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dignetwork/digstore-go/merkle"
)

// SnapshotExt is the file extension of snapshot files.
const SnapshotExt = ".dat"

// SnapshotFile is the per-key record of a snapshot.
type SnapshotFile struct {
	Hash   merkle.Hash `json:"hash"`   // combined hash (leaf)
	SHA256 merkle.Hash `json:"sha256"` // content hash
}

// Snapshot is the immutable state of a store at one root.
type Snapshot struct {
	Root   merkle.Hash             `json:"root"`
	Leaves []merkle.Hash           `json:"leaves"`
	Files  map[string]SnapshotFile `json:"files"`
}

// SnapshotName returns the file name of the snapshot for root.
func SnapshotName(root merkle.Hash) string {
	return root.String() + SnapshotExt
}

// SnapshotPath returns the path of the snapshot for root inside dir.
func SnapshotPath(dir string, root merkle.Hash) string {
	return filepath.Join(dir, SnapshotName(root))
}

// ParseSnapshot decodes snapshot JSON. It does not check that the content
// hashes to the declared root; see Validate.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedSnapshot, err)
	}
	if s.Files == nil {
		s.Files = map[string]SnapshotFile{}
	}
	return &s, nil
}

// Marshal encodes the snapshot as JSON.
func (s *Snapshot) Marshal() ([]byte, error) {
	out := *s
	if out.Leaves == nil {
		out.Leaves = []merkle.Hash{}
	}
	if out.Files == nil {
		out.Files = map[string]SnapshotFile{}
	}
	return json.Marshal(&out)
}

// Validate checks that the leaves rebuild to Root and that every file entry
// is consistent with its key and present among the leaves.
func (s *Snapshot) Validate() error {
	tree := merkle.Build(s.Leaves)
	if tree.Root() != s.Root {
		return fmt.Errorf("%w: leaves give %s, declared %s", ErrRootMismatch, tree.Root(), s.Root)
	}
	if len(s.Files) != tree.Len() {
		return fmt.Errorf("%w: %d files for %d leaves", ErrRootMismatch, len(s.Files), tree.Len())
	}
	for hexKey, f := range s.Files {
		key, err := DecodeKey(hexKey)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedSnapshot, err)
		}
		if CombinedHash(key, f.SHA256) != f.Hash || !tree.Contains(f.Hash) {
			return fmt.Errorf("%w: entry %s", ErrRootMismatch, hexKey)
		}
	}
	return nil
}

// Lookup returns the file entry for a hex key.
func (s *Snapshot) Lookup(hexKey string) (FileEntry, error) {
	f, ok := s.Files[hexKey]
	if !ok {
		return FileEntry{}, fmt.Errorf("%w: %s at %s", ErrKeyNotFound, hexKey, s.Root)
	}
	key, err := DecodeKey(hexKey)
	if err != nil {
		return FileEntry{}, err
	}
	return FileEntry{Key: key, ContentHash: f.SHA256, CombinedHash: f.Hash}, nil
}

// ReadSnapshot loads and parses <root>.dat from dir and checks that the file
// declares the root it is named after.
func ReadSnapshot(dir string, root merkle.Hash) (*Snapshot, error) {
	data, err := os.ReadFile(SnapshotPath(dir, root))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, root)
		}
		return nil, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	s, err := ParseSnapshot(data)
	if err != nil {
		return nil, err
	}
	if s.Root != root {
		return nil, fmt.Errorf("%w: file %s declares %s", ErrRootMismatch, root, s.Root)
	}
	return s, nil
}

// WriteSnapshot stores s as <root>.dat in dir. Snapshots are immutable: an
// existing file is left untouched.
func WriteSnapshot(dir string, s *Snapshot) error {
	data, err := s.Marshal()
	if err != nil {
		return err
	}
	return writeSnapshotFile(dir, s.Root, data, false)
}

// ImportSnapshot validates raw snapshot bytes received for root and stores
// them. Nothing is written unless the content hashes to root.
func ImportSnapshot(dir string, root merkle.Hash, data []byte, force bool) (*Snapshot, error) {
	s, err := ParseSnapshot(data)
	if err != nil {
		return nil, err
	}
	if s.Root != root {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrRootMismatch, root, s.Root)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if err := writeSnapshotFile(dir, root, data, force); err != nil {
		return nil, err
	}
	return s, nil
}

func writeSnapshotFile(dir string, root merkle.Hash, data []byte, overwrite bool) error {
	dst := SnapshotPath(dir, root)
	if !overwrite {
		if _, err := os.Stat(dst); err == nil {
			return nil
		}
	}
	if err := writeFileAtomic(dst, data); err != nil {
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return nil
}

// writeFileAtomic writes data to a temp file next to path and renames it.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
