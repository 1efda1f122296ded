package ledger

import (
	"sort"

	"github.com/dignetwork/digstore-go/merkle"
)

// LiveIndex maps hex keys to file entries. It is the mutable state a ledger
// builds its tree from, and the value returned when a historical root is
// loaded.
type LiveIndex struct {
	entries map[string]FileEntry
}

// NewLiveIndex returns an empty index.
func NewLiveIndex() LiveIndex {
	return LiveIndex{entries: map[string]FileEntry{}}
}

// IndexFromSnapshot rebuilds the index frozen in s.
func IndexFromSnapshot(s *Snapshot) (LiveIndex, error) {
	ix := NewLiveIndex()
	for hexKey := range s.Files {
		e, err := s.Lookup(hexKey)
		if err != nil {
			return LiveIndex{}, err
		}
		ix.entries[hexKey] = e
	}
	return ix, nil
}

// Len returns the number of entries.
func (ix LiveIndex) Len() int {
	return len(ix.entries)
}

// Get returns the entry stored under hexKey.
func (ix LiveIndex) Get(hexKey string) (FileEntry, bool) {
	e, ok := ix.entries[hexKey]
	return e, ok
}

// Set adds or replaces the entry for e's key.
func (ix LiveIndex) Set(e FileEntry) {
	ix.entries[e.HexKey()] = e
}

// Delete removes hexKey and reports whether it was present.
func (ix LiveIndex) Delete(hexKey string) bool {
	if _, ok := ix.entries[hexKey]; !ok {
		return false
	}
	delete(ix.entries, hexKey)
	return true
}

// Keys returns the hex keys in ascending order.
func (ix LiveIndex) Keys() []string {
	keys := make([]string, 0, len(ix.entries))
	for k := range ix.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns an independent copy.
func (ix LiveIndex) Clone() LiveIndex {
	out := LiveIndex{entries: make(map[string]FileEntry, len(ix.entries))}
	for k, v := range ix.entries {
		out.entries[k] = v
	}
	return out
}

// Tree builds the Merkle tree over the combined hashes of all entries.
func (ix LiveIndex) Tree() *merkle.Tree {
	leaves := make([]merkle.Hash, 0, len(ix.entries))
	for _, e := range ix.entries {
		leaves = append(leaves, e.CombinedHash)
	}
	return merkle.Build(leaves)
}

// Snapshot freezes the index into a snapshot of tree.
func (ix LiveIndex) Snapshot(tree *merkle.Tree) *Snapshot {
	s := &Snapshot{
		Root:   tree.Root(),
		Leaves: tree.Leaves(),
		Files:  make(map[string]SnapshotFile, len(ix.entries)),
	}
	for k, e := range ix.entries {
		s.Files[k] = SnapshotFile{Hash: e.CombinedHash, SHA256: e.ContentHash}
	}
	return s
}
