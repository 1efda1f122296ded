package merkle

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// HashPair combines two siblings. The pair is ordered bytewise before
// hashing, so a proof does not need to record which side each sibling is on.
func HashPair(a, b Hash) Hash {
	var combined [2 * HashSize]byte
	if b.Less(a) {
		a, b = b, a
	}
	copy(combined[:HashSize], a[:])
	copy(combined[HashSize:], b[:])
	return Sum(combined[:])
}

// Tree is an immutable Merkle tree over a sorted leaf set.
type Tree struct {
	levels [][]Hash // levels[0] = sorted leaves, last = root
	index  map[Hash]int
}

// Build sorts and de-duplicates leaves and builds every level of the tree.
// A node without a sibling is carried to the next level unchanged.
func Build(leaves []Hash) *Tree {
	sorted := make([]Hash, len(leaves))
	copy(sorted, leaves)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })
	uniq := sorted[:0]
	for i, l := range sorted {
		if i == 0 || l != sorted[i-1] {
			uniq = append(uniq, l)
		}
	}
	sorted = uniq

	t := &Tree{index: make(map[Hash]int, len(sorted))}
	for i, l := range sorted {
		t.index[l] = i
	}
	if len(sorted) == 0 {
		return t
	}

	level := sorted
	t.levels = append(t.levels, level)
	for len(level) > 1 {
		next := make([]Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, HashPair(level[i], level[i+1]))
		}
		t.levels = append(t.levels, next)
		level = next
	}
	return t
}

// Root returns the tree root, or Zero for an empty tree.
func (t *Tree) Root() Hash {
	if len(t.levels) == 0 {
		return Zero
	}
	return t.levels[len(t.levels)-1][0]
}

// Len returns the number of leaves.
func (t *Tree) Len() int {
	if len(t.levels) == 0 {
		return 0
	}
	return len(t.levels[0])
}

// Leaves returns the sorted leaves.
func (t *Tree) Leaves() []Hash {
	if len(t.levels) == 0 {
		return nil
	}
	out := make([]Hash, len(t.levels[0]))
	copy(out, t.levels[0])
	return out
}

// Contains reports whether leaf is in the tree.
func (t *Tree) Contains(leaf Hash) bool {
	_, ok := t.index[leaf]
	return ok
}

// Proof returns the sibling path from leaf to the root, bottom-up.
func (t *Tree) Proof(leaf Hash) ([]Hash, error) {
	idx, ok := t.index[leaf]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLeafNotFound, leaf)
	}

	var proof []Hash
	for _, level := range t.levels[:len(t.levels)-1] {
		sib := idx ^ 1
		if sib < len(level) {
			proof = append(proof, level[sib])
		}
		idx /= 2
	}
	return proof, nil
}

// Verify recomputes the root from leaf and proof and compares it to root.
func Verify(proof []Hash, leaf, root Hash) bool {
	h := leaf
	for _, sib := range proof {
		h = HashPair(h, sib)
	}
	return h == root
}

// EncodeProof renders a proof as concatenated hex siblings.
func EncodeProof(proof []Hash) string {
	var sb strings.Builder
	for _, h := range proof {
		sb.WriteString(h.String())
	}
	return sb.String()
}

// DecodeProof parses the output of EncodeProof.
func DecodeProof(s string) ([]Hash, error) {
	if len(s)%(HashSize*2) != 0 {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidProof, len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProof, err)
	}
	proof := make([]Hash, len(raw)/HashSize)
	for i := range proof {
		copy(proof[i][:], raw[i*HashSize:])
	}
	return proof, nil
}
