package ledger

import (
	"encoding/hex"
	"fmt"

	"github.com/dignetwork/digstore-go/merkle"
)

// FileEntry binds a key to the content stored under it.
type FileEntry struct {
	Key          []byte
	ContentHash  merkle.Hash
	CombinedHash merkle.Hash
}

// HexKey returns the hex encoding of the entry key.
func (e FileEntry) HexKey() string {
	return hex.EncodeToString(e.Key)
}

// NewFileEntry derives the combined hash for key and contentHash.
func NewFileEntry(key []byte, contentHash merkle.Hash) FileEntry {
	return FileEntry{
		Key:          append([]byte(nil), key...),
		ContentHash:  contentHash,
		CombinedHash: CombinedHash(key, contentHash),
	}
}

// CombinedHash is the Merkle leaf of a key/content pair:
// SHA-256(hex(key) + "/" + hex(contentHash)).
func CombinedHash(key []byte, contentHash merkle.Hash) merkle.Hash {
	return merkle.Sum([]byte(hex.EncodeToString(key) + "/" + contentHash.String()))
}

// DecodeKey parses a hex key.
func DecodeKey(hexKey string) ([]byte, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return key, nil
}
