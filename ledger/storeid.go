package ledger

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// StoreID names a store. It is the lowercase hex form of a 32-byte identifier
// and doubles as the store's directory name.
type StoreID string

// ParseStoreID validates s and returns it in lowercase.
func ParseStoreID(s string) (StoreID, error) {
	if len(s) != 64 {
		return "", fmt.Errorf("%w: got %d characters", ErrInvalidStoreID, len(s))
	}
	s = strings.ToLower(s)
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidStoreID, err)
	}
	return StoreID(s), nil
}

func (id StoreID) String() string {
	return string(id)
}
