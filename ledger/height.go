package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// HeightFile records the chain position a store was created at, bounding how
// far back ledger history has to be scanned.
const HeightFile = "height.dat"

// Height is the content of height.dat.
type Height struct {
	CreatedAtHeight uint64 `json:"createdAtHeight"`
	CreatedAtHash   string `json:"createdAtHash"`
}

// ReadHeight loads height.dat from a store directory.
func ReadHeight(dir string) (*Height, error) {
	data, err := os.ReadFile(filepath.Join(dir, HeightFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrHeightNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return ParseHeight(data)
}

// ParseHeight decodes height.dat content.
func ParseHeight(data []byte) (*Height, error) {
	var h Height
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%w: height.dat: %w", ErrMalformedSnapshot, err)
	}
	return &h, nil
}

// WriteHeight stores h as height.dat.
func WriteHeight(dir string, h *Height) error {
	data, err := json.Marshal(h)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(dir, HeightFile), data); err != nil {
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return nil
}
