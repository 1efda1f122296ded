package merkle

import "errors"

var (
	// ErrInvalidHash indicates a hex hash is malformed or not 32 bytes.
	ErrInvalidHash = errors.New("merkle: invalid hash")

	// ErrLeafNotFound indicates a proof was requested for a leaf not in the tree.
	ErrLeafNotFound = errors.New("merkle: leaf not in tree")

	// ErrInvalidProof indicates an encoded proof is malformed.
	ErrInvalidProof = errors.New("merkle: invalid proof encoding")
)
