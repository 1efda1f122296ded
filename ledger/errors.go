package ledger

import "errors"

var (
	// ErrInvalidStoreID indicates a store identifier is not exactly 64 hex characters.
	ErrInvalidStoreID = errors.New("ledger: store id must be 64 hex characters")

	// ErrInvalidKey indicates a hex key could not be decoded.
	ErrInvalidKey = errors.New("ledger: invalid hex key")

	// ErrKeyNotFound indicates the key is absent from the index or snapshot.
	ErrKeyNotFound = errors.New("ledger: key not found")

	// ErrSnapshotNotFound indicates no <root>.dat file exists for a root.
	ErrSnapshotNotFound = errors.New("ledger: snapshot not found")

	// ErrMalformedSnapshot indicates a snapshot file is not valid snapshot JSON.
	ErrMalformedSnapshot = errors.New("ledger: malformed snapshot")

	// ErrMalformedManifest indicates a manifest line is not a hex root hash.
	ErrMalformedManifest = errors.New("ledger: malformed manifest")

	// ErrRootMismatch indicates snapshot content does not hash to its declared root.
	ErrRootMismatch = errors.New("ledger: snapshot root mismatch")

	// ErrNoCommits indicates the store has no committed root yet.
	ErrNoCommits = errors.New("ledger: store has no commits")

	// ErrHeightNotFound indicates the store has no height.dat marker.
	ErrHeightNotFound = errors.New("ledger: height marker not found")

	// ErrInvalidToken indicates a proof token could not be decoded.
	ErrInvalidToken = errors.New("ledger: invalid proof token")

	// ErrIOFailure indicates a file read/write error.
	ErrIOFailure = errors.New("ledger: I/O failure")
)
