package peer

import "errors"

var (
	// ErrInvalidPath indicates a request path outside the store layout.
	ErrInvalidPath = errors.New("peer: invalid store path")

	// ErrInvalidPassword indicates a password bcrypt cannot hash.
	ErrInvalidPassword = errors.New("peer: invalid password")

	// ErrManifestConflict indicates an uploaded manifest that does not extend
	// the local one or names snapshots the peer lacks.
	ErrManifestConflict = errors.New("peer: manifest conflict")
)
