package storage

import "errors"

var (
	// ErrNotFound indicates no blob exists for the given content hash.
	ErrNotFound = errors.New("storage: blob not found")

	// ErrInvalidHash indicates the content hash is not exactly 32 bytes.
	ErrInvalidHash = errors.New("storage: content hash must be 32 bytes")

	// ErrIntegrity indicates a blob does not decompress to its content hash.
	ErrIntegrity = errors.New("storage: blob integrity check failed")

	// ErrIOFailure indicates a file read/write error.
	ErrIOFailure = errors.New("storage: I/O failure")

	// ErrInvalidBaseDir indicates the base directory path is invalid.
	ErrInvalidBaseDir = errors.New("storage: invalid base directory")

	// ErrDecompressedTooLarge indicates decompressed data exceeds the safety limit.
	ErrDecompressedTooLarge = errors.New("storage: decompressed data exceeds maximum size")
)
