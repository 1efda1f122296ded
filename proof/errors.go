package proof

import "errors"

var (
	// ErrNoLedger indicates a local operation on a service built without a ledger.
	ErrNoLedger = errors.New("proof: no local ledger")

	// ErrSnapshotTooLarge indicates a peer served a snapshot above MaxSnapshotSize.
	ErrSnapshotTooLarge = errors.New("proof: foreign snapshot too large")
)
