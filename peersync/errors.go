package peersync

import (
	"errors"
	"fmt"
)

var (
	// ErrTransient indicates a connection failure, timeout or unexpected peer
	// status. Operations failing with it are retried.
	ErrTransient = errors.New("peersync: transient network failure")

	// ErrResourceAbsent indicates the peer answered 404 for a resource.
	ErrResourceAbsent = errors.New("peersync: resource not found on peer")

	// ErrNoPeersAvailable indicates every candidate peer failed a resource and
	// refreshing the peer set produced no new candidates.
	ErrNoPeersAvailable = errors.New("peersync: no peers available")

	// ErrIntegrity indicates downloaded content failed hash verification.
	ErrIntegrity = errors.New("peersync: integrity check failed")

	// ErrDiverged indicates a root history that disagrees with the local manifest.
	ErrDiverged = errors.New("peersync: root history diverged from local manifest")

	// ErrNoRootHistory indicates the catalog knows no committed root for a store.
	ErrNoRootHistory = errors.New("peersync: store has no root history")

	// ErrUnauthorized indicates the peer rejected an upload's credentials or signature.
	ErrUnauthorized = errors.New("peersync: upload not authorized")

	// ErrRejected indicates the peer refused an upload as malformed.
	ErrRejected = errors.New("peersync: upload rejected")

	// ErrNoSigner indicates a push was attempted without a store-owner key.
	ErrNoSigner = errors.New("peersync: no signer configured")

	// ErrInvalidPeer indicates a peer address could not be turned into a URL.
	ErrInvalidPeer = errors.New("peersync: invalid peer address")
)

// ResourceError reports which resource of which store failed, and on which
// peer when a single peer was involved.
type ResourceError struct {
	StoreID  string
	Resource string
	Peer     string
	Err      error
}

func (e *ResourceError) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s/%s from %s: %v", e.StoreID, e.Resource, e.Peer, e.Err)
	}
	return fmt.Sprintf("%s/%s: %v", e.StoreID, e.Resource, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// transient tags err so that Retry will try the operation again.
func transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}
