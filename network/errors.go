package network

import "errors"

var (
	// ErrConnectionFailed indicates the client could not reach the ledger node.
	ErrConnectionFailed = errors.New("network: connection failed")

	// ErrInvalidResponse indicates the node returned a malformed or unexpected response.
	ErrInvalidResponse = errors.New("network: invalid response")

	// ErrNoRootHistory indicates the ledger knows no committed root for a store.
	ErrNoRootHistory = errors.New("network: store has no root history")

	// ErrDNSLookupFailed indicates a DNS seed query failed.
	ErrDNSLookupFailed = errors.New("network: DNS lookup failed")

	// ErrDNSSECValidationFailed indicates the resolver did not authenticate a seed answer.
	ErrDNSSECValidationFailed = errors.New("network: DNSSEC validation failed")
)
