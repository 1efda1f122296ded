package network

import (
	"context"
	"fmt"
)

// Ledger node methods backing PeerCatalog.
const (
	methodStorePeers = "getstorepeers"
	methodStoreRoots = "getstoreroots"
)

var _ PeerCatalog = (*RPCClient)(nil)

// ResolvePeers asks the node for peers serving storeID. The node samples from
// the peers that announced the store; blacklisted addresses are passed along
// and also filtered locally.
func (c *RPCClient) ResolvePeers(ctx context.Context, storeID string, sampleSize int, blacklist []string) ([]string, error) {
	if blacklist == nil {
		blacklist = []string{}
	}
	var peers []string
	if err := c.Call(ctx, methodStorePeers, []interface{}{storeID, sampleSize, blacklist}, &peers); err != nil {
		return nil, err
	}
	return FilterPeers(peers, sampleSize, blacklist), nil
}

// RootHistory fetches the committed roots of storeID, oldest first.
func (c *RPCClient) RootHistory(ctx context.Context, storeID string) ([]RootRecord, error) {
	var roots []RootRecord
	if err := c.Call(ctx, methodStoreRoots, []interface{}{storeID}, &roots); err != nil {
		return nil, err
	}
	for i, r := range roots {
		if len(r.RootHash) != 64 {
			return nil, fmt.Errorf("%w: root %d is %q", ErrInvalidResponse, i, r.RootHash)
		}
		if i > 0 && r.Timestamp < roots[i-1].Timestamp {
			return nil, fmt.Errorf("%w: root history out of order at %d", ErrInvalidResponse, i)
		}
	}
	return roots, nil
}
