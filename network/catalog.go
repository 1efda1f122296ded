package network

import "context"

// RootRecord is one committed root in a store's authoritative history.
type RootRecord struct {
	RootHash  string `json:"rootHash"`
	Timestamp int64  `json:"timestamp"`
}

// PeerCatalog is the ledger-backed directory of stores: which peers hold a
// store, and which roots it has committed.
type PeerCatalog interface {
	// ResolvePeers returns up to sampleSize peer addresses serving storeID,
	// omitting any address in blacklist.
	ResolvePeers(ctx context.Context, storeID string, sampleSize int, blacklist []string) ([]string, error)

	// RootHistory returns the committed roots of storeID, oldest first.
	RootHistory(ctx context.Context, storeID string) ([]RootRecord, error)
}

// FilterPeers drops blacklisted and duplicate addresses and truncates the
// result to sampleSize when sampleSize is positive.
func FilterPeers(peers []string, sampleSize int, blacklist []string) []string {
	skip := make(map[string]struct{}, len(blacklist)+len(peers))
	for _, b := range blacklist {
		skip[b] = struct{}{}
	}
	out := make([]string, 0, len(peers))
	for _, p := range peers {
		if _, ok := skip[p]; ok || p == "" {
			continue
		}
		skip[p] = struct{}{}
		out = append(out, p)
		if sampleSize > 0 && len(out) == sampleSize {
			break
		}
	}
	return out
}

// StaticCatalog serves a fixed peer list and root history, for offline use
// and tests.
type StaticCatalog struct {
	Peers map[string][]string
	Roots map[string][]RootRecord
}

var _ PeerCatalog = (*StaticCatalog)(nil)

func (s *StaticCatalog) ResolvePeers(_ context.Context, storeID string, sampleSize int, blacklist []string) ([]string, error) {
	return FilterPeers(s.Peers[storeID], sampleSize, blacklist), nil
}

func (s *StaticCatalog) RootHistory(_ context.Context, storeID string) ([]RootRecord, error) {
	return append([]RootRecord(nil), s.Roots[storeID]...), nil
}
