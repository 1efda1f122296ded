package network

import "context"

// MockPeerCatalog is a test double for PeerCatalog.
// All function fields must be set before the corresponding method is called.
type MockPeerCatalog struct {
	ResolvePeersFn func(ctx context.Context, storeID string, sampleSize int, blacklist []string) ([]string, error)
	RootHistoryFn  func(ctx context.Context, storeID string) ([]RootRecord, error)
}

func (m *MockPeerCatalog) ResolvePeers(ctx context.Context, storeID string, sampleSize int, blacklist []string) ([]string, error) {
	return m.ResolvePeersFn(ctx, storeID, sampleSize, blacklist)
}
func (m *MockPeerCatalog) RootHistory(ctx context.Context, storeID string) ([]RootRecord, error) {
	return m.RootHistoryFn(ctx, storeID)
}
