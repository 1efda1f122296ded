package peersync

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dignetwork/digstore-go/ledger"
	"github.com/dignetwork/digstore-go/merkle"
	"github.com/dignetwork/digstore-go/network"
)

// --- Helper functions ---

var (
	storeA = ledger.StoreID(strings.Repeat("a", 64))
	storeB = ledger.StoreID(strings.Repeat("b", 64))
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 2, InitialDelay: time.Millisecond, Multiplier: 1.5, MaxDelay: 2 * time.Millisecond}
}

// buildStore commits an empty store, then one key per value, returning the
// root history [Z, R1, ...].
func buildStore(t *testing.T, rootDir string, id ledger.StoreID, values ...string) []merkle.Hash {
	t.Helper()
	l, err := ledger.Open(rootDir, id)
	require.NoError(t, err)
	_, _, err = l.Commit()
	require.NoError(t, err)
	for i, v := range values {
		_, _, err := l.UpsertKey(strings.NewReader(v), []byte{byte('a' + i)})
		require.NoError(t, err)
		_, _, err = l.Commit()
		require.NoError(t, err)
	}
	roots, err := l.Manifest()
	require.NoError(t, err)
	return roots
}

func records(roots []merkle.Hash) []network.RootRecord {
	out := make([]network.RootRecord, len(roots))
	for i, r := range roots {
		out[i] = network.RootRecord{RootHash: r.String(), Timestamp: int64(i + 1)}
	}
	return out
}

// filePeer serves the store directories under dir over the GET wire
// contract, with per-resource failure and content overrides.
type filePeer struct {
	dir string

	mu       sync.Mutex
	status   map[string]int
	override map[string][]byte
	hits     map[string]int
}

func newFilePeer(t *testing.T, dir string) (*filePeer, *httptest.Server) {
	t.Helper()
	p := &filePeer{
		dir:      dir,
		status:   make(map[string]int),
		override: make(map[string][]byte),
		hits:     make(map[string]int),
	}
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)
	return p, srv
}

func (p *filePeer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(r.URL.Path, "/")
	p.mu.Lock()
	p.hits[rel]++
	status, failing := p.status[rel]
	body, overridden := p.override[rel]
	p.mu.Unlock()

	switch {
	case failing:
		http.Error(w, "injected", status)
	case overridden:
		_, _ = w.Write(body)
	default:
		data, err := os.ReadFile(filepath.Join(p.dir, filepath.FromSlash(rel)))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	}
}

func (p *filePeer) fail(id ledger.StoreID, rel string, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status[id.String()+"/"+rel] = status
}

func (p *filePeer) serve(id ledger.StoreID, rel string, body []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.override[id.String()+"/"+rel] = bytes.Clone(body)
}

func (p *filePeer) hitCount(id ledger.StoreID, rel string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits[id.String()+"/"+rel]
}

func newTestEngine(catalog network.PeerCatalog, rootDir string, opts ...Option) *Engine {
	opts = append([]Option{WithRetryPolicy(fastPolicy())}, opts...)
	return NewEngine(catalog, rootDir, opts...)
}
