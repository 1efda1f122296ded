package network

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rpcServer answers every request with handler(method, params).
func rpcServer(t *testing.T, handler func(method string, params []interface{}) (interface{}, *rpcError)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		result, rerr := handler(req.Method, req.Params)
		resp := rpcResponse{ID: req.ID, Error: rerr}
		if result != nil {
			raw, err := json.Marshal(result)
			require.NoError(t, err)
			resp.Result = raw
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRPCClientCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "testuser", user)
		assert.Equal(t, "testpass", pass)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "getblockcount", req.Method)

		resp := rpcResponse{ID: req.ID, Result: json.RawMessage(`100`)}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewRPCClient(RPCConfig{URL: server.URL, User: "testuser", Password: "testpass"})
	var height int
	err := client.Call(context.Background(), "getblockcount", nil, &height)
	require.NoError(t, err)
	assert.Equal(t, 100, height)
}

func TestRPCClientRPCError(t *testing.T) {
	server := rpcServer(t, func(string, []interface{}) (interface{}, *rpcError) {
		return nil, &rpcError{Code: -8, Message: "unknown store"}
	})

	client := NewRPCClient(RPCConfig{URL: server.URL})
	_, err := client.RootHistory(context.Background(), "ab")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store")
}

func TestRPCClientConnectionError(t *testing.T) {
	client := NewRPCClient(RPCConfig{URL: "http://localhost:1"})
	_, err := client.ResolvePeers(context.Background(), "ab", 10, nil)
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestRPCClientHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewRPCClient(RPCConfig{URL: server.URL})
	err := client.Call(context.Background(), "getstorepeers", nil, nil)
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestRPCClientIDMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(rpcResponse{ID: 999, Result: json.RawMessage(`1`)})
	}))
	defer server.Close()

	client := NewRPCClient(RPCConfig{URL: server.URL})
	var n int
	err := client.Call(context.Background(), "x", nil, &n)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestRPCClientContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client := NewRPCClient(RPCConfig{URL: server.URL})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.RootHistory(ctx, "ab")
	require.Error(t, err)
}

func TestRPCClientSequentialIDs(t *testing.T) {
	var ids []int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		ids = append(ids, req.ID)
		_ = json.NewEncoder(w).Encode(rpcResponse{ID: req.ID, Result: json.RawMessage(`[]`)})
	}))
	defer server.Close()

	client := NewRPCClient(RPCConfig{URL: server.URL})
	for i := 0; i < 3; i++ {
		_, _ = client.RootHistory(context.Background(), "ab")
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)
}

// --- Catalog methods ---

func TestRPCClientResolvePeers(t *testing.T) {
	server := rpcServer(t, func(method string, params []interface{}) (interface{}, *rpcError) {
		assert.Equal(t, methodStorePeers, method)
		require.Len(t, params, 3)
		assert.Equal(t, "store1", params[0])
		assert.Equal(t, float64(2), params[1])
		assert.Equal(t, []interface{}{"bad:1"}, params[2])
		return []string{"bad:1", "a:1", "a:1", "b:1", "c:1"}, nil
	})

	client := NewRPCClient(RPCConfig{URL: server.URL})
	peers, err := client.ResolvePeers(context.Background(), "store1", 2, []string{"bad:1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a:1", "b:1"}, peers)
}

func TestRPCClientRootHistory(t *testing.T) {
	r1 := "1111111111111111111111111111111111111111111111111111111111111111"
	r2 := "2222222222222222222222222222222222222222222222222222222222222222"
	server := rpcServer(t, func(method string, params []interface{}) (interface{}, *rpcError) {
		assert.Equal(t, methodStoreRoots, method)
		return []RootRecord{{RootHash: r1, Timestamp: 1}, {RootHash: r2, Timestamp: 2}}, nil
	})

	client := NewRPCClient(RPCConfig{URL: server.URL})
	roots, err := client.RootHistory(context.Background(), "store1")
	require.NoError(t, err)
	require.Len(t, roots, 2)
	assert.Equal(t, r1, roots[0].RootHash)
	assert.Equal(t, r2, roots[1].RootHash)
}

func TestRPCClientRootHistory_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		roots []RootRecord
	}{
		{"short hash", []RootRecord{{RootHash: "abc"}}},
		{"out of order", []RootRecord{
			{RootHash: "1111111111111111111111111111111111111111111111111111111111111111", Timestamp: 5},
			{RootHash: "2222222222222222222222222222222222222222222222222222222222222222", Timestamp: 4},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := rpcServer(t, func(string, []interface{}) (interface{}, *rpcError) {
				return tt.roots, nil
			})
			client := NewRPCClient(RPCConfig{URL: server.URL})
			_, err := client.RootHistory(context.Background(), "s")
			assert.ErrorIs(t, err, ErrInvalidResponse)
		})
	}
}
