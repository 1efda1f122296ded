package peersync

import (
	"context"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dignetwork/digstore-go/merkle"
)

// --- PeerURL tests ---

func TestPeerURL(t *testing.T) {
	tests := []struct {
		peer, rel, want string
	}{
		{"host:4159", "manifest.dat", "http://host:4159/s/manifest.dat"},
		{"https://host:4159/", "data/ab/cd", "https://host:4159/s/data/ab/cd"},
		{"http://host/base/", "", "http://host/base/s"},
		{"10.0.0.1:80", "/x.dat", "http://10.0.0.1:80/s/x.dat"},
	}
	for _, tt := range tests {
		t.Run(tt.peer, func(t *testing.T) {
			got, err := PeerURL(tt.peer, "s", tt.rel)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPeerURL_Invalid(t *testing.T) {
	for _, p := range []string{"", "bad host", "://nohost"} {
		_, err := PeerURL(p, "s", "")
		assert.ErrorIs(t, err, ErrInvalidPeer, p)
	}
}

// --- Fetch tests ---

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/s/ok":
			_, _ = w.Write([]byte("payload"))
		case "/s/boom":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	c := NewClient(srv.Client(), nil)

	body, err := c.Fetch(context.Background(), srv.URL, "s", "ok")
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	assert.Equal(t, "payload", string(data))

	_, err = c.Fetch(context.Background(), srv.URL, "s", "missing")
	assert.ErrorIs(t, err, ErrResourceAbsent)

	_, err = c.Fetch(context.Background(), srv.URL, "s", "boom")
	assert.ErrorIs(t, err, ErrTransient)
}

func TestFetch_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := NewClient(nil, nil).Fetch(context.Background(), addr, "s", "x")
	assert.ErrorIs(t, err, ErrTransient)
}

// --- Preflight tests ---

func TestPreflight(t *testing.T) {
	gen := merkle.Sum([]byte("gen"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set(HeaderNonce, "n-1")
		if r.URL.Path == "/known" {
			w.Header().Set(HeaderGenerationHash, gen.String())
			w.Header().Set(HeaderGenerationIndex, "4")
		}
		if r.URL.Path == "/legacy" {
			w.Header().Set(HeaderLastUploadedHash, gen.String())
			w.Header().Set(HeaderGenerationIndex, "1")
		}
		if r.URL.Path == "/bad" {
			w.Header().Set(HeaderGenerationHash, "zz")
			w.Header().Set(HeaderGenerationIndex, "1")
		}
	}))
	defer srv.Close()
	c := NewClient(srv.Client(), nil)

	g, err := c.Preflight(context.Background(), srv.URL, "known")
	require.NoError(t, err)
	assert.Equal(t, &Generation{Nonce: "n-1", Known: true, Hash: gen, Index: 4}, g)

	g, err = c.Preflight(context.Background(), srv.URL, "legacy")
	require.NoError(t, err)
	assert.True(t, g.Known)
	assert.Equal(t, 1, g.Index)

	g, err = c.Preflight(context.Background(), srv.URL, "fresh")
	require.NoError(t, err)
	assert.False(t, g.Known)
	assert.Equal(t, -1, g.Index)
	assert.Equal(t, "n-1", g.Nonce)

	_, err = c.Preflight(context.Background(), srv.URL, "bad")
	assert.Error(t, err)
}

// --- Upload tests ---

func TestUpload(t *testing.T) {
	var got struct {
		path, nonce, pub, sig, user, pass, body string
		length                               int64
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		got.path = r.URL.Path
		got.nonce = r.Header.Get(HeaderNonce)
		got.pub = r.Header.Get(HeaderPublicKey)
		got.sig = r.Header.Get(HeaderSignature)
		got.user, got.pass, _ = r.BasicAuth()
		got.length = r.ContentLength
		data, _ := io.ReadAll(r.Body)
		got.body = string(data)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), &Credentials{Username: "dig", Password: "secret"})
	own := Ownership{Nonce: "n", PublicKey: []byte{2, 3}, Signature: []byte{0x30, 1}}
	err := c.Upload(context.Background(), srv.URL, "s", "data/ab/cd", strings.NewReader("blob"), 4, own)
	require.NoError(t, err)

	assert.Equal(t, "/s/data/ab/cd", got.path)
	assert.Equal(t, "n", got.nonce)
	assert.Equal(t, hex.EncodeToString([]byte{2, 3}), got.pub)
	assert.Equal(t, "3001", got.sig)
	assert.Equal(t, "dig", got.user)
	assert.Equal(t, "secret", got.pass)
	assert.Equal(t, int64(4), got.length)
	assert.Equal(t, "blob", got.body)
}

func TestUpload_Statuses(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrUnauthorized},
		{http.StatusBadRequest, ErrRejected},
		{http.StatusTooManyRequests, ErrTransient},
		{http.StatusBadGateway, ErrTransient},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()
			err := NewClient(srv.Client(), nil).Upload(context.Background(), srv.URL, "s", "f", strings.NewReader("x"), 1, Ownership{})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
