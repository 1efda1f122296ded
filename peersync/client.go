package peersync

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dignetwork/digstore-go/merkle"
)

// Wire headers shared with the peer server.
const (
	HeaderNonce            = "x-nonce"
	HeaderGenerationHash   = "x-generation-hash"
	HeaderLastUploadedHash = "x-last-uploaded-hash"
	HeaderGenerationIndex  = "x-generation-index"
	HeaderSignature        = "x-key-ownership-sig"
	HeaderPublicKey        = "x-public-key"
)

// DefaultTimeout bounds a single request, body included.
const DefaultTimeout = 5 * time.Minute

// Credentials are the Basic-auth pair a peer expects on uploads.
type Credentials struct {
	Username string
	Password string
}

// Client speaks the peer wire contract over HTTP.
type Client struct {
	http  *http.Client
	creds *Credentials
}

// NewClient creates a client. A nil httpClient uses one with DefaultTimeout.
func NewClient(httpClient *http.Client, creds *Credentials) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{http: httpClient, creds: creds}
}

// PeerURL builds the URL of rel within storeID on peer. Peers given as
// host:port are reached over plain http.
func PeerURL(peer, storeID, rel string) (string, error) {
	base := strings.TrimRight(peer, "/")
	if base == "" {
		return "", ErrInvalidPeer
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeer, peer)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + storeID
	if rel != "" {
		u.Path += "/" + strings.TrimLeft(rel, "/")
	}
	return u.String(), nil
}

// Fetch downloads rel of storeID from peer. The caller closes the body.
// A 404 yields ErrResourceAbsent; connection problems and other non-2xx
// answers yield ErrTransient.
func (c *Client) Fetch(ctx context.Context, peer, storeID, rel string) (io.ReadCloser, error) {
	target, err := PeerURL(peer, storeID, rel)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPeer, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transient(err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, ErrResourceAbsent
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: HTTP %d", ErrTransient, resp.StatusCode)
	}
	return &transientBody{resp.Body}, nil
}

// transientBody marks read failures as transient so that a dropped
// connection mid-transfer is retried.
type transientBody struct {
	io.ReadCloser
}

func (b *transientBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && err != io.EOF {
		err = transient(err)
	}
	return n, err
}

// Generation is what a peer reports about its copy of a store before a push.
type Generation struct {
	Nonce string
	// Known is false when the peer holds no manifest for the store.
	Known bool
	Hash  merkle.Hash
	Index int
}

// Preflight asks peer which generation of storeID it has and for an upload
// nonce.
func (c *Client) Preflight(ctx context.Context, peer, storeID string) (*Generation, error) {
	target, err := PeerURL(peer, storeID, "")
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPeer, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transient(err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrTransient, resp.StatusCode)
	}

	gen := &Generation{Nonce: resp.Header.Get(HeaderNonce), Index: -1}
	hashStr := resp.Header.Get(HeaderGenerationHash)
	if hashStr == "" {
		hashStr = resp.Header.Get(HeaderLastUploadedHash)
	}
	idxStr := resp.Header.Get(HeaderGenerationIndex)
	if hashStr == "" || idxStr == "" {
		return gen, nil
	}
	h, err := merkle.ParseHash(hashStr)
	if err != nil {
		return nil, fmt.Errorf("%w: generation hash: %w", ErrTransient, err)
	}
	idx, err := strconv.Atoi(idxStr)
	if err != nil || idx < 0 {
		return nil, fmt.Errorf("%w: generation index %q", ErrTransient, idxStr)
	}
	gen.Known, gen.Hash, gen.Index = true, h, idx
	return gen, nil
}

// Ownership proves the uploader holds a store-owner key.
type Ownership struct {
	Nonce     string
	PublicKey []byte
	Signature []byte
}

// Upload sends one file of storeID to peer. 401 and 403 yield
// ErrUnauthorized, other client errors ErrRejected; the rest are transient.
func (c *Client) Upload(ctx context.Context, peer, storeID, rel string, body io.Reader, size int64, own Ownership) error {
	target, err := PeerURL(peer, storeID, rel)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, body)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPeer, err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(HeaderNonce, own.Nonce)
	req.Header.Set(HeaderPublicKey, hex.EncodeToString(own.PublicKey))
	req.Header.Set(HeaderSignature, hex.EncodeToString(own.Signature))
	if c.creds != nil {
		req.SetBasicAuth(c.creds.Username, c.creds.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return transient(err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d", ErrRejected, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: HTTP %d", ErrTransient, resp.StatusCode)
	}
	return nil
}
