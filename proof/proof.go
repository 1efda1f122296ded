// Package proof produces and checks portable inclusion proofs for store keys,
// against local history or against state claimed by a remote peer.
package proof

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/dignetwork/digstore-go"
	"github.com/dignetwork/digstore-go/ledger"
	"github.com/dignetwork/digstore-go/merkle"
	"github.com/dignetwork/digstore-go/peersync"
	"github.com/dignetwork/digstore-go/storage"
)

// MaxSnapshotSize bounds a snapshot downloaded for a peer check.
const MaxSnapshotSize = 64 << 20

// Service wraps a ledger with proof operations.
type Service struct {
	ledger *ledger.Ledger
	retry  peersync.RetryPolicy
	logger zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithRetryPolicy sets the policy for peer downloads in CheckPeer.
func WithRetryPolicy(p peersync.RetryPolicy) Option {
	return func(s *Service) { s.retry = p }
}

// WithLogger replaces the default component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a service over l. l may be nil when only foreign
// snapshots and peers are checked.
func NewService(l *ledger.Ledger, opts ...Option) *Service {
	s := &Service{
		ledger: l,
		retry:  peersync.DefaultRetryPolicy(),
		logger: digstore.Component("proof"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Prove returns a token proving hexKey held contentHash at root, or at the
// last committed root when root is nil.
func (s *Service) Prove(hexKey string, contentHash merkle.Hash, root *merkle.Hash) (string, error) {
	if s.ledger == nil {
		return "", ErrNoLedger
	}
	return s.ledger.GetProof(hexKey, contentHash, root)
}

// Verify reports whether token proves contentHash against local history.
func (s *Service) Verify(token string, contentHash merkle.Hash) bool {
	if s.ledger == nil {
		return false
	}
	return s.ledger.VerifyProof(token, contentHash)
}

// VerifyAgainstForeignSnapshot reports whether snapshotBlob is a well-formed
// snapshot for rootHash in which hexKey holds contentHash. Nothing from the
// local store is consulted.
func VerifyAgainstForeignSnapshot(hexKey string, contentHash merkle.Hash, snapshotBlob []byte, rootHash merkle.Hash) bool {
	_, ok := foreignEntry(hexKey, contentHash, snapshotBlob, rootHash)
	return ok
}

func foreignEntry(hexKey string, contentHash merkle.Hash, snapshotBlob []byte, rootHash merkle.Hash) (ledger.FileEntry, bool) {
	snap, err := ledger.ParseSnapshot(snapshotBlob)
	if err != nil || snap.Root != rootHash || snap.Validate() != nil {
		return ledger.FileEntry{}, false
	}
	e, err := snap.Lookup(hexKey)
	if err != nil || e.ContentHash != contentHash {
		return ledger.FileEntry{}, false
	}
	key, err := ledger.DecodeKey(hexKey)
	if err != nil {
		return ledger.FileEntry{}, false
	}
	path, err := merkle.Build(snap.Leaves).Proof(ledger.CombinedHash(key, contentHash))
	if err != nil || !merkle.Verify(path, ledger.CombinedHash(key, contentHash), rootHash) {
		return ledger.FileEntry{}, false
	}
	return e, true
}

// CheckPeer reports whether peer serves root of storeID with hexKey in it and
// the key's content intact. The snapshot is checked structurally before its
// entry is trusted. A peer that answers with wrong data yields false; a peer
// that cannot be reached yields an error.
func (s *Service) CheckPeer(ctx context.Context, client *peersync.Client, storeID ledger.StoreID, peer string, root merkle.Hash, hexKey string) (bool, error) {
	log := s.logger.With().Str("store", storeID.String()).Str("peer", peer).Str("root", root.String()).Logger()

	var snapData []byte
	err := peersync.Retry(ctx, s.retry, func() error {
		var err error
		snapData, err = s.download(ctx, client, storeID, peer, ledger.SnapshotName(root))
		return err
	}, nil)
	if err != nil {
		return false, err
	}
	snap, err := ledger.ParseSnapshot(snapData)
	if err != nil {
		log.Warn().Err(err).Msg("peer served malformed snapshot")
		return false, nil
	}
	e, err := snap.Lookup(hexKey)
	if err != nil {
		log.Debug().Str("key", hexKey).Msg("key not in peer snapshot")
		return false, nil
	}
	if _, ok := foreignEntry(hexKey, e.ContentHash, snapData, root); !ok {
		log.Warn().Str("key", hexKey).Msg("peer snapshot fails verification")
		return false, nil
	}

	var intact bool
	err = peersync.Retry(ctx, s.retry, func() error {
		var err error
		intact, err = s.checkBlob(ctx, client, storeID, peer, e.ContentHash)
		return err
	}, nil)
	if err != nil {
		return false, err
	}
	if !intact {
		log.Warn().Str("key", hexKey).Str("hash", e.ContentHash.String()).Msg("peer blob does not match content hash")
	}
	return intact, nil
}

func (s *Service) download(ctx context.Context, client *peersync.Client, storeID ledger.StoreID, peer, rel string) ([]byte, error) {
	body, err := client.Fetch(ctx, peer, storeID.String(), rel)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	data, err := io.ReadAll(io.LimitReader(body, MaxSnapshotSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxSnapshotSize {
		return nil, ErrSnapshotTooLarge
	}
	return data, nil
}

// checkBlob streams the peer's blob through the decompressor and compares
// its hash.
func (s *Service) checkBlob(ctx context.Context, client *peersync.Client, storeID ledger.StoreID, peer string, hash merkle.Hash) (bool, error) {
	body, err := client.Fetch(ctx, peer, storeID.String(), ledger.DataDir+"/"+storage.RelPath(hash.Bytes()))
	if err != nil {
		return false, err
	}
	defer body.Close()

	zr, err := storage.NewDecompressReader(body)
	if err != nil {
		if errors.Is(err, peersync.ErrTransient) {
			return false, err
		}
		return false, nil
	}
	defer zr.Close()

	h := sha256.New()
	if _, err := io.Copy(h, zr); err != nil {
		if errors.Is(err, peersync.ErrTransient) {
			return false, err
		}
		return false, nil
	}
	return bytes.Equal(h.Sum(nil), hash.Bytes()), nil
}

// Describe summarizes a token for display.
func Describe(token string) (string, error) {
	t, err := ledger.DecodeToken(token)
	if err != nil {
		return "", err
	}
	path, err := t.Siblings()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("key %s at root %s (%d siblings)", t.Key, t.RootHash, len(path)), nil
}
