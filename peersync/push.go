package peersync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dignetwork/digstore-go/ledger"
	"github.com/dignetwork/digstore-go/merkle"
)

// PushOptions controls a push.
type PushOptions struct {
	// Bulk sends every file of the store regardless of what the peer has.
	Bulk     bool
	Progress func(Progress)
}

// PushResult summarizes a successful push.
type PushResult struct {
	Files int
	Bytes int64
	// Generation is the index of the last root the peer now holds.
	Generation int
}

// Push sends peer the files of id it does not have yet, as determined by the
// generation it reports. Each file is retried on transient failures; there is
// no failover to other peers, and a file that still fails aborts the push.
// The first rejected upload fetches and signs a new nonce once before the
// push gives up.
func (e *Engine) Push(ctx context.Context, id ledger.StoreID, peer string, opts PushOptions) (*PushResult, error) {
	if e.signer == nil {
		return nil, ErrNoSigner
	}
	dir := e.StoreDir(id)
	log := e.logger.With().Str("store", id.String()).Str("peer", peer).Logger()

	manifest, err := ledger.ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	if len(manifest) == 0 {
		return nil, ledger.ErrNoCommits
	}

	var gen *Generation
	err = Retry(ctx, e.retry, func() error {
		var err error
		gen, err = e.client.Preflight(ctx, peer, id.String())
		return err
	}, e.notifyUpload(log, ""))
	if err != nil {
		return nil, &ResourceError{StoreID: id.String(), Peer: peer, Err: err}
	}

	var files []string
	if opts.Bulk {
		files, err = e.AllFiles(id)
	} else {
		idx := -1
		if gen.Known {
			if gen.Index >= len(manifest) || manifest[gen.Index] != gen.Hash {
				return nil, fmt.Errorf("%w: peer %s reports %s at index %d", ErrDiverged, peer, gen.Hash, gen.Index)
			}
			idx = gen.Index
		}
		files, err = e.DeltaFiles(id, idx)
	}
	if err != nil {
		return nil, err
	}

	res := &PushResult{Generation: len(manifest) - 1}
	if len(files) == 0 {
		log.Info().Int("generation", res.Generation).Msg("peer up to date")
		return res, nil
	}

	own, err := e.ownership(gen.Nonce)
	if err != nil {
		return nil, err
	}

	renewed := false
	for i, rel := range files {
		n, err := e.uploadFile(ctx, log, peer, id, rel, own)
		if errors.Is(err, ErrUnauthorized) && !renewed {
			// The nonce may have expired during a long push.
			renewed = true
			log.Debug().Str("resource", rel).Msg("upload rejected, renewing nonce")
			own, err = e.renewOwnership(ctx, log, peer, id)
			if err == nil {
				n, err = e.uploadFile(ctx, log, peer, id, rel, own)
			}
		}
		if err != nil {
			return nil, &ResourceError{StoreID: id.String(), Resource: rel, Peer: peer, Err: err}
		}
		res.Files++
		res.Bytes += n
		if opts.Progress != nil {
			opts.Progress(Progress{
				StoreID:  id.String(),
				Peer:     peer,
				Resource: rel,
				Bytes:    n,
				Done:     i + 1,
				Total:    len(files),
			})
		}
	}
	log.Info().Int("files", res.Files).Int64("bytes", res.Bytes).Int("generation", res.Generation).Msg("push complete")
	return res, nil
}

func (e *Engine) ownership(nonce string) (Ownership, error) {
	sig, err := e.signer.SignNonce(nonce)
	if err != nil {
		return Ownership{}, err
	}
	return Ownership{Nonce: nonce, PublicKey: e.signer.PublicKeyBytes(), Signature: sig}, nil
}

// renewOwnership asks peer for a fresh nonce and signs it.
func (e *Engine) renewOwnership(ctx context.Context, log zerolog.Logger, peer string, id ledger.StoreID) (Ownership, error) {
	var gen *Generation
	err := Retry(ctx, e.retry, func() error {
		var err error
		gen, err = e.client.Preflight(ctx, peer, id.String())
		return err
	}, e.notifyUpload(log, ""))
	if err != nil {
		return Ownership{}, err
	}
	return e.ownership(gen.Nonce)
}

func (e *Engine) uploadFile(ctx context.Context, log zerolog.Logger, peer string, id ledger.StoreID, rel string, own Ownership) (int64, error) {
	p := filepath.Join(e.StoreDir(id), filepath.FromSlash(rel))
	start := time.Now()
	var size int64
	err := Retry(ctx, e.retry, func() error {
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("%w: %w", ledger.ErrIOFailure, err)
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("%w: %w", ledger.ErrIOFailure, err)
		}
		size = info.Size()
		return e.client.Upload(ctx, peer, id.String(), rel, f, size, own)
	}, e.notifyUpload(log, rel))

	status := "ok"
	if err != nil {
		status = "error"
	}
	e.metrics.RecordTransfer(directionUpload, resourceKind(rel), status, size, time.Since(start))
	return size, err
}

func (e *Engine) notifyUpload(log zerolog.Logger, rel string) func(error, time.Duration) {
	return func(err error, wait time.Duration) {
		e.metrics.RecordRetry(directionUpload)
		log.Debug().Err(err).Str("resource", rel).Dur("wait", wait).Msg("retrying upload")
	}
}

// DeltaFiles lists, as slash-separated paths relative to the store directory,
// the files a peer at generationIndex is missing: blobs first, then snapshots,
// then height.dat, and manifest.dat last so that a peer only advances its
// generation once the content has arrived. An index of -1 means the peer
// has nothing; an index at or past the manifest tail yields no files.
func (e *Engine) DeltaFiles(id ledger.StoreID, generationIndex int) ([]string, error) {
	dir := e.StoreDir(id)
	manifest, err := ledger.ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	if generationIndex < -1 {
		generationIndex = -1
	}
	if generationIndex >= len(manifest)-1 {
		return nil, nil
	}

	have := make(map[merkle.Hash]struct{})
	if generationIndex >= 0 {
		base, err := ledger.ReadSnapshot(dir, manifest[generationIndex])
		if err != nil {
			return nil, err
		}
		for _, f := range base.Files {
			have[f.SHA256] = struct{}{}
		}
	}

	var blobs, snaps []string
	sent := make(map[merkle.Hash]struct{})
	for _, root := range manifest[generationIndex+1:] {
		if _, ok := sent[root]; ok {
			continue
		}
		sent[root] = struct{}{}
		snap, err := ledger.ReadSnapshot(dir, root)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, ledger.SnapshotName(root))
		for _, hexKey := range sortedKeys(snap.Files) {
			h := snap.Files[hexKey].SHA256
			if _, ok := have[h]; ok {
				continue
			}
			have[h] = struct{}{}
			blobs = append(blobs, blobResource(h))
		}
	}

	files := append(blobs, snaps...)
	if _, err := os.Stat(filepath.Join(dir, ledger.HeightFile)); err == nil {
		files = append(files, ledger.HeightFile)
	}
	return append(files, ledger.ManifestFile), nil
}

// AllFiles lists every regular file of the store, skipping dot files, with
// manifest.dat last.
func (e *Engine) AllFiles(id ledger.StoreID) ([]string, error) {
	dir := e.StoreDir(id)
	var files []string
	hasManifest := false
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && p != dir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == ledger.ManifestFile {
			hasManifest = true
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ledger.ErrNoCommits
		}
		return nil, fmt.Errorf("%w: %w", ledger.ErrIOFailure, err)
	}
	sort.Slice(files, func(i, j int) bool {
		bi, bj := path.Dir(files[i]) != ".", path.Dir(files[j]) != "."
		if bi != bj {
			return bi
		}
		return files[i] < files[j]
	})
	if hasManifest {
		files = append(files, ledger.ManifestFile)
	}
	return files, nil
}
