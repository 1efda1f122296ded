package peersync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dignetwork/digstore-go"
	"github.com/dignetwork/digstore-go/keys"
	"github.com/dignetwork/digstore-go/ledger"
	"github.com/dignetwork/digstore-go/merkle"
	"github.com/dignetwork/digstore-go/metrics"
	"github.com/dignetwork/digstore-go/network"
	"github.com/dignetwork/digstore-go/storage"
)

const (
	// DefaultSampleSize is how many peers are resolved for a store at once.
	DefaultSampleSize = 10

	// DefaultConcurrency bounds how many stores PullAll syncs in parallel.
	DefaultConcurrency = 4

	maxSnapshotSize = 64 << 20
)

// Transfer directions and resource kinds used in metrics and logs.
const (
	directionDownload = "download"
	directionUpload   = "upload"

	kindSnapshot = "snapshot"
	kindBlob     = "blob"
	kindHeight   = "height"
	kindManifest = "manifest"
	kindOther    = "other"
)

// Progress is reported after each file transferred.
type Progress struct {
	StoreID  string
	Peer     string
	Resource string
	Bytes    int64
	// Done and Total count roots on pull and files on push.
	Done  int
	Total int
}

// Engine keeps local store directories under a root directory in step with
// the peers serving them.
type Engine struct {
	catalog     network.PeerCatalog
	client      *Client
	rootDir     string
	self        string
	sampleSize  int
	concurrency int
	retry       RetryPolicy
	absent      AbsenceStore
	signer      keys.Signer
	metrics     *metrics.Registry
	logger      zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClient replaces the default HTTP client.
func WithClient(c *Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithSelf sets this node's public address so it is never picked as a peer.
func WithSelf(addr string) Option {
	return func(e *Engine) { e.self = normalizePeer(addr) }
}

// WithSampleSize sets how many peers are resolved at once.
func WithSampleSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.sampleSize = n
		}
	}
}

// WithConcurrency bounds PullAll.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithRetryPolicy replaces DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Engine) { e.retry = p }
}

// WithAbsenceStore replaces the in-memory absence store.
func WithAbsenceStore(s AbsenceStore) Option {
	return func(e *Engine) { e.absent = s }
}

// WithSigner sets the store-owner key used to authorize pushes.
func WithSigner(s keys.Signer) Option {
	return func(e *Engine) { e.signer = s }
}

// WithMetrics records transfers on r.
func WithMetrics(r *metrics.Registry) Option {
	return func(e *Engine) { e.metrics = r }
}

// WithLogger replaces the default component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine for the stores under rootDir.
func NewEngine(catalog network.PeerCatalog, rootDir string, opts ...Option) *Engine {
	e := &Engine{
		catalog:     catalog,
		client:      NewClient(nil, nil),
		rootDir:     rootDir,
		sampleSize:  DefaultSampleSize,
		concurrency: DefaultConcurrency,
		retry:       DefaultRetryPolicy(),
		absent:      NewMemAbsenceStore(0),
		logger:      digstore.Component("peersync"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StoreDir returns the local directory of id.
func (e *Engine) StoreDir(id ledger.StoreID) string {
	return filepath.Join(e.rootDir, id.String())
}

// PullOptions controls a pull.
type PullOptions struct {
	// Force downloads snapshots and blobs even when present locally, replacing them.
	Force    bool
	Progress func(Progress)
}

// PullResult summarizes a successful pull.
type PullResult struct {
	Roots     int
	Appended  int
	Snapshots int
	Blobs     int
	Bytes     int64
}

// Pull brings the local copy of id to the root history published in the
// catalog. Every snapshot is checked against its root and every blob against
// its content hash before it is kept. The manifest is repaired before and
// after, and new roots are appended in one write.
func (e *Engine) Pull(ctx context.Context, id ledger.StoreID, opts PullOptions) (*PullResult, error) {
	if _, err := ledger.ParseStoreID(id.String()); err != nil {
		return nil, err
	}
	dir := e.StoreDir(id)
	log := e.logger.With().Str("store", id.String()).Logger()

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrIOFailure, err)
	}
	blobs, err := storage.NewBlobStore(filepath.Join(dir, ledger.DataDir))
	if err != nil {
		return nil, err
	}
	if err := e.repair(dir, log); err != nil {
		return nil, err
	}

	history, err := e.rootHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	local, err := ledger.ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	for i := 0; i < len(local) && i < len(history); i++ {
		if local[i] != history[i] {
			return nil, fmt.Errorf("%w: index %d is %s locally, %s in history", ErrDiverged, i, local[i], history[i])
		}
	}
	if len(local) > len(history) {
		return nil, fmt.Errorf("%w: %d roots locally, %d in history", ErrDiverged, len(local), len(history))
	}

	s := e.newSession(id, log)
	if err := s.resolve(ctx, nil); err != nil {
		return nil, err
	}

	res := &PullResult{Roots: len(history)}
	fetched := make(map[merkle.Hash]struct{})
	var queued []merkle.Hash
	for i, root := range history {
		snap, err := s.pullSnapshot(ctx, dir, root, opts.Force, res)
		if err != nil {
			return nil, err
		}
		for _, hexKey := range sortedKeys(snap.Files) {
			hash := snap.Files[hexKey].SHA256
			if _, ok := fetched[hash]; ok {
				continue
			}
			if err := s.pullBlob(ctx, blobs, hash, opts.Force, res); err != nil {
				return nil, err
			}
			fetched[hash] = struct{}{}
		}
		if i >= len(local) {
			queued = append(queued, root)
		}
		if opts.Progress != nil {
			opts.Progress(Progress{
				StoreID:  id.String(),
				Resource: ledger.SnapshotName(root),
				Bytes:    res.Bytes,
				Done:     i + 1,
				Total:    len(history),
			})
		}
	}

	if err := ledger.AppendManifest(dir, queued...); err != nil {
		return nil, err
	}
	res.Appended = len(queued)

	s.pullHeight(ctx, dir, opts.Force)

	if err := e.repair(dir, log); err != nil {
		return nil, err
	}
	log.Info().
		Int("roots", res.Roots).
		Int("appended", res.Appended).
		Int("snapshots", res.Snapshots).
		Int("blobs", res.Blobs).
		Int64("bytes", res.Bytes).
		Msg("pull complete")
	return res, nil
}

// PullAll pulls several stores concurrently and stops at the first failure.
// Results of the stores that completed are returned either way.
func (e *Engine) PullAll(ctx context.Context, ids []ledger.StoreID, opts PullOptions) (map[ledger.StoreID]*PullResult, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	var mu sync.Mutex
	results := make(map[ledger.StoreID]*PullResult, len(ids))
	for _, id := range ids {
		id := id
		g.Go(func() error {
			res, err := e.Pull(ctx, id, opts)
			if err != nil {
				return fmt.Errorf("pull %s: %w", id, err)
			}
			mu.Lock()
			results[id] = res
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return results, err
}

func (e *Engine) repair(dir string, log zerolog.Logger) error {
	dropped, err := ledger.RepairManifest(dir)
	if err != nil {
		return err
	}
	if dropped > 0 {
		log.Warn().Int("dropped", dropped).Msg("repaired manifest")
	}
	return nil
}

func (e *Engine) rootHistory(ctx context.Context, id ledger.StoreID) ([]merkle.Hash, error) {
	records, err := e.catalog.RootHistory(ctx, id.String())
	if err != nil {
		if errors.Is(err, network.ErrNoRootHistory) {
			return nil, fmt.Errorf("%w: %s", ErrNoRootHistory, id)
		}
		return nil, fmt.Errorf("peersync: root history of %s: %w", id, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoRootHistory, id)
	}
	roots := make([]merkle.Hash, len(records))
	for i, r := range records {
		h, err := merkle.ParseHash(r.RootHash)
		if err != nil {
			return nil, fmt.Errorf("%w: root %d of %s: %w", network.ErrInvalidResponse, i, id, err)
		}
		roots[i] = h
	}
	return roots, nil
}

func (e *Engine) isSelf(peer string) bool {
	return e.self != "" && normalizePeer(peer) == e.self
}

func normalizePeer(addr string) string {
	a := strings.ToLower(strings.TrimRight(strings.TrimSpace(addr), "/"))
	if u, err := url.Parse(a); err == nil && u.Host != "" {
		return u.Host
	}
	return a
}

func resourceKind(rel string) string {
	switch {
	case strings.HasPrefix(rel, ledger.DataDir+"/"):
		return kindBlob
	case rel == ledger.ManifestFile:
		return kindManifest
	case rel == ledger.HeightFile:
		return kindHeight
	case strings.HasSuffix(rel, ledger.SnapshotExt):
		return kindSnapshot
	}
	return kindOther
}

func blobResource(hash merkle.Hash) string {
	return ledger.DataDir + "/" + storage.RelPath(hash.Bytes())
}

func sortedKeys(m map[string]ledger.SnapshotFile) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// session is the peer set and blacklist of one pull.
type session struct {
	e         *Engine
	storeID   string
	peers     []string
	blacklist *Blacklist
	log       zerolog.Logger
}

func (e *Engine) newSession(id ledger.StoreID, log zerolog.Logger) *session {
	return &session{e: e, storeID: id.String(), blacklist: NewBlacklist(), log: log}
}

// resolve replaces the peer set, asking the catalog to leave out exclude.
func (s *session) resolve(ctx context.Context, exclude []string) error {
	peers, err := s.e.catalog.ResolvePeers(ctx, s.storeID, s.e.sampleSize, exclude)
	if err != nil {
		return fmt.Errorf("peersync: resolve peers for %s: %w", s.storeID, err)
	}
	s.peers = s.peers[:0]
	for _, p := range peers {
		if !s.e.isSelf(p) {
			s.peers = append(s.peers, p)
		}
	}
	s.e.metrics.RecordPeerRefresh()
	s.log.Debug().Strs("peers", s.peers).Strs("exclude", exclude).Msg("resolved peers")
	return nil
}

// candidates returns the peers not yet failed or known to lack resource.
func (s *session) candidates(resource string) (ok, excluded []string) {
	excluded = s.blacklist.Peers(resource)
	for _, p := range s.peers {
		if s.blacklist.Contains(resource, p) {
			continue
		}
		absent, err := s.e.absent.IsAbsent(s.storeID, resource, p)
		if err != nil {
			s.log.Warn().Err(err).Msg("absence lookup failed")
		}
		if absent {
			excluded = append(excluded, p)
			continue
		}
		ok = append(ok, p)
	}
	return ok, excluded
}

// fetch hands resource to consume from the first peer that serves it. A
// peer that fails is blacklisted for resource and the next one is tried;
// once all have failed the peer set is resolved again. Integrity and local
// errors end the fetch at once.
func (s *session) fetch(ctx context.Context, resource string, consume func(io.Reader) (int64, error)) (int64, error) {
	for {
		peers, excluded := s.candidates(resource)
		if len(peers) == 0 {
			if err := s.resolve(ctx, excluded); err != nil {
				return 0, &ResourceError{StoreID: s.storeID, Resource: resource, Err: err}
			}
			if peers, _ = s.candidates(resource); len(peers) == 0 {
				return 0, &ResourceError{StoreID: s.storeID, Resource: resource, Err: ErrNoPeersAvailable}
			}
		}

		for _, p := range peers {
			n, err := s.try(ctx, p, resource, consume)
			if err == nil {
				if ferr := s.e.absent.Forget(s.storeID, resource); ferr != nil {
					s.log.Warn().Err(ferr).Msg("absence cleanup failed")
				}
				return n, nil
			}
			if ctx.Err() != nil {
				return 0, &ResourceError{StoreID: s.storeID, Resource: resource, Peer: p, Err: ctx.Err()}
			}
			absent := errors.Is(err, ErrResourceAbsent)
			if !absent && !errors.Is(err, ErrTransient) {
				return 0, &ResourceError{StoreID: s.storeID, Resource: resource, Peer: p, Err: err}
			}
			if absent {
				if merr := s.e.absent.MarkAbsent(s.storeID, resource, p); merr != nil {
					s.log.Warn().Err(merr).Msg("absence record failed")
				}
			}
			s.blacklist.Add(resource, p)
			s.e.metrics.RecordBlacklist(resourceKind(resource))
			s.log.Warn().Err(err).Str("peer", p).Str("resource", resource).Msg("peer blacklisted for resource")
		}
	}
}

func (s *session) try(ctx context.Context, peer, resource string, consume func(io.Reader) (int64, error)) (int64, error) {
	start := time.Now()
	var n int64
	err := Retry(ctx, s.e.retry, func() error {
		body, err := s.e.client.Fetch(ctx, peer, s.storeID, resource)
		if err != nil {
			return err
		}
		defer body.Close()
		n, err = consume(body)
		return err
	}, func(err error, wait time.Duration) {
		s.e.metrics.RecordRetry(directionDownload)
		s.log.Debug().Err(err).Str("peer", peer).Str("resource", resource).Dur("wait", wait).Msg("retrying download")
	})

	status := "ok"
	switch {
	case errors.Is(err, ErrResourceAbsent):
		status = "absent"
	case err != nil:
		status = "error"
	}
	s.e.metrics.RecordTransfer(directionDownload, resourceKind(resource), status, n, time.Since(start))
	return n, err
}

// pullSnapshot returns the snapshot of root, downloading it unless a valid
// copy is on disk and force is off.
func (s *session) pullSnapshot(ctx context.Context, dir string, root merkle.Hash, force bool, res *PullResult) (*ledger.Snapshot, error) {
	overwrite := force
	if !force {
		if _, err := os.Stat(ledger.SnapshotPath(dir, root)); err == nil {
			snap, err := ledger.ReadSnapshot(dir, root)
			if err == nil {
				if err = snap.Validate(); err == nil {
					return snap, nil
				}
			}
			s.log.Warn().Err(err).Str("root", root.String()).Msg("local snapshot invalid, downloading again")
			overwrite = true
		}
	}

	var snap *ledger.Snapshot
	n, err := s.fetch(ctx, ledger.SnapshotName(root), func(r io.Reader) (int64, error) {
		data, err := io.ReadAll(io.LimitReader(r, maxSnapshotSize+1))
		if err != nil {
			return 0, err
		}
		if len(data) > maxSnapshotSize {
			return 0, fmt.Errorf("%w: snapshot larger than %d bytes", ErrIntegrity, maxSnapshotSize)
		}
		snap, err = ledger.ImportSnapshot(dir, root, data, overwrite)
		if err != nil {
			if errors.Is(err, ledger.ErrRootMismatch) || errors.Is(err, ledger.ErrMalformedSnapshot) {
				return 0, fmt.Errorf("%w: %w", ErrIntegrity, err)
			}
			return 0, err
		}
		return int64(len(data)), nil
	})
	if err != nil {
		return nil, err
	}
	res.Snapshots++
	res.Bytes += n
	return snap, nil
}

// pullBlob downloads one blob unless it is present and force is off.
func (s *session) pullBlob(ctx context.Context, blobs *storage.BlobStore, hash merkle.Hash, force bool, res *PullResult) error {
	if !force {
		ok, err := blobs.Has(hash.Bytes())
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	n, err := s.fetch(ctx, blobResource(hash), func(r io.Reader) (int64, error) {
		cr := &countingReader{r: r}
		_, err := blobs.Import(hash.Bytes(), cr, force)
		if err != nil && errors.Is(err, storage.ErrIntegrity) && !errors.Is(err, ErrTransient) {
			err = fmt.Errorf("%w: %w", ErrIntegrity, err)
		}
		return cr.n, err
	})
	if err != nil {
		return err
	}
	res.Blobs++
	res.Bytes += n
	return nil
}

// pullHeight fetches height.dat. The marker is optional, so failures are
// only logged.
func (s *session) pullHeight(ctx context.Context, dir string, force bool) {
	if !force {
		if _, err := ledger.ReadHeight(dir); err == nil {
			return
		}
	}
	_, err := s.fetch(ctx, ledger.HeightFile, func(r io.Reader) (int64, error) {
		data, err := io.ReadAll(io.LimitReader(r, 1<<16))
		if err != nil {
			return 0, err
		}
		h, err := ledger.ParseHeight(data)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrIntegrity, err)
		}
		return int64(len(data)), ledger.WriteHeight(dir, h)
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("height marker not fetched")
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
