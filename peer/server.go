// Package peer serves store replicas to other nodes: files are downloaded
// with GET, and store owners upload new generations with signed PUTs.
package peer

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/dignetwork/digstore-go"
	"github.com/dignetwork/digstore-go/keys"
	"github.com/dignetwork/digstore-go/ledger"
	"github.com/dignetwork/digstore-go/merkle"
	"github.com/dignetwork/digstore-go/metrics"
	"github.com/dignetwork/digstore-go/peersync"
	"github.com/dignetwork/digstore-go/storage"
)

const (
	// DefaultMaxUploadSize bounds a single PUT body.
	DefaultMaxUploadSize = 1 << 30

	maxMetadataSize = 64 << 20
)

// Server implements the peer wire contract over the store directories under
// a root directory.
type Server struct {
	rootDir       string
	nonces        *keys.NonceIssuer
	writers       *Writers
	creds         *Credentials
	maxUploadSize int64
	metrics       *metrics.Registry
	logger        zerolog.Logger

	// mu serializes uploads so that manifest checks see finished files.
	mu sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithCredentials requires Basic auth on uploads.
func WithCredentials(c *Credentials) Option {
	return func(s *Server) { s.creds = c }
}

// WithMaxUploadSize overrides DefaultMaxUploadSize.
func WithMaxUploadSize(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadSize = n
		}
	}
}

// WithMetrics records requests on r.
func WithMetrics(r *metrics.Registry) Option {
	return func(s *Server) { s.metrics = r }
}

// WithLogger replaces the default component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a server for rootDir. Uploads must carry a nonce from
// nonces signed by a key in writers. writers must not be changed while the
// server runs.
func NewServer(rootDir string, nonces *keys.NonceIssuer, writers *Writers, opts ...Option) *Server {
	if writers == nil {
		writers = NewWriters()
	}
	s := &Server{
		rootDir:       rootDir,
		nonces:        nonces,
		writers:       writers,
		maxUploadSize: DefaultMaxUploadSize,
		logger:        digstore.Component("peer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP routes of the wire contract.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Head("/{storeID}", s.handlePreflight)
	r.Get("/{storeID}/*", s.handleGet)
	r.Head("/{storeID}/*", s.handleGet)
	r.Put("/{storeID}/*", s.handlePut)
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.RecordHTTPRequest(r.Method, strconv.Itoa(status))
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) storeDir(r *http.Request) (ledger.StoreID, string, bool) {
	id, err := ledger.ParseStoreID(chi.URLParam(r, "storeID"))
	if err != nil {
		return "", "", false
	}
	return id, filepath.Join(s.rootDir, id.String()), true
}

// handlePreflight issues an upload nonce and reports the generation held.
func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	id, dir, ok := s.storeDir(r)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	nonce, err := s.nonces.Issue(id.String())
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set(peersync.HeaderNonce, nonce)

	manifest, err := ledger.ReadManifest(dir)
	if err != nil {
		s.logger.Warn().Err(err).Str("store", id.String()).Msg("manifest unreadable")
	}
	if n := len(manifest); n > 0 {
		w.Header().Set(peersync.HeaderGenerationHash, manifest[n-1].String())
		w.Header().Set(peersync.HeaderLastUploadedHash, manifest[n-1].String())
		w.Header().Set(peersync.HeaderGenerationIndex, strconv.Itoa(n-1))
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	_, dir, ok := s.storeDir(r)
	if !ok {
		http.Error(w, ErrInvalidPath.Error(), http.StatusBadRequest)
		return
	}
	rel, err := cleanRel(chi.URLParam(r, "*"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f, err := os.Open(filepath.Join(dir, filepath.FromSlash(rel)))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeContent(w, r, "", info.ModTime(), f)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	id, dir, ok := s.storeDir(r)
	if !ok {
		http.Error(w, ErrInvalidPath.Error(), http.StatusBadRequest)
		return
	}
	log := s.logger.With().Str("store", id.String()).Logger()

	if status, reason := s.authorize(r, id); status != 0 {
		log.Warn().Str("reason", reason).Str("remote", r.RemoteAddr).Msg("upload refused")
		if status == http.StatusUnauthorized && s.creds != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="digstore"`)
		}
		http.Error(w, reason, status)
		return
	}

	rel, err := cleanRel(chi.URLParam(r, "*"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	body := http.MaxBytesReader(w, r.Body, s.maxUploadSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(dir, 0700); err != nil {
		http.Error(w, "storage unavailable", http.StatusInternalServerError)
		return
	}

	if err := s.store(log, dir, rel, body); err != nil {
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, ErrManifestConflict):
			status = http.StatusConflict
		case errors.Is(err, storage.ErrIOFailure), errors.Is(err, ledger.ErrIOFailure):
			status = http.StatusInternalServerError
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			status = http.StatusRequestEntityTooLarge
		}
		log.Warn().Err(err).Str("resource", rel).Msg("upload failed")
		http.Error(w, err.Error(), status)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// authorize checks Basic auth, the nonce and the ownership signature. It
// returns a zero status when the upload may proceed.
func (s *Server) authorize(r *http.Request, id ledger.StoreID) (int, string) {
	if s.creds != nil {
		user, pass, ok := r.BasicAuth()
		if !ok || !s.creds.Check(user, pass) {
			return http.StatusUnauthorized, "invalid credentials"
		}
	}
	nonce := r.Header.Get(peersync.HeaderNonce)
	if nonce == "" || !s.nonces.Valid(id.String(), nonce) {
		return http.StatusUnauthorized, "invalid or expired nonce"
	}
	pub, err := hex.DecodeString(r.Header.Get(peersync.HeaderPublicKey))
	if err != nil {
		return http.StatusUnauthorized, "invalid public key"
	}
	sig, err := hex.DecodeString(r.Header.Get(peersync.HeaderSignature))
	if err != nil || !keys.VerifyNonce(pub, nonce, sig) {
		return http.StatusUnauthorized, "invalid ownership signature"
	}
	if !s.writers.Authorized(id.String(), pub) {
		return http.StatusForbidden, "key not authorized for store"
	}
	return 0, ""
}

// store validates one uploaded file by kind and moves it into place.
func (s *Server) store(log zerolog.Logger, dir, rel string, body io.Reader) error {
	switch {
	case strings.HasPrefix(rel, ledger.DataDir+"/"):
		hash, err := storage.HashFromRelPath(strings.TrimPrefix(rel, ledger.DataDir+"/"))
		if err != nil {
			return err
		}
		blobs, err := storage.NewBlobStore(filepath.Join(dir, ledger.DataDir))
		if err != nil {
			return err
		}
		_, err = blobs.Import(hash, body, false)
		return err

	case rel == ledger.ManifestFile:
		data, err := readLimited(body)
		if err != nil {
			return err
		}
		n, err := s.acceptManifest(dir, data)
		if err != nil {
			return err
		}
		log.Info().Int("generation", n-1).Msg("new generation uploaded")
		return nil

	case rel == ledger.HeightFile:
		data, err := readLimited(body)
		if err != nil {
			return err
		}
		h, err := ledger.ParseHeight(data)
		if err != nil {
			return err
		}
		return ledger.WriteHeight(dir, h)

	case strings.HasSuffix(rel, ledger.SnapshotExt) && !strings.Contains(rel, "/"):
		root, err := merkle.ParseHash(strings.TrimSuffix(rel, ledger.SnapshotExt))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPath, err)
		}
		data, err := readLimited(body)
		if err != nil {
			return err
		}
		_, err = ledger.ImportSnapshot(dir, root, data, false)
		return err
	}
	return fmt.Errorf("%w: %s", ErrInvalidPath, rel)
}

// acceptManifest appends the roots of an uploaded manifest that extends the
// local one. Every root must have its snapshot here already.
func (s *Server) acceptManifest(dir string, data []byte) (int, error) {
	roots, err := ledger.ParseManifest(data)
	if err != nil {
		return 0, err
	}
	local, err := ledger.ReadManifest(dir)
	if err != nil {
		return 0, err
	}
	if len(roots) < len(local) {
		return 0, fmt.Errorf("%w: %d roots would replace %d", ErrManifestConflict, len(roots), len(local))
	}
	for i, r := range local {
		if roots[i] != r {
			return 0, fmt.Errorf("%w: root %d differs", ErrManifestConflict, i)
		}
	}
	added := roots[len(local):]
	for _, r := range added {
		if _, err := ledger.ReadSnapshot(dir, r); err != nil {
			return 0, fmt.Errorf("%w: snapshot %s: %w", ErrManifestConflict, r, err)
		}
	}
	if err := ledger.AppendManifest(dir, added...); err != nil {
		return 0, err
	}
	return len(roots), nil
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxMetadataSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxMetadataSize {
		return nil, fmt.Errorf("%w: file larger than %d bytes", ErrInvalidPath, maxMetadataSize)
	}
	return data, nil
}

// cleanRel rejects paths that are not canonical, escape the store directory
// or name dot files.
func cleanRel(rel string) (string, error) {
	if rel == "" || strings.Contains(rel, `\`) || path.Clean(rel) != rel || path.IsAbs(rel) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == "" || strings.HasPrefix(seg, ".") {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
		}
	}
	return rel, nil
}
