package commands

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/dignetwork/digstore-go"
	"github.com/dignetwork/digstore-go/config"
	"github.com/dignetwork/digstore-go/keys"
	"github.com/dignetwork/digstore-go/metrics"
	"github.com/dignetwork/digstore-go/peer"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the stores in the data directory to other peers",
	Long: `Serve every store under the data directory over the peer file contract.
Uploads require the configured Basic-auth account, when set, and a nonce
signature from one of the configured writer keys. Prometheus metrics are
exposed at /metrics.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// NewHandler mounts the peer routes and the metrics endpoint.
func NewHandler(cfg config.Config, reg *metrics.Registry) (http.Handler, error) {
	secret := []byte(cfg.NonceSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		digstore.Component("serve").Warn().Msg("noncesecret not set; nonces will not survive a restart")
	}

	opts := []peer.Option{peer.WithMetrics(reg)}
	if cfg.AuthUser != "" {
		if cfg.AuthPasswordHash == "" {
			return nil, errors.New("authuser is set without authpasswordhash")
		}
		opts = append(opts, peer.WithCredentials(&peer.Credentials{Username: cfg.AuthUser, PasswordHash: cfg.AuthPasswordHash}))
	}
	if len(cfg.Writers) == 0 {
		digstore.Component("serve").Warn().Msg("no writers configured; uploads will be refused")
	}

	srv := peer.NewServer(cfg.DataDir, keys.NewNonceIssuer(secret, keys.DefaultNonceWindow), peer.NewWriters().Allow(cfg.Writers...), opts...)

	r := chi.NewRouter()
	r.Handle("/metrics", reg.Handler())
	r.Mount("/", srv.Handler())
	return r, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := digstore.Component("serve")

	handler, err := NewHandler(cfg, metrics.NewRegistry())
	if err != nil {
		return err
	}
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signalContext()
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Str("data_dir", cfg.DataDir).Msg("serving stores")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		return httpSrv.Shutdown(shutdownCtx)
	}
}
