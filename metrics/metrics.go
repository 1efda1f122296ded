// Package metrics exposes prometheus collectors for store and sync activity.
//
// A nil *Registry is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns a prometheus registry and the collectors registered on it.
type Registry struct {
	registry *prometheus.Registry

	CommitsTotal       *prometheus.CounterVec
	UpsertsTotal       *prometheus.CounterVec
	TransfersTotal     *prometheus.CounterVec
	TransferBytesTotal *prometheus.CounterVec
	TransferDuration   *prometheus.HistogramVec
	RetriesTotal       *prometheus.CounterVec
	BlacklistTotal     *prometheus.CounterVec
	PeerRefreshTotal   prometheus.Counter
	HTTPRequestsTotal  *prometheus.CounterVec
}

// NewRegistry creates a registry with every collector initialised.
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}
	r.initLedgerMetrics()
	r.initSyncMetrics()
	return r
}

func (r *Registry) initLedgerMetrics() {
	r.CommitsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "digstore_commits_total",
			Help: "Total number of commit calls by outcome",
		},
		[]string{"result"}, // written, unchanged
	)

	r.UpsertsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "digstore_upserts_total",
			Help: "Total number of key upserts by outcome",
		},
		[]string{"result"}, // changed, unchanged
	)
}

func (r *Registry) initSyncMetrics() {
	r.TransfersTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "digstore_transfers_total",
			Help: "Total number of file transfers with peers",
		},
		[]string{"direction", "kind", "status"}, // download|upload, manifest|snapshot|blob|height, ok|error|absent|skipped
	)

	r.TransferBytesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "digstore_transfer_bytes_total",
			Help: "Bytes transferred with peers",
		},
		[]string{"direction"},
	)

	r.TransferDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "digstore_transfer_duration_seconds",
			Help:    "Duration of a single file transfer including retries",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"direction"},
	)

	r.RetriesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "digstore_retries_total",
			Help: "Total number of retried network operations",
		},
		[]string{"direction"},
	)

	r.BlacklistTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "digstore_peer_blacklist_total",
			Help: "Peers blacklisted for a resource after failing it",
		},
		[]string{"kind"},
	)

	r.PeerRefreshTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "digstore_peer_refresh_total",
			Help: "Peer set re-resolutions after every peer failed a resource",
		},
	)

	r.HTTPRequestsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "digstore_http_requests_total",
			Help: "Requests served by the peer file server",
		},
		[]string{"method", "status"},
	)
}

// Gatherer returns the underlying registry for scraping or inspection.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler serves the registry in the prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RecordCommit records a commit call.
func (r *Registry) RecordCommit(written bool) {
	if r == nil {
		return
	}
	result := "unchanged"
	if written {
		result = "written"
	}
	r.CommitsTotal.WithLabelValues(result).Inc()
}

// RecordUpsert records an upsert call.
func (r *Registry) RecordUpsert(changed bool) {
	if r == nil {
		return
	}
	result := "unchanged"
	if changed {
		result = "changed"
	}
	r.UpsertsTotal.WithLabelValues(result).Inc()
}

// RecordTransfer records one file transfer.
func (r *Registry) RecordTransfer(direction, kind, status string, bytes int64, duration time.Duration) {
	if r == nil {
		return
	}
	r.TransfersTotal.WithLabelValues(direction, kind, status).Inc()
	if bytes > 0 {
		r.TransferBytesTotal.WithLabelValues(direction).Add(float64(bytes))
	}
	r.TransferDuration.WithLabelValues(direction).Observe(duration.Seconds())
}

// RecordRetry records a retried attempt.
func (r *Registry) RecordRetry(direction string) {
	if r == nil {
		return
	}
	r.RetriesTotal.WithLabelValues(direction).Inc()
}

// RecordBlacklist records a peer blacklisted for a resource.
func (r *Registry) RecordBlacklist(kind string) {
	if r == nil {
		return
	}
	r.BlacklistTotal.WithLabelValues(kind).Inc()
}

// RecordPeerRefresh records a peer set re-resolution.
func (r *Registry) RecordPeerRefresh() {
	if r == nil {
		return
	}
	r.PeerRefreshTotal.Inc()
}

// RecordHTTPRequest records a request served by the peer server.
func (r *Registry) RecordHTTPRequest(method, status string) {
	if r == nil {
		return
	}
	r.HTTPRequestsTotal.WithLabelValues(method, status).Inc()
}
