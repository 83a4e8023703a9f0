// Package metrics exposes the Prometheus registry of the exporter.
// All metrics are defined in their respective packages (client, enrich,
// export, assets) to maintain modularity and avoid circular dependencies.
//
// This package serves them over HTTP and documents the catalogue.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry is the default Prometheus registry used by the exporter.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler for the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is done. It returns once the
// listener is bound; errors after that are logged.
func Serve(ctx context.Context, addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", ln.Addr().String()).Msg("Metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")
	return ln.Addr(), nil
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - recruitee_requests_total{endpoint, status} (Counter): Requests by endpoint (list, candidate, asset) and HTTP status
//   - recruitee_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - recruitee_errors_total{class} (Counter): Errors by class (client, server, network, decode, unexpected)
//
// Enrichment Metrics (pkg/enrich):
//   - recruitee_profiles_total{outcome} (Counter): Profile fetches by outcome (enriched, failed)
//
// Export Metrics (pkg/export):
//   - recruitee_export_rows (Gauge): Rows written by the last table export
//
// Attachment Metrics (pkg/assets):
//   - recruitee_assets_total{kind, outcome} (Counter): Attachment tasks by kind and outcome (downloaded, skipped, failed)
//   - recruitee_asset_bytes_total{kind} (Counter): Attachment bytes written
//
// Example Prometheus Queries:
//
//   # Profile Failure Ratio
//   sum(recruitee_profiles_total{outcome="failed"}) / sum(recruitee_profiles_total)
//
//   # CV Content Type Mismatches Or Failures
//   recruitee_assets_total{kind="document", outcome="failed"}
//
//   # P95 Detail Latency
//   histogram_quantile(0.95, rate(recruitee_request_duration_seconds_bucket{endpoint="candidate"}[5m]))
