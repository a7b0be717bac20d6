// Package metrics exposes the Prometheus metrics registered by the client
// packages. All metrics are defined next to the code that records them via
// promauto; this package only serves them.
//
// Request metrics (pkg/client):
//   - codemao_requests_total{method, status} (Counter): attempts by method and HTTP status
//   - codemao_request_duration_seconds{method} (Histogram): logical call duration, retries included
//
// Retry metrics (pkg/client):
//   - codemao_retries_total{kind} (Counter): retries by error class
//   - codemao_retry_backoff_seconds{kind} (Histogram): backoff delay by error class
//   - codemao_retries_exhausted_total{kind} (Counter): calls that used every attempt
//
// Pagination metrics (pkg/pagination):
//   - codemao_pages_total{outcome} (Counter): pages processed, ok or error
//   - codemao_stream_items_total (Counter): items yielded by streams
//
// Auth metrics (pkg/auth):
//   - codemao_identity_switches_total{identity} (Counter): successful identity switches
//
// Example queries:
//
//	# Retry rate by class
//	sum by (kind) (rate(codemao_retries_total[5m]))
//
//	# P95 call latency
//	histogram_quantile(0.95, rate(codemao_request_duration_seconds_bucket[5m]))
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Handler serves the default gatherer in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics and /health on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", healthHandler)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
