// Package api serves the watcher's query surface: service status, the
// current universe, scored signals with large resting levels, per-symbol
// books, the last scan summary, and Prometheus metrics.
//
// All responses are JSON. Failures use the {"ok":false,"error":...}
// envelope: 400 for bad requests, 502 for upstream venue failures, 500
// otherwise. Every route allows cross-origin reads.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"spotwatch/internal/errsink"
	"spotwatch/internal/market"
	"spotwatch/internal/metrics"
	"spotwatch/internal/signal"
	"spotwatch/pkg/types"
)

const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 15 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Runtime is the engine surface the handlers read from.
type Runtime interface {
	Books() *market.Store
	Trades() *market.TradeStore
	Sink() *errsink.Sink
	Metrics() *metrics.Aggregator
	Signals() *signal.Engine
	Running() []string
	VenueBPairs() []string
	LastScan() types.ScanSummary
	LastSample() types.UniverseSample
}

// Snapshotter fetches a one-off venue-A depth snapshot for symbols not
// currently streamed.
type Snapshotter interface {
	DepthSnapshot(ctx context.Context, symbol string, limit int) (*types.DepthSnapshot, error)
}

// Server is the HTTP query surface.
type Server struct {
	rt         Runtime
	snap       Snapshotter
	depthLimit int
	httpSrv    *http.Server
	logger     *slog.Logger
	started    time.Time
}

// NewServer builds the server and its routes.
func NewServer(rt Runtime, snap Snapshotter, depthLimit, port int, logger *slog.Logger) *Server {
	s := &Server{
		rt:         rt,
		snap:       snap,
		depthLimit: depthLimit,
		logger:     logger.With("component", "api"),
		started:    time.Now(),
	}

	r := mux.NewRouter()
	r.Use(corsMiddleware)
	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/universe", s.handleUniverse).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/signal", s.handleSignal).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/books", s.handleBooks).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/last", s.handleLast).Methods(http.MethodGet, http.MethodOptions)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	return s
}

// Handler exposes the routed handler, used by the tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("api listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

// corsMiddleware allows cross-origin reads from any origin.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON renders a success payload.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeError renders the {"ok":false,"error":...} envelope.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}
