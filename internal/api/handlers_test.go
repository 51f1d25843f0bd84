package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"spotwatch/internal/errsink"
	"spotwatch/internal/market"
	"spotwatch/internal/metrics"
	"spotwatch/internal/signal"
	"spotwatch/internal/telemetry"
	"spotwatch/pkg/types"
)

type fakeRuntime struct {
	books   *market.Store
	trades  *market.TradeStore
	sink    *errsink.Sink
	agg     *metrics.Aggregator
	signals *signal.Engine
	running []string
	pairs   []string
	scan    types.ScanSummary
	sample  types.UniverseSample
}

func (f *fakeRuntime) Books() *market.Store             { return f.books }
func (f *fakeRuntime) Trades() *market.TradeStore       { return f.trades }
func (f *fakeRuntime) Sink() *errsink.Sink              { return f.sink }
func (f *fakeRuntime) Metrics() *metrics.Aggregator     { return f.agg }
func (f *fakeRuntime) Signals() *signal.Engine          { return f.signals }
func (f *fakeRuntime) Running() []string                { return f.running }
func (f *fakeRuntime) VenueBPairs() []string            { return f.pairs }
func (f *fakeRuntime) LastScan() types.ScanSummary      { return f.scan }
func (f *fakeRuntime) LastSample() types.UniverseSample { return f.sample }

type fakeSnapshotter struct {
	snap *types.DepthSnapshot
	err  error
}

func (f *fakeSnapshotter) DepthSnapshot(context.Context, string, int) (*types.DepthSnapshot, error) {
	return f.snap, f.err
}

func newTestServer(t *testing.T) (*Server, *fakeRuntime, *fakeSnapshotter) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	books := market.NewStore()
	trades := market.NewTradeStore(0)
	agg := metrics.NewAggregator(books, trades, 0.01, 100000, 5*time.Minute, logger)
	tel := telemetry.NewWith(prometheus.NewRegistry())
	signals := signal.NewEngine(agg, 80, 65, 20*time.Minute, tel, logger)

	rt := &fakeRuntime{
		books:   books,
		trades:  trades,
		sink:    errsink.New(0),
		agg:     agg,
		signals: signals,
		running: []string{"XRPUSDT"},
		pairs:   []string{"XRP/USD"},
		scan:    types.ScanSummary{TS: 123, Targets: []string{"XRPUSDT"}, Running: []string{"XRPUSDT"}},
		sample:  types.UniverseSample{VenueA: []string{"XRPUSDT"}, VenueB: []string{"XRP/USD"}, TS: 123},
	}
	snap := &fakeSnapshotter{}
	return NewServer(rt, snap, 100, 0, logger), rt, snap
}

func doRequest(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v (%s)", err, rec.Body.String())
	}
	return body
}

func TestRootStatus(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["ok"] != true || body["service"] != "spotwatch" {
		t.Errorf("body = %v", body)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

func TestUniverse(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/universe")
	body := decodeBody(t, rec)
	if body["ok"] != true {
		t.Fatalf("body = %v", body)
	}
	uni := body["universe"].(map[string]any)
	if got := uni["venue_a"].([]any); len(got) != 1 || got[0] != "XRPUSDT" {
		t.Errorf("venue_a = %v", got)
	}
	if got := uni["venue_b"].([]any); len(got) != 1 || got[0] != "XRP/USD" {
		t.Errorf("venue_b = %v", got)
	}
}

func TestSignalLargeLevels(t *testing.T) {
	t.Parallel()
	s, rt, _ := newTestServer(t)

	b := rt.books.GetOrCreate(types.VenueBinance, "XRPUSDT")
	b.ApplySnapshot(
		[][]string{{"2.00", "150000"}, {"1.99", "10"}}, // $300k and $19.9 notional
		[][]string{{"2.01", "120000"}},                 // $241.2k
		1,
	)

	rec := doRequest(t, s, http.MethodGet, "/signal?min_usd=250000")
	body := decodeBody(t, rec)
	if body["ok"] != true {
		t.Fatalf("body = %v", body)
	}
	levels := body["large_levels"].(map[string]any)
	key := levels["XRPUSDT"].([]any)
	if len(key) != 1 {
		t.Fatalf("large levels = %v, want one above $250k", key)
	}
	lvl := key[0].(map[string]any)
	if lvl["price"] != "2" || lvl["side"] != "bids" {
		t.Errorf("level = %v", lvl)
	}
}

func TestSignalDefaultFloor(t *testing.T) {
	t.Parallel()
	s, rt, _ := newTestServer(t)

	b := rt.books.GetOrCreate(types.VenueBinance, "XRPUSDT")
	b.ApplySnapshot([][]string{{"2.00", "150000"}}, [][]string{{"2.01", "50"}}, 1)

	rec := doRequest(t, s, http.MethodGet, "/signal")
	body := decodeBody(t, rec)
	if got := body["min_usd"].(float64); got != 200000 {
		t.Errorf("min_usd = %v, want default 200000", got)
	}
}

func TestSignalBadMinUSD(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestServer(t)

	for _, q := range []string{"min_usd=abc", "min_usd=-5"} {
		rec := doRequest(t, s, http.MethodGet, "/signal?"+q)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
		body := decodeBody(t, rec)
		if body["ok"] != false || body["error"] == nil {
			t.Errorf("%s: body = %v", q, body)
		}
	}
}

func TestBooksTrackedSymbol(t *testing.T) {
	t.Parallel()
	s, rt, _ := newTestServer(t)

	a := rt.books.GetOrCreate(types.VenueBinance, "XRPUSDT")
	a.ApplySnapshot([][]string{{"2.00", "10"}}, [][]string{{"2.01", "10"}}, 1)
	k := rt.books.GetOrCreate(types.VenueKraken, "XRP/USD")
	k.ReplaceSide(types.Bids, [][]string{{"2.02", "5"}})
	k.ReplaceSide(types.Asks, [][]string{{"2.03", "5"}})

	rec := doRequest(t, s, http.MethodGet, "/books?symbol=XRP")
	body := decodeBody(t, rec)
	if body["ok"] != true {
		t.Fatalf("body = %v", body)
	}
	books := body["books"].(map[string]any)
	if len(books) != 2 {
		t.Fatalf("got %d books, want one per venue", len(books))
	}
	binance := books["binance"].(map[string]any)
	if binance["raw"] != "XRPUSDT" || binance["best_bid"].(float64) != 2.0 {
		t.Errorf("binance book = %v", binance)
	}
	kraken := books["kraken"].(map[string]any)
	if kraken["best_ask"].(float64) != 2.03 {
		t.Errorf("kraken book = %v", kraken)
	}
}

func TestBooksMissingSymbolParam(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/books")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestBooksFallbackSnapshot(t *testing.T) {
	t.Parallel()
	s, _, snap := newTestServer(t)
	snap.snap = &types.DepthSnapshot{
		LastUpdateID: 7,
		Bids:         [][]string{{"30000", "1"}},
		Asks:         [][]string{{"30001", "1"}},
	}

	rec := doRequest(t, s, http.MethodGet, "/books?symbol=BTC")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	books := body["books"].(map[string]any)
	if len(books) != 1 {
		t.Fatalf("got %d books, want 1 from fallback", len(books))
	}
	view := books["binance"].(map[string]any)
	if view["raw"] != "BTCUSDT" {
		t.Errorf("fallback symbol = %v, want BTCUSDT", view["raw"])
	}
}

func TestBooksFallbackFailureIs502(t *testing.T) {
	t.Parallel()
	s, _, snap := newTestServer(t)
	snap.err = errors.New("venue timeout")

	rec := doRequest(t, s, http.MethodGet, "/books?symbol=NOPE")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["ok"] != false {
		t.Errorf("body = %v", body)
	}
}

func TestLastIncludesErrors(t *testing.T) {
	t.Parallel()
	s, rt, _ := newTestServer(t)
	rt.sink.RecordMessage("binance_depth:XRPUSDT", "read depth: connection reset")

	rec := doRequest(t, s, http.MethodGet, "/last")
	body := decodeBody(t, rec)
	if body["ok"] != true {
		t.Fatalf("body = %v", body)
	}
	errs := body["errors"].([]any)
	if len(errs) != 1 {
		t.Fatalf("errors = %v, want 1 entry", errs)
	}
	scan := body["last_scan"].(map[string]any)
	if scan["ts"].(float64) != 123 {
		t.Errorf("scan = %v", scan)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestOptionsPreflight(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodOptions, "/signal")
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header on preflight")
	}
}
