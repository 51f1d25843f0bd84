package exchange

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDepthSnapshot(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/depth" {
			t.Errorf("path = %s, want /api/v3/depth", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "XRPUSDT" {
			t.Errorf("symbol = %s, want XRPUSDT", got)
		}
		if got := r.URL.Query().Get("limit"); got != "100" {
			t.Errorf("limit = %s, want 100", got)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"lastUpdateId":12345,"bids":[["0.5000","100"]],"asks":[["0.5001","80"]]}`)
	}))
	defer srv.Close()

	c := NewBinanceClient(srv.URL, discardLogger())
	snap, err := c.DepthSnapshot(context.Background(), "XRPUSDT", 100)
	if err != nil {
		t.Fatalf("DepthSnapshot: %v", err)
	}
	if snap.LastUpdateID != 12345 {
		t.Errorf("lastUpdateId = %d, want 12345", snap.LastUpdateID)
	}
	if len(snap.Bids) != 1 || snap.Bids[0][0] != "0.5000" {
		t.Errorf("bids = %v", snap.Bids)
	}
}

func TestDepthSnapshotCapsLimit(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "1000" {
			t.Errorf("limit = %s, want 1000", got)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"lastUpdateId":1,"bids":[],"asks":[]}`)
	}))
	defer srv.Close()

	c := NewBinanceClient(srv.URL, discardLogger())
	if _, err := c.DepthSnapshot(context.Background(), "XRPUSDT", 5000); err != nil {
		t.Fatalf("DepthSnapshot: %v", err)
	}
}

func TestDepthSnapshotErrorStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":-1121,"msg":"Invalid symbol."}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewBinanceClient(srv.URL, discardLogger())
	if _, err := c.DepthSnapshot(context.Background(), "NOPEUSDT", 100); err == nil {
		t.Fatal("expected error for 400 response")
	}
}

func TestExchangeInfo(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"symbols":[
			{"symbol":"XRPUSDT","status":"TRADING","quoteAsset":"USDT","isSpotTradingAllowed":true},
			{"symbol":"OLDUSDT","status":"BREAK","quoteAsset":"USDT"}
		]}`)
	}))
	defer srv.Close()

	c := NewBinanceClient(srv.URL, discardLogger())
	info, err := c.ExchangeInfo(context.Background())
	if err != nil {
		t.Fatalf("ExchangeInfo: %v", err)
	}
	if len(info.Symbols) != 2 {
		t.Fatalf("got %d symbols, want 2", len(info.Symbols))
	}
	if info.Symbols[0].IsSpotTradingAllowed == nil || !*info.Symbols[0].IsSpotTradingAllowed {
		t.Error("XRPUSDT spot flag not parsed")
	}
	if info.Symbols[1].IsSpotTradingAllowed != nil {
		t.Error("absent spot flag should stay nil")
	}
}

func TestTickers24h(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[
			{"symbol":"XRPUSDT","priceChangePercent":"3.150","quoteVolume":"98765432.10"},
			{"symbol":"BTCUSDT","priceChangePercent":"-1.2","quoteVolume":"555000000"}
		]`)
	}))
	defer srv.Close()

	c := NewBinanceClient(srv.URL, discardLogger())
	tickers, err := c.Tickers24h(context.Background())
	if err != nil {
		t.Fatalf("Tickers24h: %v", err)
	}
	if len(tickers) != 2 {
		t.Fatalf("got %d tickers, want 2", len(tickers))
	}
	if tickers[0].QuoteVolume != "98765432.10" {
		t.Errorf("quoteVolume = %s", tickers[0].QuoteVolume)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewBinanceClient(srv.URL, discardLogger())
	for i := 0; i < 3; i++ {
		if _, err := c.ExchangeInfo(context.Background()); err == nil {
			t.Fatal("expected error from failing endpoint")
		}
	}
	// Breaker is now open; the next call must fail fast without a request.
	srv.Close()
	if _, err := c.ExchangeInfo(context.Background()); err == nil {
		t.Fatal("expected open-breaker error")
	}
}
