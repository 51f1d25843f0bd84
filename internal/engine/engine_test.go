package engine

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"spotwatch/internal/config"
	"spotwatch/internal/errsink"
	"spotwatch/internal/exchange"
	"spotwatch/internal/market"
	"spotwatch/internal/telemetry"
	"spotwatch/internal/universe"
	"spotwatch/pkg/types"
)

// fakeFeed blocks until cancelled, standing in for a stream worker.
type fakeFeed struct{}

func (fakeFeed) Run(ctx context.Context) { <-ctx.Done() }

type fakeSource struct {
	pool []string
}

func (f *fakeSource) ExchangeInfo(context.Context) (*types.ExchangeInfo, error) {
	var syms []types.SymbolInfo
	for _, s := range f.pool {
		syms = append(syms, types.SymbolInfo{Symbol: s, Status: "TRADING", QuoteAsset: "USDT"})
	}
	return &types.ExchangeInfo{Symbols: syms}, nil
}

func (f *fakeSource) Tickers24h(context.Context) ([]types.Ticker24h, error) {
	var out []types.Ticker24h
	for i, s := range f.pool {
		out = append(out, types.Ticker24h{Symbol: s, QuoteVolume: string(rune('9' - i)), PriceChangePercent: "0"})
	}
	return out, nil
}

func newTestEngine(cfg *config.Config, pool []string) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	books := market.NewStore()
	trades := market.NewTradeStore(0)
	sink := errsink.New(0)
	tel := telemetry.NewWith(prometheus.NewRegistry())

	e := &Engine{
		cfg:     cfg,
		books:   books,
		trades:  trades,
		sink:    sink,
		tel:     tel,
		logger:  logger,
		sampler: universe.NewSampler(&fakeSource{pool: pool}, cfg.SeedSymbols, cfg.MaxSymbols, 0, logger),
		kraken:  exchange.NewKrakenFeed("wss://example.invalid", cfg.VenueBPairs, cfg.DepthLimit, books, trades, sink, tel, logger),
		running: make(map[string]*feedHandle),
		seeds:   make(map[string]bool),
	}
	for _, s := range cfg.SeedSymbols {
		e.seeds[s] = true
	}
	e.newFeed = func(string) feedRunner { return fakeFeed{} }
	return e
}

func sortedRunning(e *Engine) []string {
	out := e.Running()
	sort.Strings(out)
	return out
}

func TestPlanChangesSeedsNeverStopped(t *testing.T) {
	t.Parallel()
	seeds := map[string]bool{"XRPUSDT": true}
	start, stop := planChanges(
		[]string{"AAAUSDT"},
		[]string{"XRPUSDT", "BBBUSDT"},
		seeds,
	)
	if len(start) != 1 || start[0] != "AAAUSDT" {
		t.Errorf("start = %v, want [AAAUSDT]", start)
	}
	if len(stop) != 1 || stop[0] != "BBBUSDT" {
		t.Errorf("stop = %v, want [BBBUSDT]; seeds must never stop", stop)
	}
}

func TestPlanChangesNoChurnWhenConverged(t *testing.T) {
	t.Parallel()
	start, stop := planChanges(
		[]string{"AAAUSDT", "BBBUSDT"},
		[]string{"BBBUSDT", "AAAUSDT"},
		nil,
	)
	if len(start) != 0 || len(stop) != 0 {
		t.Errorf("start = %v stop = %v, want no changes", start, stop)
	}
}

func TestRescanSeedsOnlyWhenGlobalScanDisabled(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		MaxSymbols:       5,
		SeedSymbols:      []string{"XRPUSDT"},
		EnableGlobalScan: false,
	}
	e := newTestEngine(cfg, []string{"AAAUSDT", "BBBUSDT"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.rescan(ctx)

	got := sortedRunning(e)
	if len(got) != 1 || got[0] != "XRPUSDT" {
		t.Errorf("running = %v, want seeds only", got)
	}
}

func TestRescanObeysSymbolCap(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		MaxSymbols:         2,
		SeedSymbols:        []string{"ABCUSDT"},
		EnableGlobalScan:   true,
		GlobalScanEverySec: 0,
	}
	e := newTestEngine(cfg, []string{"ABCUSDT", "DEFUSDT", "GHIUSDT"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.rescan(ctx)

	got := sortedRunning(e)
	if len(got) != 2 {
		t.Fatalf("running = %v, want 2 symbols", got)
	}
	if got[0] != "ABCUSDT" {
		t.Errorf("running = %v, must include seed ABCUSDT", got)
	}
}

func TestStopSymbolDropsState(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{MaxSymbols: 5}
	e := newTestEngine(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.startSymbol(ctx, "AAAUSDT")

	e.books.GetOrCreate(types.VenueBinance, "AAAUSDT")
	e.trades.Push(types.VenueBinance, "AAAUSDT", types.Trade{Price: 1, Size: 1, Side: types.Buy, TS: time.Now().UnixMilli()})

	e.stopSymbol("AAAUSDT")

	if len(e.Running()) != 0 {
		t.Error("symbol still running after stop")
	}
	if e.books.Get(types.VenueBinance, "AAAUSDT") != nil {
		t.Error("book not dropped on stop")
	}
	if got := e.trades.Since(types.VenueBinance, "AAAUSDT", 0); len(got) != 0 {
		t.Error("trade ring not dropped on stop")
	}
	// Idempotent.
	e.stopSymbol("AAAUSDT")
}

func TestStartSymbolIdempotent(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{MaxSymbols: 5}
	e := newTestEngine(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.startSymbol(ctx, "AAAUSDT")
	e.startSymbol(ctx, "AAAUSDT")

	if got := e.Running(); len(got) != 1 {
		t.Errorf("running = %v, want one entry", got)
	}
}

func TestRescanStopsDroppedSymbols(t *testing.T) {
	t.Parallel()
	// With the global scan off only seeds are targeted, so a previously
	// sampled symbol must wind down.
	cfg := &config.Config{
		MaxSymbols:       3,
		SeedSymbols:      []string{"ABCUSDT"},
		EnableGlobalScan: false,
	}
	e := newTestEngine(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.startSymbol(ctx, "OLDUSDT")
	e.rescan(ctx)

	got := sortedRunning(e)
	if len(got) != 1 || got[0] != "ABCUSDT" {
		t.Errorf("running = %v, want [ABCUSDT] after OLDUSDT winds down", got)
	}
}
