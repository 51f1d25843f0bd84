// Package engine owns the watcher's runtime: the symbol manager that
// starts and stops venue-A stream workers against the universe sample,
// the always-on venue-B feed, and the metrics and signal loops.
//
// Lifecycle rules:
//   - seed symbols stream unconditionally and are never stopped
//   - the running set never exceeds the configured symbol cap
//   - stopping a symbol cancels its workers and drops its book and
//     trade state, so stale books never feed the aggregator
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"spotwatch/internal/config"
	"spotwatch/internal/errsink"
	"spotwatch/internal/exchange"
	"spotwatch/internal/market"
	"spotwatch/internal/metrics"
	"spotwatch/internal/signal"
	"spotwatch/internal/telemetry"
	"spotwatch/internal/universe"
	"spotwatch/pkg/types"
)

// feedRunner is a stream worker; Run blocks until its context ends.
type feedRunner interface {
	Run(ctx context.Context)
}

// feedHandle tracks one running venue-A symbol.
type feedHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Engine is the top-level runtime.
type Engine struct {
	cfg    *config.Config
	books  *market.Store
	trades *market.TradeStore
	sink   *errsink.Sink
	tel    *telemetry.Metrics
	logger *slog.Logger

	rest    *exchange.BinanceClient
	sampler *universe.Sampler
	kraken  *exchange.KrakenFeed
	agg     *metrics.Aggregator
	signals *signal.Engine

	// newFeed builds the worker for one venue-A symbol; swapped in tests.
	newFeed func(symbol string) feedRunner

	mu         sync.Mutex
	running    map[string]*feedHandle
	seeds      map[string]bool
	pool       []string
	poolAt     time.Time
	lastScan   types.ScanSummary
	lastSample types.UniverseSample

	wg sync.WaitGroup
}

// New wires the full runtime from configuration.
func New(cfg *config.Config, logger *slog.Logger) *Engine {
	books := market.NewStore()
	trades := market.NewTradeStore(market.DefaultTradeCapacity)
	sink := errsink.New(errsink.DefaultCapacity)
	tel := telemetry.New()

	rest := exchange.NewBinanceClient(cfg.BinanceRESTURL, logger)
	sampler := universe.NewSampler(rest, cfg.SeedSymbols, cfg.MaxSymbols,
		time.Duration(cfg.UniverseRefreshSec)*time.Second, logger)
	kraken := exchange.NewKrakenFeed(cfg.KrakenWSURL, cfg.VenueBPairs, cfg.DepthLimit,
		books, trades, sink, tel, logger)
	agg := metrics.NewAggregator(books, trades, cfg.MetricsBandPct, cfg.LargeTradeSize,
		cfg.TradeWindow(), logger)
	signals := signal.NewEngine(agg, cfg.ThresholdOrange, cfg.ThresholdGreen,
		cfg.AlertCooldown(), tel, logger)

	e := &Engine{
		cfg:     cfg,
		books:   books,
		trades:  trades,
		sink:    sink,
		tel:     tel,
		logger:  logger.With("component", "engine"),
		rest:    rest,
		sampler: sampler,
		kraken:  kraken,
		agg:     agg,
		signals: signals,
		running: make(map[string]*feedHandle),
		seeds:   make(map[string]bool, len(cfg.SeedSymbols)),
	}
	for _, s := range cfg.SeedSymbols {
		e.seeds[s] = true
	}
	e.newFeed = func(symbol string) feedRunner {
		return exchange.NewSymbolFeed(symbol, cfg.BinanceWSURL, cfg.DepthLimit,
			rest, books, trades, sink, tel, logger)
	}
	return e
}

// Accessors for the query surface.

func (e *Engine) Books() *market.Store { return e.books }

func (e *Engine) Trades() *market.TradeStore { return e.trades }

func (e *Engine) Sink() *errsink.Sink { return e.sink }

func (e *Engine) Metrics() *metrics.Aggregator { return e.agg }

func (e *Engine) Signals() *signal.Engine { return e.signals }

func (e *Engine) VenueBPairs() []string { return e.kraken.Pairs() }

func (e *Engine) REST() *exchange.BinanceClient { return e.rest }

// Running returns the currently streamed venue-A symbols.
func (e *Engine) Running() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runningLocked()
}

func (e *Engine) runningLocked() []string {
	out := make([]string, 0, len(e.running))
	for s := range e.running {
		out = append(out, s)
	}
	return out
}

// LastScan returns the most recent rescan outcome.
func (e *Engine) LastScan() types.ScanSummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastScan
}

// LastSample returns the most recent universe sample.
func (e *Engine) LastSample() types.UniverseSample {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSample
}

// Run starts every loop, performs the initial scan, and blocks until ctx
// is cancelled, then stops all workers.
func (e *Engine) Run(ctx context.Context) {
	e.wg.Add(3)
	go func() {
		defer e.wg.Done()
		e.kraken.Run(ctx)
	}()
	go func() {
		defer e.wg.Done()
		e.agg.Run(ctx)
	}()
	go func() {
		defer e.wg.Done()
		e.signals.Run(ctx)
	}()

	e.rescan(ctx)

	ticker := time.NewTicker(e.cfg.ScanInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.stopAll()
			e.wg.Wait()
			return
		case <-ticker.C:
			e.rescan(ctx)
		}
	}
}

// rescan recomputes the target set and reconciles the running workers
// against it.
func (e *Engine) rescan(ctx context.Context) {
	running := e.Running()

	var targets []string
	if e.cfg.EnableGlobalScan {
		targets = e.sampledTargets(ctx, running)
	} else {
		targets = universe.Merge(e.cfg.MaxSymbols, e.cfg.SeedSymbols)
	}

	start, stop := planChanges(targets, running, e.seeds)
	for _, sym := range stop {
		e.stopSymbol(sym)
	}
	for _, sym := range start {
		e.startSymbol(ctx, sym)
	}

	e.mu.Lock()
	now := time.Now().UnixMilli()
	e.lastScan = types.ScanSummary{TS: now, Targets: targets, Running: e.runningLocked()}
	e.tel.RunningSymbols.Set(float64(len(e.running)))
	e.mu.Unlock()

	e.logger.Info("rescan complete", "targets", len(targets), "started", len(start), "stopped", len(stop))
}

// sampledTargets returns the merged target list, refreshing the venue
// sample when the cached pool is stale.
func (e *Engine) sampledTargets(ctx context.Context, running []string) []string {
	e.mu.Lock()
	pool, at := e.pool, e.poolAt
	e.mu.Unlock()

	every := time.Duration(e.cfg.GlobalScanEverySec) * time.Second
	if at.IsZero() || time.Since(at) >= every {
		targets, sample := e.sampler.Targets(ctx, running)
		sample.VenueB = e.kraken.Pairs()
		e.mu.Lock()
		e.pool = sample.VenueA
		e.poolAt = time.Now()
		e.lastSample = sample
		e.mu.Unlock()
		return targets
	}
	return universe.Merge(e.cfg.MaxSymbols, e.cfg.SeedSymbols, running, pool)
}

// planChanges decides which symbols start and stop. Seeds are never in
// the stop list even when missing from targets.
func planChanges(targets, running []string, seeds map[string]bool) (start, stop []string) {
	targetSet := make(map[string]bool, len(targets))
	for _, s := range targets {
		targetSet[s] = true
	}
	runningSet := make(map[string]bool, len(running))
	for _, s := range running {
		runningSet[s] = true
	}

	for _, s := range running {
		if !targetSet[s] && !seeds[s] {
			stop = append(stop, s)
		}
	}
	for _, s := range targets {
		if !runningSet[s] {
			start = append(start, s)
		}
	}
	return start, stop
}

// startSymbol launches the worker for one symbol. Idempotent.
func (e *Engine) startSymbol(ctx context.Context, symbol string) {
	e.mu.Lock()
	if _, ok := e.running[symbol]; ok || len(e.running) >= e.cfg.MaxSymbols {
		e.mu.Unlock()
		return
	}
	feedCtx, cancel := context.WithCancel(ctx)
	h := &feedHandle{cancel: cancel, done: make(chan struct{})}
	e.running[symbol] = h
	e.mu.Unlock()

	feed := e.newFeed(symbol)
	go func() {
		defer close(h.done)
		feed.Run(feedCtx)
	}()
	e.logger.Info("symbol started", "symbol", symbol)
}

// stopSymbol cancels one symbol's worker, waits for it, and drops its
// market state. Idempotent.
func (e *Engine) stopSymbol(symbol string) {
	e.mu.Lock()
	h, ok := e.running[symbol]
	if ok {
		delete(e.running, symbol)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	h.cancel()
	<-h.done
	e.books.Drop(types.VenueBinance, symbol)
	e.trades.Drop(types.VenueBinance, symbol)
	e.logger.Info("symbol stopped", "symbol", symbol)
}

// stopAll shuts down every running symbol at engine exit.
func (e *Engine) stopAll() {
	for _, sym := range e.Running() {
		e.mu.Lock()
		h := e.running[sym]
		delete(e.running, sym)
		e.mu.Unlock()
		if h == nil {
			continue
		}
		h.cancel()
		<-h.done
	}
}
