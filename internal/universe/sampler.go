// Package universe selects which venue-A symbols the watcher streams.
//
// Each scan samples the venue's 24h stats, ranks active USDT spot pairs
// by turnover and by absolute percent move, and merges the two leaders
// into a candidate pool. Seeds and already-running symbols always come
// first; the combined target list is truncated to the symbol cap.
package universe

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"spotwatch/pkg/types"
)

// poolSize is how many leaders each ranking contributes.
const poolSize = 12

// Source provides the venue listing and stats, usually the Binance REST
// client.
type Source interface {
	ExchangeInfo(ctx context.Context) (*types.ExchangeInfo, error)
	Tickers24h(ctx context.Context) ([]types.Ticker24h, error)
}

// Sampler computes streaming targets from venue stats. The symbol
// listing changes rarely, so it is cached for listingTTL; 24h stats are
// refetched on every sample.
type Sampler struct {
	src        Source
	seeds      []string
	maxSymbols int
	listingTTL time.Duration
	logger     *slog.Logger

	mu       sync.Mutex
	listing  *types.ExchangeInfo
	listedAt time.Time
}

// NewSampler creates a sampler. Seeds are always targeted regardless of
// what the sample returns. listingTTL <= 0 disables listing caching.
func NewSampler(src Source, seeds []string, maxSymbols int, listingTTL time.Duration, logger *slog.Logger) *Sampler {
	return &Sampler{
		src:        src,
		seeds:      seeds,
		maxSymbols: maxSymbols,
		listingTTL: listingTTL,
		logger:     logger.With("component", "universe"),
	}
}

// Targets returns the symbols to stream this cycle, seeds first, then
// currently running symbols, then the sampled pool, deduplicated in that
// order and truncated to the cap. When the venue sample fails the seeds
// alone are returned so streaming never stalls on a flaky endpoint.
func (s *Sampler) Targets(ctx context.Context, running []string) ([]string, types.UniverseSample) {
	pool, err := s.sample(ctx)
	if err != nil {
		s.logger.Warn("universe sample failed, keeping seeds only", "error", err)
		return Merge(s.maxSymbols, s.seeds), types.UniverseSample{TS: time.Now().UnixMilli()}
	}

	sample := types.UniverseSample{VenueA: pool, TS: time.Now().UnixMilli()}
	return Merge(s.maxSymbols, s.seeds, running, pool), sample
}

// Seeds returns the always-on symbol list.
func (s *Sampler) Seeds() []string {
	out := make([]string, len(s.seeds))
	copy(out, s.seeds)
	return out
}

// sample fetches the listing and 24h stats and merges the turnover and
// mover leaderboards.
func (s *Sampler) sample(ctx context.Context) ([]string, error) {
	info, err := s.exchangeInfo(ctx)
	if err != nil {
		return nil, err
	}
	tickers, err := s.src.Tickers24h(ctx)
	if err != nil {
		return nil, err
	}

	active := make(map[string]bool, len(info.Symbols))
	for _, sym := range info.Symbols {
		if isActiveSpot(sym) {
			active[sym.Symbol] = true
		}
	}

	type ranked struct {
		symbol string
		volume float64
		move   float64
	}
	candidates := make([]ranked, 0, len(tickers))
	for _, tk := range tickers {
		if !active[tk.Symbol] {
			continue
		}
		vol, _ := strconv.ParseFloat(tk.QuoteVolume, 64)
		pct, _ := strconv.ParseFloat(tk.PriceChangePercent, 64)
		if pct < 0 {
			pct = -pct
		}
		candidates = append(candidates, ranked{symbol: tk.Symbol, volume: vol, move: pct})
	}

	byVolume := make([]ranked, len(candidates))
	copy(byVolume, candidates)
	sort.Slice(byVolume, func(i, j int) bool { return byVolume[i].volume > byVolume[j].volume })

	byMove := make([]ranked, len(candidates))
	copy(byMove, candidates)
	sort.Slice(byMove, func(i, j int) bool { return byMove[i].move > byMove[j].move })

	var pool []string
	for i := 0; i < poolSize && i < len(byVolume); i++ {
		pool = append(pool, byVolume[i].symbol)
	}
	for i := 0; i < poolSize && i < len(byMove); i++ {
		pool = append(pool, byMove[i].symbol)
	}
	pool = Merge(0, pool)

	s.logger.Info("universe sampled", "active", len(active), "pool", len(pool))
	return pool, nil
}

// exchangeInfo returns the cached listing when fresh, refetching past
// the TTL.
func (s *Sampler) exchangeInfo(ctx context.Context) (*types.ExchangeInfo, error) {
	s.mu.Lock()
	cached, at := s.listing, s.listedAt
	s.mu.Unlock()

	if cached != nil && s.listingTTL > 0 && time.Since(at) < s.listingTTL {
		return cached, nil
	}
	info, err := s.src.ExchangeInfo(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.listing, s.listedAt = info, time.Now()
	s.mu.Unlock()
	return info, nil
}

// isActiveSpot filters the listing to live USDT spot pairs. The spot flag
// is optional on the wire; absent means allowed.
func isActiveSpot(sym types.SymbolInfo) bool {
	if sym.Status != "TRADING" || sym.QuoteAsset != "USDT" {
		return false
	}
	return sym.IsSpotTradingAllowed == nil || *sym.IsSpotTradingAllowed
}

// Merge concatenates symbol lists keeping the first occurrence of each
// symbol, preserving order, truncated to max when max > 0.
func Merge(max int, lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, s := range list {
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
			if max > 0 && len(out) == max {
				return out
			}
		}
	}
	return out
}
