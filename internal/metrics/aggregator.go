// Package metrics derives per-key market metrics from the raw book and
// trade state on a fixed cadence.
//
// Books from both venues are merged under their normalized key (base+USD)
// before computing the mid, near-mid depth, and trade-flow figures. Each
// cycle publishes a complete snapshot map by atomic replacement, so
// readers never observe a half-built cycle.
package metrics

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"spotwatch/internal/market"
	"spotwatch/pkg/types"
)

// tickInterval is the recompute cadence.
const tickInterval = time.Second

// Aggregator recomputes MetricsSnapshots for every normalized key with
// live books on both sides of the market.
type Aggregator struct {
	books  *market.Store
	trades *market.TradeStore

	bandPct        float64
	largeTradeSize float64
	tradeWindow    time.Duration

	snapshots atomic.Value // map[string]types.MetricsSnapshot
	logger    *slog.Logger
}

// NewAggregator creates an aggregator over the shared stores.
func NewAggregator(books *market.Store, trades *market.TradeStore, bandPct, largeTradeSize float64, tradeWindow time.Duration, logger *slog.Logger) *Aggregator {
	a := &Aggregator{
		books:          books,
		trades:         trades,
		bandPct:        bandPct,
		largeTradeSize: largeTradeSize,
		tradeWindow:    tradeWindow,
		logger:         logger.With("component", "metrics"),
	}
	a.snapshots.Store(map[string]types.MetricsSnapshot{})
	return a
}

// Run recomputes on a fixed cadence until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Compute(time.Now())
		}
	}
}

// Snapshot returns the latest published snapshot map. The map is
// replaced wholesale each cycle and must not be mutated.
func (a *Aggregator) Snapshot() map[string]types.MetricsSnapshot {
	return a.snapshots.Load().(map[string]types.MetricsSnapshot)
}

// Get returns the snapshot for one normalized key.
func (a *Aggregator) Get(key string) (types.MetricsSnapshot, bool) {
	snap, ok := a.Snapshot()[key]
	return snap, ok
}

// Compute runs one aggregation cycle at the given time and publishes the
// result. Keys without a usable two-sided market are omitted.
func (a *Aggregator) Compute(now time.Time) {
	grouped := make(map[string][]*market.Book)
	for _, b := range a.books.All() {
		key := types.NormalizedKey(b.Venue(), b.Raw())
		grouped[key] = append(grouped[key], b)
	}

	out := make(map[string]types.MetricsSnapshot, len(grouped))
	for key, books := range grouped {
		snap, ok := a.computeKey(key, books, now)
		if !ok {
			continue
		}
		out[key] = snap
	}
	a.snapshots.Store(out)
}

// computeKey merges the books sharing one normalized key into a single
// snapshot. ok is false when no book contributes both sides.
func (a *Aggregator) computeKey(key string, books []*market.Book, now time.Time) (types.MetricsSnapshot, bool) {
	var bestBid, bestAsk float64
	seen := false
	for _, b := range books {
		bid, ask, ok := b.BestBidAsk()
		if !ok {
			continue
		}
		if !seen {
			bestBid, bestAsk = bid, ask
			seen = true
			continue
		}
		if bid > bestBid {
			bestBid = bid
		}
		if ask < bestAsk {
			bestAsk = ask
		}
	}
	if !seen || bestBid <= 0 || bestAsk <= 0 {
		return types.MetricsSnapshot{}, false
	}

	mid := (bestBid + bestAsk) / 2
	lo, hi := mid*(1-a.bandPct), mid*(1+a.bandPct)

	// Bid depth counts levels at or above the band floor, ask depth
	// levels at or below the band ceiling, over the union of venues.
	var bandBid, bandAsk float64
	for _, b := range books {
		bandBid += sumLevels(b.Levels(types.Bids), func(p float64) bool { return p >= lo })
		bandAsk += sumLevels(b.Levels(types.Asks), func(p float64) bool { return p <= hi })
	}

	snap := types.MetricsSnapshot{
		Key:     key,
		Mid:     mid,
		BestBid: bestBid,
		BestAsk: bestAsk,
		BandBid: bandBid,
		BandAsk: bandAsk,
		TS:      now.UnixMilli(),
	}
	if denom := bandBid + bandAsk; denom > 0 {
		pct := bandBid / denom * 100
		snap.ImbalancePct = &pct
	}

	cutoff := now.Add(-a.tradeWindow).UnixMilli()
	var buyVol, totalVol float64
	large := 0
	for _, b := range books {
		for _, t := range a.trades.Since(b.Venue(), b.Raw(), cutoff) {
			totalVol += t.Size
			if t.Side == types.Buy {
				buyVol += t.Size
			}
			if t.Size >= a.largeTradeSize {
				large++
			}
		}
	}
	if totalVol > 0 {
		pct := buyVol / totalVol * 100
		snap.AggressorBuyPct = &pct
	}
	snap.LargeTrades = large

	return snap, true
}

// sumLevels totals the sizes of levels whose price passes the filter.
func sumLevels(levels []types.PriceLevel, within func(float64) bool) float64 {
	var sum float64
	for _, lvl := range levels {
		p, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil {
			continue
		}
		if within(p) {
			sum += lvl.Size
		}
	}
	return sum
}
