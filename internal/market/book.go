// Package market provides the in-memory market state: per-(venue,symbol)
// order books and bounded trade rings.
//
// A Book mirrors one venue's book for one raw symbol. It is updated from
// two sources:
//   - REST snapshots / subscription snapshots via ApplySnapshot and
//     ReplaceSide (initial load, venue-B resubscription)
//   - streaming deltas via ApplyDelta (size 0 deletes a level)
//
// Each book is written by exactly one stream worker; readers take a short
// lock and copy levels out. Books are pruned to MaxLevels per side after
// every mutation.
package market

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"spotwatch/pkg/types"
)

// MaxLevels is the per-side cap applied after any mutation.
const MaxLevels = 300

// Book maintains one venue's order book for a single raw symbol.
// Prices are canonical strings so the same level arriving as "10.50"
// and "10.5000" lands on one map key.
type Book struct {
	mu           sync.RWMutex
	venue        types.Venue
	raw          string
	bids         map[string]float64
	asks         map[string]float64
	lastUpdateID int64 // venue-A sequence position; 0 where the venue has none
	updated      time.Time
}

// NewBook creates an empty book.
func NewBook(venue types.Venue, raw string) *Book {
	return &Book{
		venue: venue,
		raw:   raw,
		bids:  make(map[string]float64),
		asks:  make(map[string]float64),
	}
}

// Venue returns the owning venue.
func (b *Book) Venue() types.Venue { return b.venue }

// Raw returns the venue-specific symbol.
func (b *Book) Raw() string { return b.raw }

// ApplySnapshot replaces both sides and records the snapshot's update id.
func (b *Book) ApplySnapshot(bids, asks [][]string, updateID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids = make(map[string]float64, len(bids))
	b.asks = make(map[string]float64, len(asks))
	applyPairsLocked(b.bids, bids)
	applyPairsLocked(b.asks, asks)
	b.lastUpdateID = updateID
	b.pruneLocked()
	b.updated = time.Now()
}

// ApplyDelta applies per-level updates to both sides: size 0 deletes the
// level, any other size overwrites it. The book is pruned afterwards.
func (b *Book) ApplyDelta(bidUpdates, askUpdates [][]string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	applyPairsLocked(b.bids, bidUpdates)
	applyPairsLocked(b.asks, askUpdates)
	b.pruneLocked()
	b.updated = time.Now()
}

// ReplaceSide replaces one full side, used for venue-B subscription
// snapshots that deliver as/bs frames per side.
func (b *Book) ReplaceSide(side types.BookSide, levels [][]string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := make(map[string]float64, len(levels))
	applyPairsLocked(m, levels)
	if side == types.Bids {
		b.bids = m
	} else {
		b.asks = m
	}
	b.pruneLocked()
	b.updated = time.Now()
}

// SetLastUpdateID advances the venue-A sequence position.
func (b *Book) SetLastUpdateID(id int64) {
	b.mu.Lock()
	b.lastUpdateID = id
	b.mu.Unlock()
}

// LastUpdateID returns the current sequence position (0 if none).
func (b *Book) LastUpdateID() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdateID
}

// BestBidAsk returns the best bid and ask. ok is false when either side
// is empty.
func (b *Book) BestBidAsk() (bid, ask float64, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.bids) == 0 || len(b.asks) == 0 {
		return 0, 0, false
	}
	for p := range b.bids {
		if v := parsePrice(p); v > bid {
			bid = v
		}
	}
	first := true
	for p := range b.asks {
		if v := parsePrice(p); first || v < ask {
			ask = v
			first = false
		}
	}
	return bid, ask, true
}

// Top returns the best n levels of one side: bids descending by price,
// asks ascending.
func (b *Book) Top(side types.BookSide, n int) []types.PriceLevel {
	levels := b.Levels(side)
	desc := side == types.Bids
	sort.Slice(levels, func(i, j int) bool {
		pi, pj := parsePrice(levels[i].Price), parsePrice(levels[j].Price)
		if desc {
			return pi > pj
		}
		return pi < pj
	})
	if n > 0 && len(levels) > n {
		levels = levels[:n]
	}
	return levels
}

// Levels copies one side out as an unordered slice.
func (b *Book) Levels(side types.BookSide) []types.PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()

	src := b.bids
	if side == types.Asks {
		src = b.asks
	}
	out := make([]types.PriceLevel, 0, len(src))
	for p, sz := range src {
		out = append(out, types.PriceLevel{Price: p, Size: sz})
	}
	return out
}

// LastUpdated returns the timestamp of the last mutation.
func (b *Book) LastUpdated() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}

// applyPairsLocked folds [price, qty] string pairs into a side map.
func applyPairsLocked(side map[string]float64, pairs [][]string) {
	for _, pair := range pairs {
		if len(pair) < 2 {
			continue
		}
		price := canonicalPrice(pair[0])
		size, err := strconv.ParseFloat(pair[1], 64)
		if err != nil {
			continue
		}
		if size == 0 {
			delete(side, price)
		} else {
			side[price] = size
		}
	}
}

// pruneLocked keeps the best MaxLevels per side and drops non-positive
// sizes that slipped through.
func (b *Book) pruneLocked() {
	pruneSide(b.bids, true)
	pruneSide(b.asks, false)
}

func pruneSide(side map[string]float64, bids bool) {
	for p, sz := range side {
		if sz <= 0 {
			delete(side, p)
		}
	}
	if len(side) <= MaxLevels {
		return
	}
	prices := make([]string, 0, len(side))
	for p := range side {
		prices = append(prices, p)
	}
	sort.Slice(prices, func(i, j int) bool {
		pi, pj := parsePrice(prices[i]), parsePrice(prices[j])
		if bids {
			return pi > pj
		}
		return pi < pj
	})
	for _, p := range prices[MaxLevels:] {
		delete(side, p)
	}
}

// canonicalPrice normalizes a venue price string so "10.50", "10.5" and
// "10.5000000" share one map key. Unparseable strings pass through.
func canonicalPrice(p string) string {
	d, err := decimal.NewFromString(p)
	if err != nil {
		return p
	}
	return d.String()
}

func parsePrice(p string) float64 {
	v, _ := strconv.ParseFloat(p, 64)
	return v
}

// Store holds all live books keyed by (venue, raw symbol). A book is
// created by its stream worker and dropped when the symbol stops.
type Store struct {
	mu    sync.RWMutex
	books map[bookKey]*Book
}

type bookKey struct {
	venue types.Venue
	raw   string
}

// NewStore creates an empty book store.
func NewStore() *Store {
	return &Store{books: make(map[bookKey]*Book)}
}

// GetOrCreate returns the book for (venue, raw), creating it if absent.
func (s *Store) GetOrCreate(venue types.Venue, raw string) *Book {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := bookKey{venue, raw}
	if b, ok := s.books[k]; ok {
		return b
	}
	b := NewBook(venue, raw)
	s.books[k] = b
	return b
}

// Get returns the book for (venue, raw) or nil.
func (s *Store) Get(venue types.Venue, raw string) *Book {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.books[bookKey{venue, raw}]
}

// Drop discards the book for (venue, raw).
func (s *Store) Drop(venue types.Venue, raw string) {
	s.mu.Lock()
	delete(s.books, bookKey{venue, raw})
	s.mu.Unlock()
}

// All returns all live books.
func (s *Store) All() []*Book {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Book, 0, len(s.books))
	for _, b := range s.books {
		out = append(out, b)
	}
	return out
}

// RawSymbols lists the raw symbols currently tracked for a venue.
func (s *Store) RawSymbols(venue types.Venue) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for k := range s.books {
		if k.venue == venue {
			out = append(out, k.raw)
		}
	}
	sort.Strings(out)
	return out
}
