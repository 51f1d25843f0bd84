package market

import (
	"sync"

	"spotwatch/pkg/types"
)

// DefaultTradeCapacity bounds each trade ring.
const DefaultTradeCapacity = 6000

// TradeRing is a bounded FIFO of trades for one (venue, symbol). The
// oldest trade is evicted on overflow. One stream worker writes; metrics
// and endpoint readers copy out under the lock.
type TradeRing struct {
	mu    sync.RWMutex
	buf   []types.Trade
	head  int // index of the oldest entry
	count int
}

// NewTradeRing creates a ring with the given capacity (DefaultTradeCapacity
// if cap <= 0).
func NewTradeRing(capacity int) *TradeRing {
	if capacity <= 0 {
		capacity = DefaultTradeCapacity
	}
	return &TradeRing{buf: make([]types.Trade, capacity)}
}

// Push appends a trade, evicting the oldest when full.
func (r *TradeRing) Push(t types.Trade) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = t
		r.count++
		return
	}
	r.buf[r.head] = t
	r.head = (r.head + 1) % len(r.buf)
}

// Since returns all trades with TS >= cutoffMS, oldest first.
func (r *TradeRing) Since(cutoffMS int64) []types.Trade {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []types.Trade
	for i := 0; i < r.count; i++ {
		t := r.buf[(r.head+i)%len(r.buf)]
		if t.TS >= cutoffMS {
			out = append(out, t)
		}
	}
	return out
}

// Len returns the number of buffered trades.
func (r *TradeRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// TradeStore holds the trade rings keyed by (venue, raw symbol).
type TradeStore struct {
	mu       sync.RWMutex
	rings    map[bookKey]*TradeRing
	capacity int
}

// NewTradeStore creates a store whose rings have the given capacity.
func NewTradeStore(capacity int) *TradeStore {
	return &TradeStore{rings: make(map[bookKey]*TradeRing), capacity: capacity}
}

// Push records a trade for (venue, raw), creating the ring if absent.
func (s *TradeStore) Push(venue types.Venue, raw string, t types.Trade) {
	s.mu.Lock()
	k := bookKey{venue, raw}
	r, ok := s.rings[k]
	if !ok {
		r = NewTradeRing(s.capacity)
		s.rings[k] = r
	}
	s.mu.Unlock()

	r.Push(t)
}

// Since returns trades for (venue, raw) with TS >= cutoffMS.
func (s *TradeStore) Since(venue types.Venue, raw string, cutoffMS int64) []types.Trade {
	s.mu.RLock()
	r := s.rings[bookKey{venue, raw}]
	s.mu.RUnlock()
	if r == nil {
		return nil
	}
	return r.Since(cutoffMS)
}

// Drop discards the ring for (venue, raw).
func (s *TradeStore) Drop(venue types.Venue, raw string) {
	s.mu.Lock()
	delete(s.rings, bookKey{venue, raw})
	s.mu.Unlock()
}
