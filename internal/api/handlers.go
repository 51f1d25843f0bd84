package api

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"spotwatch/internal/market"
	"spotwatch/pkg/types"
)

// defaultMinUSD is the /signal large-level floor when min_usd is absent.
const defaultMinUSD = 200000.0

// booksTopN bounds the levels returned per side by /books.
const booksTopN = 50

// largeLevel is one resting level whose notional clears the floor.
type largeLevel struct {
	Venue    types.Venue    `json:"venue"`
	Side     types.BookSide `json:"side"`
	Price    string         `json:"price"`
	Size     float64        `json:"size"`
	Notional float64        `json:"notional"`
}

// bookView is one venue's book in a /books response.
type bookView struct {
	Raw     string             `json:"raw"`
	BestBid float64            `json:"best_bid"`
	BestAsk float64            `json:"best_ask"`
	Bids    []types.PriceLevel `json:"bids"`
	Asks    []types.PriceLevel `json:"asks"`
	Updated int64              `json:"updated"`
}

// handleRoot reports service status.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"service":       "spotwatch",
		"ts":            time.Now().UnixMilli(),
		"uptime_sec":    int(time.Since(s.started).Seconds()),
		"running":       s.rt.Running(),
		"venue_b_pairs": s.rt.VenueBPairs(),
		"tracked_keys":  len(s.rt.Metrics().Snapshot()),
	})
}

// handleUniverse reports the streamed symbols per venue plus the last
// raw sample.
func (s *Server) handleUniverse(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"ts": time.Now().UnixMilli(),
		"universe": map[string]any{
			"venue_a": s.rt.Running(),
			"venue_b": s.rt.VenueBPairs(),
		},
		"sample": s.rt.LastSample(),
	})
}

// handleSignal returns the current metric snapshots, the alert trail,
// and per-symbol resting levels whose notional clears the min_usd floor.
func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	minUSD := defaultMinUSD
	if raw := r.URL.Query().Get("min_usd"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "min_usd must be a non-negative number")
			return
		}
		minUSD = v
	}

	levels := make(map[string][]largeLevel)
	for _, b := range s.rt.Books().All() {
		for _, side := range []types.BookSide{types.Bids, types.Asks} {
			for _, lvl := range b.Levels(side) {
				price, err := strconv.ParseFloat(lvl.Price, 64)
				if err != nil {
					continue
				}
				notional := price * lvl.Size
				if notional < minUSD {
					continue
				}
				levels[b.Raw()] = append(levels[b.Raw()], largeLevel{
					Venue:    b.Venue(),
					Side:     side,
					Price:    lvl.Price,
					Size:     lvl.Size,
					Notional: notional,
				})
			}
		}
	}
	for _, lvls := range levels {
		sort.Slice(lvls, func(i, j int) bool { return lvls[i].Notional > lvls[j].Notional })
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":              true,
		"min_usd":         minUSD,
		"running_symbols": s.rt.Running(),
		"metrics":         s.rt.Metrics().Snapshot(),
		"large_levels":    levels,
		"alerts":          s.rt.Signals().Trail(),
	})
}

// handleBooks returns the live books for one base asset, keyed by venue.
// A base without a streamed book falls back to a one-off venue snapshot.
func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	base := r.URL.Query().Get("symbol")
	if base == "" {
		writeError(w, http.StatusBadRequest, "symbol query parameter required")
		return
	}
	base = types.BaseAsset(base)

	views := make(map[types.Venue]bookView)
	for _, b := range s.rt.Books().All() {
		if types.BaseAsset(b.Raw()) != base {
			continue
		}
		views[b.Venue()] = viewOf(b)
	}

	if len(views) == 0 {
		symbol := base + "USDT"
		snap, err := s.snap.DepthSnapshot(r.Context(), symbol, s.depthLimit)
		if err != nil {
			writeError(w, http.StatusBadGateway, "snapshot fetch failed: "+err.Error())
			return
		}
		b := market.NewBook(types.VenueBinance, symbol)
		b.ApplySnapshot(snap.Bids, snap.Asks, snap.LastUpdateID)
		views[types.VenueBinance] = viewOf(b)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"symbol": base,
		"books":  views,
	})
}

func viewOf(b *market.Book) bookView {
	bid, ask, _ := b.BestBidAsk()
	return bookView{
		Raw:     b.Raw(),
		BestBid: bid,
		BestAsk: ask,
		Bids:    b.Top(types.Bids, booksTopN),
		Asks:    b.Top(types.Asks, booksTopN),
		Updated: b.LastUpdated().UnixMilli(),
	}
}

// handleLast reports the last scan outcome, the alert trail, and the
// recent worker error trail.
func (s *Server) handleLast(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"last_scan":     s.rt.LastScan(),
		"last_findings": s.rt.Signals().Trail(),
		"sample":        s.rt.LastSample(),
		"errors":        s.rt.Sink().Entries(),
	})
}
