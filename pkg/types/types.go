// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the watcher: venues, sides,
// book levels, trades, wire payloads for the two venue feeds, and the
// derived metric/alert payloads. It has no dependencies on internal
// packages, so it can be imported by any layer.
package types

import "strings"

// ----------------------------------------------------------------------
// Core enums
// ----------------------------------------------------------------------

// Venue identifies a market data source.
type Venue string

const (
	VenueBinance Venue = "binance"
	VenueKraken  Venue = "kraken"
)

// Side is the aggressor side of a trade: which party initiated execution.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// BookSide selects one half of an order book.
type BookSide string

const (
	Bids BookSide = "bids"
	Asks BookSide = "asks"
)

// AlertLevel classifies a scored alert.
type AlertLevel string

const (
	LevelNone   AlertLevel = "none"
	LevelGreen  AlertLevel = "green"
	LevelOrange AlertLevel = "orange"
)

// ----------------------------------------------------------------------
// Book and trade primitives
// ----------------------------------------------------------------------

// PriceLevel is a single bid or ask level. Price stays a canonical string
// (the form the venue transports) so equal levels merge exactly across
// snapshot and delta frames; Size is the resting quantity.
type PriceLevel struct {
	Price string  `json:"price"`
	Size  float64 `json:"size"`
}

// Trade is one executed trade with its aggressor side.
type Trade struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
	Side  Side    `json:"side"`
	TS    int64   `json:"ts"` // exchange event time, ms since epoch
}

// ----------------------------------------------------------------------
// Binance wire payloads
// ----------------------------------------------------------------------

// DepthSnapshot is the REST response from GET /api/v3/depth.
// Bids/Asks entries are [price, qty] string pairs.
type DepthSnapshot struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// DepthUpdate is a diff-depth stream event (<sym>@depth@100ms).
// FirstID/FinalID are the [U, u] bounds of the contained update ids.
type DepthUpdate struct {
	EventType string     `json:"e"`
	EventTime int64      `json:"E"`
	Symbol    string     `json:"s"`
	FirstID   int64      `json:"U"`
	FinalID   int64      `json:"u"`
	Bids      [][]string `json:"b"`
	Asks      [][]string `json:"a"`
}

// TradeUpdate is a trade stream event (<sym>@trade). IsBuyerMaker false
// means the buyer was the taker, i.e. a buy-aggressor trade.
type TradeUpdate struct {
	EventType    string `json:"e"`
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// ExchangeInfo is the subset of GET /api/v3/exchangeInfo we consume.
type ExchangeInfo struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// SymbolInfo describes one listed symbol. IsSpotTradingAllowed is a
// pointer because older payloads omit the field; absent means allowed.
type SymbolInfo struct {
	Symbol               string `json:"symbol"`
	Status               string `json:"status"`
	QuoteAsset           string `json:"quoteAsset"`
	IsSpotTradingAllowed *bool  `json:"isSpotTradingAllowed,omitempty"`
}

// Ticker24h is one entry of GET /api/v3/ticker/24hr.
type Ticker24h struct {
	Symbol             string `json:"symbol"`
	PriceChangePercent string `json:"priceChangePercent"`
	QuoteVolume        string `json:"quoteVolume"`
}

// ----------------------------------------------------------------------
// Derived state payloads
// ----------------------------------------------------------------------

// MetricsSnapshot is the per-key output of the aggregator, recomputed on
// a fixed cadence. ImbalancePct and AggressorBuyPct are nil when their
// denominators are zero.
type MetricsSnapshot struct {
	Key             string   `json:"key"`
	Mid             float64  `json:"mid"`
	BestBid         float64  `json:"best_bid"`
	BestAsk         float64  `json:"best_ask"`
	BandBid         float64  `json:"band_bid"`
	BandAsk         float64  `json:"band_ask"`
	ImbalancePct    *float64 `json:"imbalance_pct"`
	AggressorBuyPct *float64 `json:"aggressor_buy_pct_5m"`
	LargeTrades     int      `json:"large_trades_5m"`
	TS              int64    `json:"ts"`
}

// Alert is a scored finding for one normalized key.
type Alert struct {
	Key       string          `json:"key"`
	Score     int             `json:"score"`
	Level     AlertLevel      `json:"level"`
	Snapshot  MetricsSnapshot `json:"snap"`
	EmittedAt int64           `json:"t"`
}

// UniverseSample is the result of one universe fetch.
type UniverseSample struct {
	VenueA []string `json:"venue_a"`
	VenueB []string `json:"venue_b"`
	TS     int64    `json:"ts"`
}

// ScanSummary records the outcome of one symbol-manager rescan.
type ScanSummary struct {
	TS      int64    `json:"ts"`
	Targets []string `json:"targets"`
	Running []string `json:"running"`
}

// ----------------------------------------------------------------------
// Symbol normalization
// ----------------------------------------------------------------------

// commonQuotes are quote assets we recognize when extracting a base
// token, longest first so USDT wins over USD.
var commonQuotes = []string{"USDT", "USDC", "TUSD", "BUSD", "USD", "EUR", "GBP", "BTC", "ETH", "BNB"}

// NormalizedKey maps a venue-specific raw symbol to the canonical
// base+USD form used to merge books across venues:
//
//	binance "XYZUSDT" -> "XYZUSD"
//	kraken  "XYZ/USD" -> "XYZUSD"
//
// Symbols with other quotes are returned with separators stripped, so
// they still key consistently within a single venue.
func NormalizedKey(venue Venue, raw string) string {
	s := strings.ToUpper(strings.ReplaceAll(raw, "/", ""))
	switch venue {
	case VenueBinance, VenueKraken:
		if strings.HasSuffix(s, "USDT") {
			return strings.TrimSuffix(s, "USDT") + "USD"
		}
	}
	return s
}

// BaseAsset extracts the base token from a raw symbol or pair, e.g.
// "XRPUSDT" -> "XRP", "XRP/USD" -> "XRP". Unrecognized quotes fall back
// to the whole (separator-stripped) symbol.
func BaseAsset(raw string) string {
	s := strings.ToUpper(strings.ReplaceAll(raw, "/", ""))
	for _, q := range commonQuotes {
		if len(s) > len(q) && strings.HasSuffix(s, q) {
			return strings.TrimSuffix(s, q)
		}
	}
	return s
}
