// kraken_ws.go implements the venue-B stream worker: one socket carrying
// book and trade subscriptions for every configured pair. Kraken delivers
// a full book snapshot at (re)subscription, so gap recovery is simply a
// reconnect.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"spotwatch/internal/errsink"
	"spotwatch/internal/market"
	"spotwatch/internal/telemetry"
	"spotwatch/pkg/types"
)

const maxKrakenPairs = 100

// krakenSubscribe is the subscription request frame.
type krakenSubscribe struct {
	Event        string             `json:"event"`
	Pair         []string           `json:"pair"`
	Subscription krakenSubscription `json:"subscription"`
}

type krakenSubscription struct {
	Name  string `json:"name"`
	Depth int    `json:"depth,omitempty"`
}

// krakenEvent is the dict-shaped control frame (heartbeats, status).
type krakenEvent struct {
	Event        string `json:"event"`
	Status       string `json:"status,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// krakenBookPayload is the payload dict of a book channel frame. A
// snapshot carries as/bs; deltas carry a/b. Level entries are
// [price, volume, timestamp] string tuples.
type krakenBookPayload struct {
	AsksSnapshot [][]string `json:"as"`
	BidsSnapshot [][]string `json:"bs"`
	Asks         [][]string `json:"a"`
	Bids         [][]string `json:"b"`
}

// KrakenFeed subscribes to book and trade channels for a fixed pair set
// on one socket and routes frames into the shared stores.
type KrakenFeed struct {
	url   string
	pairs []string
	depth int

	books  *market.Store
	trades *market.TradeStore
	sink   *errsink.Sink
	tel    *telemetry.Metrics
	logger *slog.Logger
}

// NewKrakenFeed creates the venue-B worker.
func NewKrakenFeed(url string, pairs []string, depth int, books *market.Store, trades *market.TradeStore, sink *errsink.Sink, tel *telemetry.Metrics, logger *slog.Logger) *KrakenFeed {
	if len(pairs) > maxKrakenPairs {
		pairs = pairs[:maxKrakenPairs]
	}
	return &KrakenFeed{
		url:    url,
		pairs:  pairs,
		depth:  depth,
		books:  books,
		trades: trades,
		sink:   sink,
		tel:    tel,
		logger: logger.With("component", "kraken_ws"),
	}
}

// Pairs returns the configured pair list.
func (f *KrakenFeed) Pairs() []string {
	out := make([]string, len(f.pairs))
	copy(out, f.pairs)
	return out
}

// Run connects and maintains the socket with auto-reconnect. Blocks
// until ctx is cancelled. With no configured pairs it returns at once.
func (f *KrakenFeed) Run(ctx context.Context) {
	if len(f.pairs) == 0 {
		f.logger.Info("no venue-b pairs configured, feed idle")
		return
	}

	bo := newStreamBackoff()
	for {
		err := f.connectAndRead(ctx, bo)
		if ctx.Err() != nil {
			return
		}
		f.sink.Record("kraken_ws", err)
		f.tel.ReconnectsTotal.WithLabelValues(string(types.VenueKraken)).Inc()

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			wait = maxReconnectWait
		}
		f.logger.Warn("kraken stream restarting", "error", err, "backoff", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (f *KrakenFeed) connectAndRead(ctx context.Context, bo *backoff.ExponentialBackOff) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	subs := []krakenSubscribe{
		{Event: "subscribe", Pair: f.pairs, Subscription: krakenSubscription{Name: "book", Depth: f.depth}},
		{Event: "subscribe", Pair: f.pairs, Subscription: krakenSubscription{Name: "trade"}},
	}
	for _, sub := range subs {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(sub); err != nil {
			return fmt.Errorf("subscribe %s: %w", sub.Subscription.Name, err)
		}
	}

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go pingLoop(pingCtx, conn)

	f.logger.Info("kraken stream connected", "pairs", len(f.pairs))

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.handleMessage(msg)
		bo.Reset()
	}
}

// handleMessage routes one frame: dict frames are control events, array
// frames carry channel data with the channel name at len-2 and the pair
// at len-1.
func (f *KrakenFeed) handleMessage(msg []byte) {
	if len(msg) == 0 {
		return
	}
	if msg[0] == '{' {
		var evt krakenEvent
		if err := json.Unmarshal(msg, &evt); err != nil {
			f.sink.RecordMessage("kraken_ws", "bad event frame: "+err.Error())
			return
		}
		if evt.Status == "error" {
			f.sink.RecordMessage("kraken_ws", "subscription error: "+evt.ErrorMessage)
		}
		return
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(msg, &parts); err != nil {
		f.sink.RecordMessage("kraken_ws", "bad channel frame: "+err.Error())
		return
	}
	if len(parts) < 4 {
		return
	}

	var channel, pair string
	if err := json.Unmarshal(parts[len(parts)-2], &channel); err != nil {
		return
	}
	if err := json.Unmarshal(parts[len(parts)-1], &pair); err != nil {
		return
	}

	switch {
	case channel == "trade":
		f.handleTrades(pair, parts[1])
	case len(channel) >= 4 && channel[:4] == "book":
		// Book frames may carry one or two payload dicts (asks and bids
		// arriving in the same message).
		for _, payload := range parts[1 : len(parts)-2] {
			f.handleBook(pair, payload)
		}
	}
}

func (f *KrakenFeed) handleBook(pair string, payload json.RawMessage) {
	var p krakenBookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		f.sink.RecordMessage("kraken_ws", "bad book payload: "+err.Error())
		return
	}
	f.tel.FramesTotal.WithLabelValues(string(types.VenueKraken), "book").Inc()

	book := f.books.GetOrCreate(types.VenueKraken, pair)
	if p.AsksSnapshot != nil {
		book.ReplaceSide(types.Asks, p.AsksSnapshot)
	}
	if p.BidsSnapshot != nil {
		book.ReplaceSide(types.Bids, p.BidsSnapshot)
	}
	if p.Bids != nil || p.Asks != nil {
		book.ApplyDelta(p.Bids, p.Asks)
	}
}

func (f *KrakenFeed) handleTrades(pair string, payload json.RawMessage) {
	var tuples [][]string
	if err := json.Unmarshal(payload, &tuples); err != nil {
		f.sink.RecordMessage("kraken_ws", "bad trade payload: "+err.Error())
		return
	}
	f.tel.FramesTotal.WithLabelValues(string(types.VenueKraken), "trade").Inc()

	for _, tuple := range tuples {
		trade, ok := tradeFromTuple(tuple)
		if !ok {
			continue
		}
		f.trades.Push(types.VenueKraken, pair, trade)
	}
}

// tradeFromTuple converts a [price, volume, time, side, ...] tuple.
// Aggressor code "b" is a buy; anything else is a sell. The timestamp is
// decimal seconds and converts to ms.
func tradeFromTuple(tuple []string) (types.Trade, bool) {
	if len(tuple) < 4 {
		return types.Trade{}, false
	}
	price, err := strconv.ParseFloat(tuple[0], 64)
	if err != nil {
		return types.Trade{}, false
	}
	size, err := strconv.ParseFloat(tuple[1], 64)
	if err != nil {
		return types.Trade{}, false
	}
	sec, err := strconv.ParseFloat(tuple[2], 64)
	if err != nil {
		return types.Trade{}, false
	}
	side := types.Sell
	if tuple[3] == "b" {
		side = types.Buy
	}
	return types.Trade{Price: price, Size: size, Side: side, TS: int64(sec * 1000)}, true
}
