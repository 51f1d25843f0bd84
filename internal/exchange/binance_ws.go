// binance_ws.go implements the per-symbol venue-A stream workers.
//
// Each streamed symbol runs one SymbolFeed with two subtasks sharing the
// symbol's book and trade ring:
//
//   - depth worker: seeds the book from a REST snapshot, then applies
//     <sym>@depth@100ms deltas under the sequencer's ordering protocol.
//     A sequence gap discards the book and restarts from the snapshot.
//
//   - trade worker: consumes <sym>@trade and records each trade with the
//     aggressor side derived from the maker flag.
//
// Both subtasks reconnect with exponential backoff (1s doubling to a 30s
// cap) and report transient faults to the error sink.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"spotwatch/internal/errsink"
	"spotwatch/internal/market"
	"spotwatch/internal/telemetry"
	"spotwatch/pkg/types"
)

const (
	pingInterval     = 20 * time.Second
	readTimeout      = 40 * time.Second // two missed pings
	writeTimeout     = 10 * time.Second
	initialBackoff   = time.Second
	maxReconnectWait = 30 * time.Second
)

var errSequenceGap = errors.New("depth sequence gap")

// SymbolFeed streams one venue-A symbol into the shared book and trade
// stores. Run blocks until the context is cancelled; Stop is performed by
// the symbol manager cancelling that context and dropping the state.
type SymbolFeed struct {
	symbol     string
	wsURL      string // ws endpoint root, e.g. wss://stream.binance.com:9443/ws
	depthLimit int

	rest   *BinanceClient
	books  *market.Store
	trades *market.TradeStore
	sink   *errsink.Sink
	tel    *telemetry.Metrics
	logger *slog.Logger
}

// NewSymbolFeed creates the worker pair for one symbol.
func NewSymbolFeed(symbol, wsURL string, depthLimit int, rest *BinanceClient, books *market.Store, trades *market.TradeStore, sink *errsink.Sink, tel *telemetry.Metrics, logger *slog.Logger) *SymbolFeed {
	return &SymbolFeed{
		symbol:     symbol,
		wsURL:      strings.TrimSuffix(wsURL, "/"),
		depthLimit: depthLimit,
		rest:       rest,
		books:      books,
		trades:     trades,
		sink:       sink,
		tel:        tel,
		logger:     logger.With("component", "binance_ws", "symbol", symbol),
	}
}

// Run starts the depth and trade subtasks and blocks until ctx ends.
func (f *SymbolFeed) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		f.runDepth(ctx)
	}()
	go func() {
		defer wg.Done()
		f.runTrades(ctx)
	}()
	wg.Wait()
}

// runDepth is the snapshot+delta reconciliation loop.
func (f *SymbolFeed) runDepth(ctx context.Context) {
	bo := newStreamBackoff()

	for {
		err := f.syncAndStream(ctx, bo)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, errSequenceGap) {
			f.tel.ResyncsTotal.Inc()
		}
		f.sink.Record("binance_depth:"+f.symbol, err)
		f.tel.ReconnectsTotal.WithLabelValues(string(types.VenueBinance)).Inc()

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			wait = maxReconnectWait
		}
		f.logger.Warn("depth stream restarting", "error", err, "backoff", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// syncAndStream performs one full snapshot+delta cycle: REST seed, dial,
// then contiguous delta application until the connection or the sequence
// breaks.
func (f *SymbolFeed) syncAndStream(ctx context.Context, bo *backoff.ExponentialBackOff) error {
	snap, err := f.rest.DepthSnapshot(ctx, f.symbol, f.depthLimit)
	if err != nil {
		return err
	}

	book := f.books.GetOrCreate(types.VenueBinance, f.symbol)
	book.ApplySnapshot(snap.Bids, snap.Asks, snap.LastUpdateID)
	seq := newSequencer(snap.LastUpdateID)

	url := fmt.Sprintf("%s/%s@depth@100ms", f.wsURL, strings.ToLower(f.symbol))
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial depth: %w", err)
	}
	defer conn.Close()

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go pingLoop(pingCtx, conn)

	f.logger.Info("depth stream connected", "snapshot_id", snap.LastUpdateID)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read depth: %w", err)
		}

		var upd types.DepthUpdate
		if err := json.Unmarshal(msg, &upd); err != nil {
			f.sink.RecordMessage("binance_depth:"+f.symbol, "bad frame: "+err.Error())
			continue
		}
		f.tel.FramesTotal.WithLabelValues(string(types.VenueBinance), "depth").Inc()

		switch seq.accept(upd.FirstID, upd.FinalID) {
		case seqDrop:
			continue
		case seqResync:
			return fmt.Errorf("%w: have %d, got [%d,%d]", errSequenceGap, book.LastUpdateID(), upd.FirstID, upd.FinalID)
		case seqApply:
			book.ApplyDelta(upd.Bids, upd.Asks)
			book.SetLastUpdateID(upd.FinalID)
			bo.Reset()
		}
	}
}

// runTrades is the trade stream loop.
func (f *SymbolFeed) runTrades(ctx context.Context) {
	bo := newStreamBackoff()

	for {
		err := f.streamTrades(ctx, bo)
		if ctx.Err() != nil {
			return
		}
		f.sink.Record("binance_trade:"+f.symbol, err)
		f.tel.ReconnectsTotal.WithLabelValues(string(types.VenueBinance)).Inc()

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			wait = maxReconnectWait
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (f *SymbolFeed) streamTrades(ctx context.Context, bo *backoff.ExponentialBackOff) error {
	url := fmt.Sprintf("%s/%s@trade", f.wsURL, strings.ToLower(f.symbol))
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial trade: %w", err)
	}
	defer conn.Close()

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go pingLoop(pingCtx, conn)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read trade: %w", err)
		}

		var upd types.TradeUpdate
		if err := json.Unmarshal(msg, &upd); err != nil {
			f.sink.RecordMessage("binance_trade:"+f.symbol, "bad frame: "+err.Error())
			continue
		}
		f.tel.FramesTotal.WithLabelValues(string(types.VenueBinance), "trade").Inc()

		trade, ok := tradeFromUpdate(upd)
		if !ok {
			continue
		}
		f.trades.Push(types.VenueBinance, f.symbol, trade)
		bo.Reset()
	}
}

// tradeFromUpdate converts a wire trade to the internal form. A false
// maker flag means the buyer was the taker, i.e. a buy-aggressor.
func tradeFromUpdate(upd types.TradeUpdate) (types.Trade, bool) {
	price, err := strconv.ParseFloat(upd.Price, 64)
	if err != nil {
		return types.Trade{}, false
	}
	size, err := strconv.ParseFloat(upd.Quantity, 64)
	if err != nil {
		return types.Trade{}, false
	}
	side := types.Buy
	if upd.IsBuyerMaker {
		side = types.Sell
	}
	return types.Trade{Price: price, Size: size, Side: side, TS: upd.TradeTime}, true
}

// pingLoop keeps the connection alive; a failed write ends the loop and
// the read deadline takes the session down.
func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// newStreamBackoff builds the shared reconnect policy: 1s doubling to a
// 30s cap.
func newStreamBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialBackoff
	bo.MaxInterval = maxReconnectWait
	// Reconnect indefinitely; never return Stop from NextBackOff.
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}
