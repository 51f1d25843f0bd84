// Package exchange implements the venue clients: the Binance REST client
// used for depth snapshots and universe sampling, the per-symbol Binance
// stream workers, and the multiplexed Kraken stream worker.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"spotwatch/pkg/types"
)

const (
	restTimeout       = 10 * time.Second
	universeRetries   = 2 // 3 attempts total
	universeRetryWait = 500 * time.Millisecond
	maxSnapshotDepth  = 1000
)

// BinanceClient is the venue-A REST client. Requests are paced by a
// shared rate limiter; the universe endpoints additionally sit behind a
// circuit breaker so a flapping venue does not burn the retry budget on
// every scan.
type BinanceClient struct {
	http    *resty.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewBinanceClient creates a REST client rooted at baseURL.
func NewBinanceClient(baseURL string, logger *slog.Logger) *BinanceClient {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(restTimeout).
		SetRetryCount(universeRetries).
		SetRetryWaitTime(universeRetryWait).
		SetRetryMaxWaitTime(universeRetryWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Accept", "application/json")

	st := gobreaker.Settings{Name: "binance-rest"}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	}

	return &BinanceClient{
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		breaker: gobreaker.NewCircuitBreaker(st),
		logger:  logger.With("component", "binance_rest"),
	}
}

// DepthSnapshot fetches the order book seed for one symbol. The venue
// caps depth at 1000 regardless of the configured limit.
func (c *BinanceClient) DepthSnapshot(ctx context.Context, symbol string, limit int) (*types.DepthSnapshot, error) {
	if limit > maxSnapshotDepth {
		limit = maxSnapshotDepth
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var result types.DepthSnapshot
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&result).
		Get("/api/v3/depth")
	if err != nil {
		return nil, fmt.Errorf("depth snapshot %s: %w", symbol, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("depth snapshot %s: status %d: %s", symbol, resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// ExchangeInfo fetches the full symbol listing.
func (c *BinanceClient) ExchangeInfo(ctx context.Context) (*types.ExchangeInfo, error) {
	out, err := c.breaker.Execute(func() (any, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		var result types.ExchangeInfo
		resp, err := c.http.R().
			SetContext(ctx).
			SetResult(&result).
			Get("/api/v3/exchangeInfo")
		if err != nil {
			return nil, fmt.Errorf("exchange info: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("exchange info: status %d", resp.StatusCode())
		}
		return &result, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(*types.ExchangeInfo), nil
}

// Tickers24h fetches rolling 24h stats for all symbols.
func (c *BinanceClient) Tickers24h(ctx context.Context) ([]types.Ticker24h, error) {
	out, err := c.breaker.Execute(func() (any, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		var result []types.Ticker24h
		resp, err := c.http.R().
			SetContext(ctx).
			SetResult(&result).
			Get("/api/v3/ticker/24hr")
		if err != nil {
			return nil, fmt.Errorf("tickers: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("tickers: status %d", resp.StatusCode())
		}
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]types.Ticker24h), nil
}
