package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"marketdash/internal/model"
)

const (
	PathKlines      = "/api/v3/klines"
	PathTicker24h   = "/api/v3/ticker/24hr"
	PathTickerPrice = "/api/v3/ticker/price"
	PathDepth       = "/api/v3/depth"
)

// LatestPrice is the REST latest price payload.
type LatestPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Ticker24h is the REST 24 hour rolling statistics payload. Numbers stay as
// strings the way the exchange sends them.
type Ticker24h struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	BidPrice           string `json:"bidPrice"`
	AskPrice           string `json:"askPrice"`
	CloseTime          int64  `json:"closeTime"`
}

// DepthSnapshot is the REST order book payload.
type DepthSnapshot struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// Klines fetches up to limit candles for symbol, oldest first.
func (c *RestClient) Klines(ctx context.Context, symbol model.Symbol, interval string, limit int) ([]model.KlineRow, error) {
	params := url.Values{}
	params.Set("symbol", symbol.String())
	params.Set("interval", interval)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.Get(ctx, PathKlines, params)
	if err != nil {
		return nil, err
	}

	var rows []model.KlineRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	return rows, nil
}

// Ticker24hr fetches the 24 hour statistics for symbol.
func (c *RestClient) Ticker24hr(ctx context.Context, symbol model.Symbol) (*Ticker24h, error) {
	params := url.Values{}
	params.Set("symbol", symbol.String())

	body, err := c.Get(ctx, PathTicker24h, params)
	if err != nil {
		return nil, err
	}

	var t Ticker24h
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("decode ticker: %w", err)
	}
	return &t, nil
}

// Tickers24hr fetches the 24 hour statistics for several symbols at once.
func (c *RestClient) Tickers24hr(ctx context.Context, symbols []model.Symbol) ([]Ticker24h, error) {
	names := make([]string, 0, len(symbols))
	for _, s := range symbols {
		names = append(names, s.String())
	}
	encoded, err := json.Marshal(names)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbols", string(encoded))

	body, err := c.Get(ctx, PathTicker24h, params)
	if err != nil {
		return nil, err
	}

	var out []Ticker24h
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode tickers: %w", err)
	}
	return out, nil
}

// TickerPrice fetches the latest traded price of symbol.
func (c *RestClient) TickerPrice(ctx context.Context, symbol model.Symbol) (*LatestPrice, error) {
	params := url.Values{}
	params.Set("symbol", symbol.String())

	body, err := c.Get(ctx, PathTickerPrice, params)
	if err != nil {
		return nil, err
	}

	var p LatestPrice
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode price: %w", err)
	}
	if p.Price == "" {
		return nil, fmt.Errorf("decode price: missing price for %s", symbol)
	}
	return &p, nil
}

// Depth fetches an order book snapshot with limit levels per side.
func (c *RestClient) Depth(ctx context.Context, symbol model.Symbol, limit int) (*DepthSnapshot, error) {
	params := url.Values{}
	params.Set("symbol", symbol.String())
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.Get(ctx, PathDepth, params)
	if err != nil {
		return nil, err
	}

	var d DepthSnapshot
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, fmt.Errorf("decode depth: %w", err)
	}
	return &d, nil
}
