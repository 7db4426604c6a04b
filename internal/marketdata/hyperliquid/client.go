// Package hyperliquid fetches closed OHLCV candles from the Hyperliquid info
// API and keeps the local price series up to date.
package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"confluence-signals/internal/model"
)

// DefaultBaseURL is the public info endpoint.
const DefaultBaseURL = "https://api.hyperliquid.xyz/info"

// FetchError reports that candles for a pair could not be retrieved. The
// pair is skipped for the current cycle.
type FetchError struct {
	Asset    string
	Interval model.Interval
	Status   int // HTTP status, 0 for transport or decode failures
	Err      error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s %s: status %d: %v", e.Asset, e.Interval, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s %s: %v", e.Asset, e.Interval, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the info endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// Client is a minimal candleSnapshot client.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client with a 15s timeout.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type snapshotRequest struct {
	Type string      `json:"type"`
	Req  snapshotReq `json:"req"`
}

type snapshotReq struct {
	Coin      string `json:"coin"`
	Interval  string `json:"interval"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
}

// candle is the wire form; prices and volume arrive as decimal strings.
type candle struct {
	OpenMs  int64  `json:"t"`
	CloseMs int64  `json:"T"`
	Symbol  string `json:"s"`
	Iv      string `json:"i"`
	Open    string `json:"o"`
	Close   string `json:"c"`
	High    string `json:"h"`
	Low     string `json:"l"`
	Volume  string `json:"v"`
	Trades  int64  `json:"n"`
}

// Candles returns the candles for asset whose open time falls in
// [start, end], oldest first. The still-forming candle may be included.
func (c *Client) Candles(ctx context.Context, asset string, iv model.Interval, start, end time.Time) ([]model.PriceBar, error) {
	fail := func(status int, err error) error {
		return &FetchError{Asset: asset, Interval: iv, Status: status, Err: err}
	}

	body, err := json.Marshal(snapshotRequest{
		Type: "candleSnapshot",
		Req: snapshotReq{
			Coin:      asset,
			Interval:  string(iv),
			StartTime: start.UnixMilli(),
			EndTime:   end.UnixMilli(),
		},
	})
	if err != nil {
		return nil, fail(0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fail(0, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fail(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fail(resp.StatusCode, fmt.Errorf("%s", bytes.TrimSpace(msg)))
	}

	var raw []candle
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fail(0, fmt.Errorf("decode: %w", err))
	}

	bars := make([]model.PriceBar, 0, len(raw))
	for _, r := range raw {
		b, err := r.toBar(asset, iv)
		if err != nil {
			return nil, fail(0, err)
		}
		bars = append(bars, b)
	}
	return bars, nil
}

func (r candle) toBar(asset string, iv model.Interval) (model.PriceBar, error) {
	b := model.PriceBar{Asset: asset, Interval: iv, Timestamp: r.OpenMs / 1000}
	fields := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"open", r.Open, &b.Open},
		{"high", r.High, &b.High},
		{"low", r.Low, &b.Low},
		{"close", r.Close, &b.Close},
		{"volume", r.Volume, &b.Volume},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(f.raw, 64)
		if err != nil {
			return b, fmt.Errorf("candle %d %s %q: %w", r.OpenMs, f.name, f.raw, err)
		}
		*f.dst = v
	}
	return b, nil
}
