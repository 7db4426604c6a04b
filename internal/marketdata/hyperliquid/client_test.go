package hyperliquid

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confluence-signals/internal/model"
)

const hour = int64(3600)

func candleJSON(openSec int64, close string) map[string]any {
	return map[string]any{
		"t": openSec * 1000, "T": (openSec+hour)*1000 - 1,
		"s": "BTC", "i": "1h",
		"o": "100.0", "c": close, "h": "110.5", "l": "95.25", "v": "1234.5", "n": 42,
	}
}

func TestClient_Candles(t *testing.T) {
	var got snapshotRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode([]map[string]any{
			candleJSON(1000*hour, "105.5"),
			candleJSON(1001*hour, "106"),
		})
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	start := time.Unix(1000*hour, 0)
	bars, err := c.Candles(context.Background(), "BTC", model.Interval1h, start, start.Add(2*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, "candleSnapshot", got.Type)
	assert.Equal(t, "BTC", got.Req.Coin)
	assert.Equal(t, "1h", got.Req.Interval)
	assert.Equal(t, start.UnixMilli(), got.Req.StartTime)

	require.Len(t, bars, 2)
	assert.Equal(t, model.PriceBar{
		Asset: "BTC", Interval: model.Interval1h, Timestamp: 1000 * hour,
		Open: 100, High: 110.5, Low: 95.25, Close: 105.5, Volume: 1234.5,
	}, bars[0])
	assert.Equal(t, 106.0, bars[1].Close)
}

func TestClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient(WithBaseURL(srv.URL)).Candles(context.Background(), "ETH", model.Interval4h, time.Now(), time.Now())
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusTooManyRequests, fe.Status)
	assert.Equal(t, "ETH", fe.Asset)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestClient_BadNumber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{candleJSON(hour, "not-a-number")})
	}))
	defer srv.Close()

	_, err := NewClient(WithBaseURL(srv.URL)).Candles(context.Background(), "BTC", model.Interval1h, time.Now(), time.Now())
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Zero(t, fe.Status)
}

type fakeSource struct {
	bars  []model.PriceBar
	start time.Time
}

func (f *fakeSource) Candles(_ context.Context, _ string, _ model.Interval, start, _ time.Time) ([]model.PriceBar, error) {
	f.start = start
	return f.bars, nil
}

type memWriter struct {
	bars []model.PriceBar
}

func (m *memWriter) UpsertBars(_ context.Context, bars []model.PriceBar) (int, error) {
	m.bars = append(m.bars, bars...)
	return len(bars), nil
}

func (m *memWriter) DeleteBarsBefore(context.Context, model.Interval, int64) (int64, error) {
	return 0, nil
}

func TestCollector_DropsFormingBar(t *testing.T) {
	now := time.Unix(1002*hour+600, 0)
	src := &fakeSource{bars: []model.PriceBar{
		{Asset: "BTC", Interval: model.Interval1h, Timestamp: 1000 * hour},
		{Asset: "BTC", Interval: model.Interval1h, Timestamp: 1001 * hour},
		{Asset: "BTC", Interval: model.Interval1h, Timestamp: 1002 * hour},
	}}
	w := &memWriter{}
	c := NewCollector(src, w, 10)
	c.now = func() time.Time { return now }

	n, err := c.Refresh(context.Background(), "BTC", model.Interval1h)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, w.bars, 2)
	assert.Equal(t, 1001*hour, w.bars[1].Timestamp)
	assert.Equal(t, now.Add(-10*time.Hour), src.start)
}
