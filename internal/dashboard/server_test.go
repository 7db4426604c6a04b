package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confluence-signals/internal/ledger"
	"confluence-signals/internal/metrics"
	"confluence-signals/internal/model"
	"confluence-signals/internal/store/sqlite"
)

const testSecret = "JBSWY3DPEHPK3PXP"

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	srv    *Server
	store  *sqlite.Store
	ledger *ledger.Ledger
	hub    *Hub
	h      http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.Open(sqlite.Config{Path: filepath.Join(t.TempDir(), "dash.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	l := ledger.New(store, ledger.DefaultConfig(), ledger.WithClock(func() time.Time { return testNow }))
	hub := NewHub(10)
	health := metrics.NewHealthStatus()
	health.SetSQLiteOK(true)

	srv := NewServer(Deps{
		Signals:    l,
		Watchlist:  store,
		Bars:       store,
		Hub:        hub,
		Health:     health,
		TOTPSecret: testSecret,
	})
	srv.now = func() time.Time { return testNow }
	return &fixture{srv: srv, store: store, ledger: l, hub: hub, h: srv.Router()}
}

func verdictAt(ts int64, dir model.Direction) *model.Verdict {
	return verdictFor("BTC", model.Interval1h, ts, dir)
}

func verdictFor(asset string, iv model.Interval, ts int64, dir model.Direction) *model.Verdict {
	return &model.Verdict{
		Asset:          asset,
		Interval:       iv,
		Timestamp:      ts,
		Close:          64000,
		Direction:      dir,
		Score:          decimal.RequireFromString("2.6"),
		Classification: model.Excellent,
		Events: []model.ScoredEvent{
			{Event: model.Event{Module: model.ModuleCloud, Kind: model.KindCloudRetest, Direction: dir, Timestamp: ts, Description: "Cloud retest"}, Strength: 0.9},
			{Event: model.Event{Module: model.ModuleMultiLine, Kind: model.KindLineTouch, Direction: dir, Timestamp: ts, Description: "Line touch"}, Strength: 0.9},
			{Event: model.Event{Module: model.ModuleTrend, Kind: model.KindTrendBreak, Direction: dir, Timestamp: ts, Description: "Trend break"}, Strength: 0.7},
		},
	}
}

func (f *fixture) do(t *testing.T, method, target string, body interface{}, code string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if body == nil {
		req.ContentLength = 0
	}
	if code != "" {
		req.Header.Set(TOTPHeader, code)
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func validCode(t *testing.T) string {
	t.Helper()
	code, err := totp.GenerateCode(testSecret, time.Now())
	require.NoError(t, err)
	return code
}

type recentBody struct {
	Signals []model.SignalRecord `json:"signals"`
	Cursor  int64                `json:"cursor"`
}

func (f *fixture) recent(t *testing.T, query string) recentBody {
	t.Helper()
	rec := f.do(t, http.MethodGet, "/api/signals/recent"+query, nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body recentBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRecentSignals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ts := testNow.Add(-time.Hour).Unix()
	stored, _, err := f.ledger.Accept(ctx, verdictAt(ts, model.Bullish), model.Bullish)
	require.NoError(t, err)
	require.NotNil(t, stored)
	id := stored.ID

	body := f.recent(t, "")
	require.Len(t, body.Signals, 1)
	assert.Equal(t, "BTC", body.Signals[0].Asset)
	assert.Equal(t, model.Excellent, body.Signals[0].Classification)
	assert.Equal(t, id, body.Cursor)

	// Polling from the cursor returns nothing new and keeps the cursor.
	body = f.recent(t, "?after="+itoa(body.Cursor))
	assert.Empty(t, body.Signals)
	assert.Equal(t, id, body.Cursor)

	// A since window past the signal is empty, but the cursor still points at
	// the newest record.
	body = f.recent(t, "?since="+itoa(ts))
	assert.Empty(t, body.Signals)
	assert.Equal(t, id, body.Cursor)

	for _, q := range []string{"?limit=zero", "?since=-5", "?after=x", "?after=-1"} {
		rec := f.do(t, http.MethodGet, "/api/signals/recent"+q, nil, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestRecentSignals_CursorSeesOlderBarsWrittenLater(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hourBar := testNow.Add(-time.Hour).Unix()
	_, _, err := f.ledger.Accept(ctx, verdictFor("BTC", model.Interval1h, hourBar, model.Bullish), model.Bullish)
	require.NoError(t, err)

	first := f.recent(t, "")
	require.Len(t, first.Signals, 1)

	// A 12h signal closes later but is stamped at an earlier bar.
	halfDayBar := testNow.Add(-12 * time.Hour).Unix()
	stored, _, err := f.ledger.Accept(ctx, verdictFor("ETH", model.Interval12h, halfDayBar, model.Bullish), model.Bullish)
	require.NoError(t, err)
	require.NotNil(t, stored)

	next := f.recent(t, "?after="+itoa(first.Cursor))
	require.Len(t, next.Signals, 1)
	assert.Equal(t, "ETH", next.Signals[0].Asset)
	assert.Equal(t, stored.ID, next.Cursor)
}

func TestRecentSignals_LimitSplitsSharedTimestamp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ts := testNow.Add(-time.Hour).Unix()
	for _, asset := range []string{"BTC", "ETH", "SOL"} {
		_, _, err := f.ledger.Accept(ctx, verdictFor(asset, model.Interval1h, ts, model.Bullish), model.Bullish)
		require.NoError(t, err)
	}

	var seen []string
	query := "?limit=2"
	for i := 0; i < 3; i++ {
		body := f.recent(t, query)
		for _, rec := range body.Signals {
			seen = append(seen, rec.Asset)
		}
		query = "?limit=2&after=" + itoa(body.Cursor)
	}
	assert.Equal(t, []string{"BTC", "ETH", "SOL"}, seen)
}

func TestStatsAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ts := testNow.Add(-2 * time.Hour).Unix()
	_, _, err := f.ledger.Accept(ctx, verdictAt(ts, model.Bearish), model.Bearish)
	require.NoError(t, err)
	_, err = f.store.AddEntry(ctx, model.WatchlistEntry{Asset: "BTC", Interval: model.Interval1h, Direction: model.Bearish})
	require.NoError(t, err)
	_, err = f.store.AddEntry(ctx, model.WatchlistEntry{Asset: "BTC", Interval: model.Interval1h, Direction: model.Bullish})
	require.NoError(t, err)
	_, err = f.store.UpsertBars(ctx, []model.PriceBar{{
		Asset: "BTC", Interval: model.Interval1h, Timestamp: ts, Open: 1, High: 2, Low: 1, Close: 2, Volume: 3,
	}})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/signals/stats", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats model.SignalStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Excellent)
	assert.Equal(t, 1, stats.ByDirection[model.Bearish])

	rec = f.do(t, http.MethodGet, "/api/system/status", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st systemStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, ts, st.LatestBarTS)
	assert.Equal(t, 1, st.ActivePairs)
	assert.Equal(t, 2, st.Entries)
	assert.Equal(t, 1, st.SignalsToday)
	require.NotNil(t, st.Health)
	assert.True(t, st.Health.SQLiteOK)
}

func TestWatchlist_RequiresTOTP(t *testing.T) {
	f := newFixture(t)
	entry := entryRequest{Asset: "eth", Interval: "4h", Direction: "wind_catcher"}

	rec := f.do(t, http.MethodPost, "/api/watchlists", entry, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/watchlists", entry, "000000x")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	f.srv.TOTPSecret = ""
	rec = f.do(t, http.MethodPost, "/api/watchlists", entry, "123456")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWatchlist_AddListRemove(t *testing.T) {
	f := newFixture(t)
	code := validCode(t)

	rec := f.do(t, http.MethodPost, "/api/watchlists", entryRequest{Asset: "eth", Interval: "4h", Direction: "wind_catcher", Notes: "breakout"}, code)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var added model.WatchlistEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &added))
	assert.Equal(t, "ETH", added.Asset)
	assert.Equal(t, model.Bullish, added.Direction)
	assert.Equal(t, testNow.Unix(), added.AddedAt)

	rec = f.do(t, http.MethodPost, "/api/watchlists", entryRequest{Asset: "ETH", Interval: "4h", Direction: "bullish"}, code)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/watchlists", entryRequest{Asset: "ETH", Interval: "3h", Direction: "bullish"}, code)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/watchlists", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view watchlistView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Len(t, view.Entries, 1)
	assert.Len(t, view.WindCatcher, 1)
	assert.Empty(t, view.RiverTurn)

	rec = f.do(t, http.MethodDelete, "/api/watchlists?asset=ETH&interval=4h&direction=bullish", nil, code)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/watchlists?asset=ETH&interval=4h&direction=bullish", nil, code)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWatchlist_Move(t *testing.T) {
	f := newFixture(t)
	code := validCode(t)
	_, err := f.store.AddEntry(context.Background(), model.WatchlistEntry{Asset: "SOL", Interval: model.Interval1h, Direction: model.Bullish})
	require.NoError(t, err)

	move := moveRequest{
		From: entryRequest{Asset: "SOL", Interval: "1h", Direction: "bullish"},
		To:   entryRequest{Asset: "SOL", Interval: "1h", Direction: "river_turn"},
	}
	rec := f.do(t, http.MethodPost, "/api/watchlists/move", move, code)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	entries, err := f.store.ListEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.Bearish, entries[0].Direction)

	rec = f.do(t, http.MethodPost, "/api/watchlists/move", move, code)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebSocketFeed(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.h)
	defer ts.Close()

	// Broadcast before anyone is connected; it must be replayed.
	f.hub.Broadcast(model.SignalRecord{ID: 1, Asset: "BTC", Interval: model.Interval1h, Direction: model.Bullish})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?last_seq=0"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	f.hub.Broadcast(model.SignalRecord{ID: 2, Asset: "ETH", Interval: model.Interval4h, Direction: model.Bearish})

	var got []envelope
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(got) < 2 {
		var env envelope
		require.NoError(t, conn.ReadJSON(&env))
		got = append(got, env)
	}
	assert.Equal(t, int64(1), got[0].Seq)
	assert.Equal(t, "BTC", got[0].Data.Asset)
	assert.Equal(t, int64(2), got[1].Seq)
	assert.Equal(t, "signal", got[1].Type)
	assert.Equal(t, model.Bearish, got[1].Data.Direction)

	conn.Close()
	require.Eventually(t, func() bool { return f.hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubRunStopsOnClose(t *testing.T) {
	hub := NewHub(4)
	src := make(chan model.SignalRecord, 2)
	src <- model.SignalRecord{ID: 7}
	close(src)

	done := make(chan struct{})
	go func() {
		hub.Run(context.Background(), src)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop after source closed")
	}
	assert.Equal(t, int64(1), hub.Seq())
}

func TestReplayBuffer(t *testing.T) {
	rb := NewReplayBuffer(3)
	for i := int64(1); i <= 5; i++ {
		rb.Push(i, []byte{byte('0' + i)})
	}
	if rb.Len() != 3 {
		t.Fatalf("expected len 3, got %d", rb.Len())
	}
	got := rb.After(0)
	if len(got) != 3 || string(got[0]) != "3" || string(got[2]) != "5" {
		t.Fatalf("unexpected replay %q", got)
	}
	if got := rb.After(4); len(got) != 1 || string(got[0]) != "5" {
		t.Fatalf("unexpected replay after 4: %q", got)
	}
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
