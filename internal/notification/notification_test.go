package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confluence-signals/internal/model"
)

func perfectRecord(id int64) model.SignalRecord {
	return model.SignalRecord{
		ID:             id,
		Asset:          "BTC",
		Interval:       model.Interval4h,
		Timestamp:      1_700_006_400,
		Direction:      model.Bullish,
		Score:          decimal.RequireFromString("3.9"),
		Classification: model.Perfect,
		Events: []model.ScoredEvent{
			{Event: model.Event{Module: model.ModuleMomentum, Kind: model.KindDivergence}, Strength: 0.8},
			{Event: model.Event{Module: model.ModuleVolume, Kind: model.KindVolumeClimax}, Strength: 1.0},
		},
		VolumeBonus:   true,
		VolumeLevel:   "CLIMAX",
		VolumeRatio:   3.25,
		Details:       "Regular bullish divergence; Volume at 3.25x average",
		PriceAtSignal: 43210.5,
	}
}

func TestSignalAlert(t *testing.T) {
	a := SignalAlert(perfectRecord(1))
	assert.Equal(t, AlertCritical, a.Level)
	assert.Contains(t, a.Title, "PERFECT BULLISH BTC 4h")
	assert.Contains(t, a.Message, "Score 3.9")
	assert.Contains(t, a.Message, "Price: 43210.50")
	assert.Contains(t, a.Message, "momentum×1, volume×1")
	assert.Contains(t, a.Message, "CLIMAX (3.25x) +bonus")
	require.NotNil(t, a.Signal)
	assert.Equal(t, int64(1), a.Signal.ID)
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `BTC\-USD 3\.9 \(x\)`, escapeMarkdown("BTC-USD 3.9 (x)"))
	assert.Equal(t, "plain", escapeMarkdown("plain"))
}

type fakeBot struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, f.err
}

func TestTelegramNotifier_Send(t *testing.T) {
	bot := &fakeBot{}
	n := &TelegramNotifier{bot: bot, chatID: -100123}

	require.NoError(t, n.Send(context.Background(), Alert{Title: "Hi.", Message: "a_b"}))
	require.Len(t, bot.sent, 1)
	assert.Equal(t, int64(-100123), bot.sent[0].ChatID)
	assert.Equal(t, tgbotapi.ModeMarkdownV2, bot.sent[0].ParseMode)
	assert.Equal(t, "*Hi\\.*\n\na\\_b", bot.sent[0].Text)

	bot.err = errors.New("flood wait")
	assert.Error(t, n.Send(context.Background(), Alert{Title: "x"}))
}

func TestNewTelegramNotifier_BadChatID(t *testing.T) {
	_, err := NewTelegramNotifier("token", "not-a-number")
	assert.Error(t, err)
}

func TestWebhookNotifier(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL).Send(context.Background(), SignalAlert(perfectRecord(7)))
	require.NoError(t, err)
	assert.Equal(t, "CRITICAL", got["level"])
	assert.NotEmpty(t, got["ts"])
	sig, ok := got["signal"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "PERFECT", sig["classification"])
	assert.Equal(t, "3.9", sig["score"])
}

func TestWebhookNotifier_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{Title: "x"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "502"))
}

type memQueue struct {
	pending  []model.SignalRecord
	notified []int64
}

func (q *memQueue) PendingNotifications(_ context.Context, limit int) ([]model.SignalRecord, error) {
	var out []model.SignalRecord
	for _, r := range q.pending {
		if !r.Notified && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (q *memQueue) MarkNotified(_ context.Context, id int64) error {
	for i := range q.pending {
		if q.pending[i].ID == id {
			q.pending[i].Notified = true
		}
	}
	q.notified = append(q.notified, id)
	return nil
}

type flakyNotifier struct {
	failIDs map[int64]bool
	got     []int64
}

func (f *flakyNotifier) Send(_ context.Context, a Alert) error {
	if f.failIDs[a.Signal.ID] {
		return errors.New("unreachable")
	}
	f.got = append(f.got, a.Signal.ID)
	return nil
}

func TestDispatcher_AtLeastOnce(t *testing.T) {
	q := &memQueue{pending: []model.SignalRecord{perfectRecord(1), perfectRecord(2), perfectRecord(3)}}
	n := &flakyNotifier{failIDs: map[int64]bool{2: true}}
	failed := 0
	d := NewDispatcher(q, n, 10)
	d.OnFailed = func(model.SignalRecord, error) { failed++ }

	sent, err := d.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, []int64{1, 3}, q.notified)
	assert.Equal(t, 1, failed)

	// The failed record stays pending and goes out once the channel recovers.
	n.failIDs = nil
	sent, err = d.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, []int64{1, 3, 2}, q.notified)
}

func TestMulti(t *testing.T) {
	ok := &flakyNotifier{}
	bad := &flakyNotifier{failIDs: map[int64]bool{1: true}}
	err := Multi{ok, bad}.Send(context.Background(), SignalAlert(perfectRecord(1)))
	assert.Error(t, err)
	assert.Equal(t, []int64{1}, ok.got)
}
