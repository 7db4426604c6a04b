package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confluence-signals/internal/model"
)

// unreachableClient points at a closed port so every command fails fast.
func unreachableClient(t *testing.T) *goredis.Client {
	t.Helper()
	c := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	})
	t.Cleanup(func() { c.Close() })
	return c
}

func sampleRecord(id int64) model.SignalRecord {
	return model.SignalRecord{
		ID:             id,
		Asset:          "BTC",
		Interval:       model.Interval4h,
		Timestamp:      1_700_000_000,
		Direction:      model.Bullish,
		Score:          decimal.RequireFromString("2.7"),
		Classification: model.Excellent,
	}
}

func TestPublisher_BuffersWhileOpen(t *testing.T) {
	cb := NewBreaker(1, time.Hour)
	buffered := 0
	p := NewPublisher(unreachableClient(t), cb, 2)
	p.OnBuffer = func() { buffered++ }
	ctx := context.Background()

	err := p.Publish(ctx, sampleRecord(1))
	require.Error(t, err, "first failure surfaces")
	assert.Equal(t, StateOpen, cb.State())

	require.NoError(t, p.Publish(ctx, sampleRecord(2)))
	require.NoError(t, p.Publish(ctx, sampleRecord(3)))
	require.NoError(t, p.Publish(ctx, sampleRecord(4)))
	assert.Equal(t, 2, p.Pending(), "buffer drops the oldest")
	assert.Equal(t, 3, buffered)
}

func TestLatestKey(t *testing.T) {
	assert.Equal(t, "signal:latest:ETH:1h", LatestKey("ETH", model.Interval1h))
}
