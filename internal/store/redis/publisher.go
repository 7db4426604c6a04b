package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"confluence-signals/internal/model"
)

const (
	// SignalStream keeps a bounded history of accepted signals.
	SignalStream = "signals:confluence"
	// SignalChannel carries live signal notifications to dashboards.
	SignalChannel = "pub:signals"

	defaultStreamMaxLen = 5000
	defaultLatestTTL    = 24 * time.Hour
	defaultMaxBuffered  = 1000
)

// Config configures the Redis connection.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Connect creates a client and pings the server.
func Connect(ctx context.Context, cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Info().Str("component", "redis").Str("addr", cfg.Addr).Msg("connected")
	return client, nil
}

// Publisher fans accepted signal records out to the signal stream, a
// per-pair latest key and the pubsub channel, in one pipeline. While the
// breaker is open, records are buffered in memory (oldest dropped first) and
// replayed once a publish succeeds again.
type Publisher struct {
	client *goredis.Client
	cb     *Breaker

	mu     sync.Mutex
	buffer []model.SignalRecord
	maxBuf int

	// OnBuffer, if set, is called each time a record is buffered.
	OnBuffer func()
}

// NewPublisher wraps client with cb. maxBuffered <= 0 selects the default.
func NewPublisher(client *goredis.Client, cb *Breaker, maxBuffered int) *Publisher {
	if maxBuffered <= 0 {
		maxBuffered = defaultMaxBuffered
	}
	return &Publisher{client: client, cb: cb, maxBuf: maxBuffered}
}

// Publish sends rec. A rejected call because the breaker is open is
// buffered and reported as success.
func (p *Publisher) Publish(ctx context.Context, rec model.SignalRecord) error {
	err := p.cb.Execute(func() error { return p.write(ctx, rec) })
	if err == ErrCircuitOpen {
		p.bufferRecord(rec)
		return nil
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", model.PairKey(rec.Asset, rec.Interval), err)
	}
	p.flush(ctx)
	return nil
}

// Pending returns the number of buffered records.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

func (p *Publisher) write(ctx context.Context, rec model.SignalRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	payload := string(data)

	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: SignalStream,
		MaxLen: defaultStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": payload},
	})
	pipe.Set(ctx, LatestKey(rec.Asset, rec.Interval), payload, defaultLatestTTL)
	pipe.Publish(ctx, SignalChannel, payload)
	_, err = pipe.Exec(ctx)
	return err
}

func (p *Publisher) bufferRecord(rec model.SignalRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.buffer) >= p.maxBuf {
		p.buffer = p.buffer[1:]
	}
	p.buffer = append(p.buffer, rec)
	if p.OnBuffer != nil {
		p.OnBuffer()
	}
}

// flush replays buffered records after a successful publish. Records that
// fail again go back to the buffer.
func (p *Publisher) flush(ctx context.Context) {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	pending := p.buffer
	p.buffer = nil
	p.mu.Unlock()

	sent := 0
	for i, rec := range pending {
		if err := p.cb.Execute(func() error { return p.write(ctx, rec) }); err != nil {
			p.mu.Lock()
			p.buffer = append(append([]model.SignalRecord(nil), pending[i:]...), p.buffer...)
			p.mu.Unlock()
			break
		}
		sent++
	}
	log.Info().Str("component", "redis").Int("flushed", sent).Int("pending", p.Pending()).Msg("replayed buffered signals")
}

// LatestKey is the key holding the most recent signal for a pair.
func LatestKey(asset string, iv model.Interval) string {
	return "signal:latest:" + asset + ":" + string(iv)
}
