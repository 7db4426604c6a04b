package redis

import (
	"context"
	"encoding/json"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"confluence-signals/internal/model"
)

// Subscriber reads the live signal channel and the signal stream history.
type Subscriber struct {
	client *goredis.Client
}

// NewSubscriber wraps client.
func NewSubscriber(client *goredis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Run forwards every message on SignalChannel to out until ctx is cancelled.
// Malformed payloads are logged and skipped.
func (s *Subscriber) Run(ctx context.Context, out chan<- model.SignalRecord) error {
	pubsub := s.client.Subscribe(ctx, SignalChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var rec model.SignalRecord
			if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
				log.Warn().Err(err).Str("component", "redis").Msg("bad signal payload")
				continue
			}
			select {
			case out <- rec:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// History returns up to count most recent records from SignalStream, oldest
// first.
func (s *Subscriber) History(ctx context.Context, count int64) ([]model.SignalRecord, error) {
	msgs, err := s.client.XRevRangeN(ctx, SignalStream, "+", "-", count).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, err
	}
	out := make([]model.SignalRecord, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		raw, ok := msgs[i].Values["data"].(string)
		if !ok {
			continue
		}
		var rec model.SignalRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
