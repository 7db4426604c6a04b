package notification

import (
	"context"

	"github.com/rs/zerolog/log"

	"confluence-signals/internal/model"
)

// Queue is the notification side of the signal ledger.
type Queue interface {
	PendingNotifications(ctx context.Context, limit int) ([]model.SignalRecord, error)
	MarkNotified(ctx context.Context, id int64) error
}

// Dispatcher pushes pending ledger records to a Notifier. A record is marked
// notified only after a successful send, so failed deliveries are retried
// on the next run.
type Dispatcher struct {
	queue    Queue
	notifier Notifier
	batch    int

	// Optional hooks for metrics.
	OnSent   func(rec model.SignalRecord)
	OnFailed func(rec model.SignalRecord, err error)
}

// NewDispatcher creates a dispatcher that drains up to batch records per run.
func NewDispatcher(q Queue, n Notifier, batch int) *Dispatcher {
	if batch <= 0 {
		batch = 20
	}
	return &Dispatcher{queue: q, notifier: n, batch: batch}
}

// Dispatch sends pending records oldest first and returns how many were
// delivered. Delivery failures are logged and left pending; only queue
// errors are returned.
func (d *Dispatcher) Dispatch(ctx context.Context) (int, error) {
	pending, err := d.queue.PendingNotifications(ctx, d.batch)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, rec := range pending {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		if err := d.notifier.Send(ctx, SignalAlert(rec)); err != nil {
			log.Warn().Err(err).Str("component", "dispatcher").Int64("id", rec.ID).
				Str("pair", model.PairKey(rec.Asset, rec.Interval)).Msg("notification failed, will retry")
			if d.OnFailed != nil {
				d.OnFailed(rec, err)
			}
			continue
		}
		if err := d.queue.MarkNotified(ctx, rec.ID); err != nil {
			return sent, err
		}
		sent++
		if d.OnSent != nil {
			d.OnSent(rec)
		}
	}
	return sent, nil
}
