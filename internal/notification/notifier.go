// Package notification delivers signal alerts to external channels
// (Telegram, webhooks, logs).
package notification

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"confluence-signals/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert is one message to deliver. Signal is set for signal alerts so that
// structured channels can forward the record itself.
type Alert struct {
	Level   AlertLevel          `json:"level"`
	Title   string              `json:"title"`
	Message string              `json:"message"`
	Signal  *model.SignalRecord `json:"signal,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the log. Used when no channel is configured.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Info().Str("component", "notify").Str("level", string(alert.Level)).
		Str("title", alert.Title).Msg(alert.Message)
	return nil
}

// Multi sends each alert to every notifier. It fails if any notifier fails,
// so the caller retries later; channels that already succeeded may then see
// the alert twice.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
