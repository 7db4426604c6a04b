package notification

import (
	"fmt"
	"strings"

	"confluence-signals/internal/model"
)

var classEmoji = map[model.Classification]string{
	model.Perfect:   "💎",
	model.Excellent: "🔥",
	model.VeryGood:  "✅",
	model.Good:      "👍",
}

// SignalAlert renders a persisted signal as an alert.
func SignalAlert(rec model.SignalRecord) Alert {
	level := AlertInfo
	if rec.Classification >= model.Perfect {
		level = AlertCritical
	} else if rec.Classification >= model.Excellent {
		level = AlertWarning
	}

	arrow := "📈"
	if rec.Direction == model.Bearish {
		arrow = "📉"
	}
	title := fmt.Sprintf("%s %s %s %s %s", classEmoji[rec.Classification], rec.Classification, strings.ToUpper(string(rec.Direction)), rec.Asset, rec.Interval)

	var b strings.Builder
	fmt.Fprintf(&b, "%s Score %s at %s\n", arrow, rec.Score.StringFixed(1), rec.Time().Format("2006-01-02 15:04 UTC"))
	fmt.Fprintf(&b, "Price: %s\n", formatPrice(rec.PriceAtSignal))

	counts := rec.ModuleCounts()
	var fired []string
	for _, id := range model.DefaultPriority {
		if counts[id] > 0 {
			fired = append(fired, fmt.Sprintf("%s×%d", id, counts[id]))
		}
	}
	if len(fired) > 0 {
		fmt.Fprintf(&b, "Indicators: %s\n", strings.Join(fired, ", "))
	}
	if rec.VolumeLevel != "" {
		fmt.Fprintf(&b, "Volume: %s (%.2fx)", rec.VolumeLevel, rec.VolumeRatio)
		if rec.VolumeBonus {
			b.WriteString(" +bonus")
		}
		b.WriteString("\n")
	}
	if rec.Details != "" {
		fmt.Fprintf(&b, "Factors: %s\n", rec.Details)
	}

	return Alert{
		Level:   level,
		Title:   title,
		Message: strings.TrimRight(b.String(), "\n"),
		Signal:  &rec,
	}
}

func formatPrice(p float64) string {
	switch {
	case p >= 1000:
		return fmt.Sprintf("%.2f", p)
	case p >= 1:
		return fmt.Sprintf("%.4f", p)
	}
	return fmt.Sprintf("%.8f", p)
}
