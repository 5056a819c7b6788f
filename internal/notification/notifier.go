// Package notification delivers trading alerts (forced exits, run
// completion, live-loop failures) to external channels.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"

	"papertrader/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// TradeAlert describes an executed trade. Forced exits are warnings.
func TradeAlert(t model.Trade) Alert {
	level := AlertInfo
	if t.Reason != "" && t.Reason != model.ReasonSignal {
		level = AlertWarning
	}
	msg := fmt.Sprintf("%s %d %s @ %s", t.Side, t.Qty, t.Symbol, t.Price.StringFixed(2))
	if t.PnL != nil {
		msg += fmt.Sprintf(" pnl=%s", t.PnL.StringFixed(2))
	}
	return Alert{
		Level:   level,
		Title:   fmt.Sprintf("%s %s (%s)", t.Side, t.Symbol, t.Reason),
		Message: msg,
	}
}

// RunAlert summarizes a finished run.
func RunAlert(s model.RunSnapshot) Alert {
	return Alert{
		Level: AlertInfo,
		Title: fmt.Sprintf("Run %s complete", s.Strategy),
		Message: fmt.Sprintf("%s balance=%s realized=%s trades=%d open=%d skipped=%d",
			s.Symbol, s.Balance.StringFixed(2), s.RealizedPnL.StringFixed(2),
			s.TradeCount, len(s.OpenPositions), s.SkippedSteps),
	}
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi sends every alert to all notifiers and joins their errors.
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
