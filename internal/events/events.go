// Package events publishes vault domain events to downstream systems.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	KindDeposited          = "deposited"
	KindWithdrawn          = "withdrawn"
	KindConversionStranded = "conversion_stranded"
	KindWithdrawalPending  = "withdrawal_pending"
)

// Event describes a completed (or stranded) vault operation. Amounts are
// base-unit decimal strings.
type Event struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Depositor  string    `json:"depositor"`
	Asset      string    `json:"asset,omitempty"`
	AmountIn   string    `json:"amount_in,omitempty"`
	Amount     string    `json:"amount,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// New stamps an event with an id and the current time.
func New(kind, depositor string) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		Depositor:  depositor,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher delivers events downstream.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// LoggerPublisher writes events to the structured logger. It is the
// fallback when no broker is configured.
type LoggerPublisher struct {
	logger *slog.Logger
}

func NewLoggerPublisher(logger *slog.Logger) *LoggerPublisher {
	return &LoggerPublisher{logger: logger}
}

func (p *LoggerPublisher) Publish(_ context.Context, event Event) error {
	if p == nil || p.logger == nil {
		return nil
	}
	p.logger.Info("vault event",
		slog.String("event_id", event.ID),
		slog.String("kind", event.Kind),
		slog.String("depositor", event.Depositor),
		slog.String("asset", event.Asset),
		slog.String("amount_in", event.AmountIn),
		slog.String("amount", event.Amount),
		slog.String("reason", event.Reason),
	)
	return nil
}
