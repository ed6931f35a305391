// Package deadletter records work the engine gave up on so an operator can
// inspect and replay it.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Sources of dead letters
const (
	SourceReconciler  = "reconciler"
	SourceArbitration = "arbitration"
)

// Letter is one failed unit of work
type Letter struct {
	Source   string          `json:"source"`
	JobID    int64           `json:"job_id"`
	Event    string          `json:"event,omitempty"`
	Error    string          `json:"error"`
	Attempts int             `json:"attempts"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	FailedAt time.Time       `json:"failed_at"`
}

// Publisher accepts dead letters
type Publisher interface {
	Publish(ctx context.Context, letter Letter) error
}

// Broker is the subset of the RabbitMQ client used for dead letters
type Broker interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// BrokerPublisher sends dead letters to the message broker
type BrokerPublisher struct {
	broker     Broker
	routingKey string
	logger     *slog.Logger
}

// NewBrokerPublisher creates a publisher that routes letters with routingKey
func NewBrokerPublisher(broker Broker, routingKey string, logger *slog.Logger) *BrokerPublisher {
	return &BrokerPublisher{
		broker:     broker,
		routingKey: routingKey,
		logger:     logger,
	}
}

// Publish serializes and sends letter
func (p *BrokerPublisher) Publish(ctx context.Context, letter Letter) error {
	if letter.FailedAt.IsZero() {
		letter.FailedAt = time.Now().UTC()
	}

	body, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	if err := p.broker.PublishWithRetry(ctx, p.routingKey, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish dead letter: %w", err)
	}

	p.logger.Warn("Dead letter published",
		slog.String("source", letter.Source),
		slog.Int64("job_id", letter.JobID),
		slog.String("event", letter.Event),
		slog.Int("attempts", letter.Attempts),
		slog.String("error", letter.Error),
	)
	return nil
}

// LogPublisher only logs letters. Used when no broker is configured.
type LogPublisher struct {
	Logger *slog.Logger
}

// Publish logs letter at error level
func (p LogPublisher) Publish(ctx context.Context, letter Letter) error {
	p.Logger.Error("Dead letter (no broker configured)",
		slog.String("source", letter.Source),
		slog.Int64("job_id", letter.JobID),
		slog.String("event", letter.Event),
		slog.Int("attempts", letter.Attempts),
		slog.String("error", letter.Error),
	)
	return nil
}
