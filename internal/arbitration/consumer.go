package arbitration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/escrow-engine/internal/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Request asks the sync-service to re-run arbitration for a stuck dispute
type Request struct {
	JobID       int64     `json:"job_id"`
	RequestedBy string    `json:"requested_by,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// Publisher is the subset of the RabbitMQ client used to send requests
type Publisher interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// Requester publishes arbitration requests
type Requester struct {
	broker     Publisher
	routingKey string
}

// NewRequester creates a requester routing to routingKey
func NewRequester(broker Publisher, routingKey string) *Requester {
	return &Requester{broker: broker, routingKey: routingKey}
}

// Request queues jobID for re-arbitration
func (r *Requester) Request(ctx context.Context, jobID int64, requestedBy string) error {
	body, err := json.Marshal(Request{
		JobID:       jobID,
		RequestedBy: requestedBy,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal arbitration request: %w", err)
	}

	if err := r.broker.PublishWithRetry(ctx, r.routingKey, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish arbitration request: %w", err)
	}
	return nil
}

// Broker is the subset of the RabbitMQ client used to consume requests
type Broker interface {
	Qos(prefetchCount int) error
	Consume(queue, consumerTag string) (<-chan amqp.Delivery, error)
}

// Arbiter runs one arbitration
type Arbiter interface {
	Arbitrate(ctx context.Context, jobID int64) error
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Logger      *slog.Logger
	Broker      Broker
	Arbiter     Arbiter
	Queue       string
	Concurrency int
	Prefetch    int
}

// Consumer drains the arbitration queue with a pool of workers and manual ACK/NACK
type Consumer struct {
	logger      *slog.Logger
	broker      Broker
	arbiter     Arbiter
	queue       string
	concurrency int
	prefetch    int
	consumerTag string

	requests chan *message
	wg       sync.WaitGroup
}

type message struct {
	jobID    int64
	delivery amqp.Delivery
}

// NewConsumer creates a consumer with defaults applied
func NewConsumer(cfg *ConsumerConfig) *Consumer {
	c := &Consumer{
		logger:      cfg.Logger,
		broker:      cfg.Broker,
		arbiter:     cfg.Arbiter,
		queue:       cfg.Queue,
		concurrency: cfg.Concurrency,
		prefetch:    cfg.Prefetch,
		consumerTag: "arbitration-" + uuid.NewString(),
	}
	if c.concurrency <= 0 {
		c.concurrency = 2
	}
	if c.prefetch <= 0 {
		c.prefetch = c.concurrency
	}
	return c
}

// Run consumes until ctx is cancelled or the delivery channel closes
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.broker.Qos(c.prefetch); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := c.broker.Consume(c.queue, c.consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("Arbitration consumer started",
		slog.String("queue", c.queue),
		slog.String("consumer_tag", c.consumerTag),
		slog.Int("concurrency", c.concurrency),
	)

	c.requests = make(chan *message)
	for i := 0; i < c.concurrency; i++ {
		c.wg.Add(1)
		go c.workerLoop(ctx, i)
	}

	c.dispatch(ctx, deliveries)

	close(c.requests)
	c.wg.Wait()

	c.logger.Info("Arbitration consumer stopped")
	return nil
}

func (c *Consumer) dispatch(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			var req Request
			if err := json.Unmarshal(delivery.Body, &req); err != nil || req.JobID < 0 {
				c.logger.Error("Discarding malformed arbitration request",
					slog.String("body", string(delivery.Body)),
				)
				c.nack(delivery, false)
				continue
			}

			select {
			case c.requests <- &message{jobID: req.JobID, delivery: delivery}:
				c.logger.Debug("Arbitration request dispatched",
					slog.Int64("job_id", req.JobID),
					slog.String("requested_by", req.RequestedBy),
				)
			case <-ctx.Done():
				c.nack(delivery, true)
				return
			}
		}
	}
}

func (c *Consumer) workerLoop(ctx context.Context, workerNum int) {
	defer c.wg.Done()

	for msg := range c.requests {
		err := c.arbiter.Arbitrate(ctx, msg.jobID)
		if err == nil {
			if ackErr := msg.delivery.Ack(false); ackErr != nil {
				c.logger.Error("Failed to ACK message",
					slog.Int("worker_num", workerNum),
					slog.Int64("job_id", msg.jobID),
					slog.String("error", ackErr.Error()),
				)
			}
			continue
		}

		requeue := c.shouldRequeue(err, msg.delivery.Redelivered)
		c.logger.Warn("Arbitration request failed",
			slog.Int("worker_num", workerNum),
			slog.Int64("job_id", msg.jobID),
			slog.Bool("requeue", requeue),
			slog.String("error", err.Error()),
		)
		c.nack(msg.delivery, requeue)
	}
}

// shouldRequeue allows one redelivery for transient failures
func (c *Consumer) shouldRequeue(err error, redelivered bool) bool {
	if redelivered {
		return false
	}
	if errors.Is(err, ErrArbitrationInFlight) {
		return false
	}
	return domain.IsRetryable(err)
}

func (c *Consumer) nack(delivery amqp.Delivery, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		c.logger.Error("Failed to NACK message",
			slog.Uint64("delivery_tag", delivery.DeliveryTag),
			slog.String("error", err.Error()),
		)
	}
}
