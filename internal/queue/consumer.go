// Package queue consumes batch events from an AMQP queue and hands them to
// the manifest orchestrator. Each delivery is acknowledged after its batch
// finishes; failed batches are rejected without requeue so the broker's
// dead-letter policy decides what happens next.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/JonMunkholm/manifestgen/internal/logging"
	"github.com/JonMunkholm/manifestgen/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	amqp "github.com/rabbitmq/amqp091-go"
)

var deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "manifestgen_queue_deliveries_total",
	Help: "Queue deliveries handled, by outcome.",
}, []string{"outcome"})

// Handler processes one decoded event.
type Handler interface {
	Handle(ctx context.Context, ev pipeline.Event) (pipeline.Output, error)
}

// Consumer reads events from a single durable queue.
type Consumer struct {
	handler  Handler
	queue    string
	prefetch int
	timeout  time.Duration
}

// NewConsumer creates a consumer for queue. timeout bounds each batch; zero
// means no bound beyond the Run context.
func NewConsumer(handler Handler, queue string, prefetch int, timeout time.Duration) *Consumer {
	if prefetch <= 0 {
		prefetch = 1
	}
	return &Consumer{handler: handler, queue: queue, prefetch: prefetch, timeout: timeout}
}

// Dial connects to the broker, retrying with a linear backoff until attempts
// are exhausted or ctx is done.
func Dial(ctx context.Context, url string, attempts int) (*amqp.Connection, error) {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		slog.Warn("amqp dial failed", "attempt", i+1, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(i+1) * time.Second):
		}
	}
	return nil, fmt.Errorf("dial amqp after %d attempts: %w", attempts, lastErr)
}

// Run declares the queue and consumes until ctx is done or the delivery
// channel closes.
func (c *Consumer) Run(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", c.queue, err)
	}
	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}

	slog.Info("queue consumer started", "queue", c.queue, "prefetch", c.prefetch)
	return c.consume(ctx, deliveries)
}

func (c *Consumer) consume(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handleDelivery(ctx, d)
		}
	}
}

// handleDelivery runs one event and settles the delivery. The batch runs to
// completion even if ctx is cancelled mid-way so the delivery is never left
// unsettled with partial work.
func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	tag := strconv.FormatUint(d.DeliveryTag, 10)
	ctx = logging.WithTrigger(context.WithoutCancel(ctx), "amqp", tag)
	log := logging.FromContext(ctx)

	var ev pipeline.Event
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		log.Error("invalid event payload", "error", err)
		deliveriesTotal.WithLabelValues("invalid").Inc()
		settle(log, d.Reject(false))
		return
	}
	if ev.QueueURL == "" {
		ev.QueueURL = c.queue
	}
	if ev.ReceiptHandle == "" {
		ev.ReceiptHandle = tag
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if _, err := c.handler.Handle(ctx, ev); err != nil {
		log.Error("batch failed", "batch_id", ev.BatchID, "error", err)
		deliveriesTotal.WithLabelValues("failed").Inc()
		settle(log, d.Nack(false, false))
		return
	}
	deliveriesTotal.WithLabelValues("completed").Inc()
	settle(log, d.Ack(false))
}

func settle(log *slog.Logger, err error) {
	if err != nil {
		log.Warn("failed to settle delivery", "error", err)
	}
}
