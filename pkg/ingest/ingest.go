// Package ingest consumes order and view events from Kafka into the event
// store.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/elonfeng/shoptrend/internal/metrics"
	"github.com/elonfeng/shoptrend/pkg/event"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// errMalformed marks messages that can never be stored and are skipped.
var errMalformed = errors.New("malformed message")

// Sink is the write side of the event store.
type Sink interface {
	UpsertOrder(ctx context.Context, o *event.Order) error
	RecordView(ctx context.Context, v *event.View) error
}

// messageReader abstracts kafka.Reader for testability.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type handlerFunc func(ctx context.Context, value []byte) error

// Consumer reads one topic and writes each message to the sink. Messages
// are committed only after they are stored or found malformed.
type Consumer struct {
	topic   string
	reader  messageReader
	handle  handlerFunc
	log     logrus.FieldLogger
	metrics *metrics.Registry
	backoff time.Duration
}

// ReaderConfig is the subset of kafka.ReaderConfig shoptrend exposes.
type ReaderConfig struct {
	Brokers []string
	GroupID string
	Topic   string
}

func newReader(cfg ReaderConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// NewOrderConsumer consumes JSON-encoded event.Order messages. A message for
// an existing order id replaces it, which is how status changes arrive.
func NewOrderConsumer(cfg ReaderConfig, sink Sink, log logrus.FieldLogger, m *metrics.Registry) *Consumer {
	return newConsumer(cfg.Topic, newReader(cfg), orderHandler(sink), log, m)
}

// NewViewConsumer consumes JSON-encoded event.View messages.
func NewViewConsumer(cfg ReaderConfig, sink Sink, log logrus.FieldLogger, m *metrics.Registry) *Consumer {
	return newConsumer(cfg.Topic, newReader(cfg), viewHandler(sink), log, m)
}

func newConsumer(topic string, r messageReader, h handlerFunc, log logrus.FieldLogger, m *metrics.Registry) *Consumer {
	if m == nil {
		m = metrics.NewRegistry()
	}
	return &Consumer{
		topic:   topic,
		reader:  r,
		handle:  h,
		log:     log.WithField("topic", topic),
		metrics: m,
		backoff: time.Second,
	}
}

// Run consumes until ctx is cancelled. Store failures are retried with a
// fixed backoff so no message is committed before it is persisted.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	c.log.Info("consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("consumer stopped")
				return nil
			}
			return fmt.Errorf("fetch %s: %w", c.topic, err)
		}

		if err := c.process(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit %s offset %d: %w", c.topic, msg.Offset, err)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	for {
		err := c.handle(ctx, msg.Value)
		switch {
		case err == nil:
			c.metrics.IngestedMessages.WithLabelValues(c.topic, "stored").Inc()
			return nil
		case errors.Is(err, errMalformed):
			c.metrics.IngestedMessages.WithLabelValues(c.topic, "malformed").Inc()
			c.log.WithError(err).WithField("offset", msg.Offset).Warn("skipping malformed message")
			return nil
		}

		c.metrics.IngestedMessages.WithLabelValues(c.topic, "retry").Inc()
		c.log.WithError(err).WithField("offset", msg.Offset).Error("store message, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff):
		}
	}
}

func orderHandler(sink Sink) handlerFunc {
	return func(ctx context.Context, value []byte) error {
		var o event.Order
		if err := json.Unmarshal(value, &o); err != nil {
			return fmt.Errorf("%w: decode order: %v", errMalformed, err)
		}
		if o.ID == "" {
			return fmt.Errorf("%w: order without id", errMalformed)
		}
		if !o.Status.Valid() {
			return fmt.Errorf("%w: order %s has unknown status %q", errMalformed, o.ID, o.Status)
		}
		if o.CreatedAt.IsZero() {
			return fmt.Errorf("%w: order %s without created_at", errMalformed, o.ID)
		}
		return sink.UpsertOrder(ctx, &o)
	}
}

func viewHandler(sink Sink) handlerFunc {
	return func(ctx context.Context, value []byte) error {
		var v event.View
		if err := json.Unmarshal(value, &v); err != nil {
			return fmt.Errorf("%w: decode view: %v", errMalformed, err)
		}
		if v.ProductID == "" {
			return fmt.Errorf("%w: view without product id", errMalformed)
		}
		return sink.RecordView(ctx, &v)
	}
}
