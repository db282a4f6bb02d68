// Package ingest feeds the event store from a Kafka topic of JSON events.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"security-intel/internal/metrics"
	"security-intel/internal/model"
	"security-intel/internal/util"
)

// Header names set on dead-letter messages.
const (
	HeaderError       = "x-error"
	HeaderErrorField  = "x-error-field"
	HeaderSourceTopic = "x-source-topic"
	HeaderSourceOff   = "x-source-offset"
)

// MessageReader is the consumer side of a Kafka consumer group.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// MessageWriter publishes dead-letter messages.
type MessageWriter interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Appender is the write side of the event store.
type Appender interface {
	Append(ev *model.SecurityEvent) (*model.SecurityEvent, error)
}

// Sink receives every accepted event after it is stored.
type Sink interface {
	Enqueue(ev *model.SecurityEvent)
}

// Consumer reads events, appends them to the store and forwards accepted
// events to the sinks. Malformed events go to the dead-letter topic. An
// offset is committed only after its message was stored or dead-lettered.
type Consumer struct {
	reader   MessageReader
	dlq      MessageWriter
	dlqTopic string
	store    Appender
	sinks    []Sink
	metrics  *metrics.Metrics
	logger   *zap.Logger
	backoff  time.Duration
}

func NewConsumer(reader MessageReader, dlq MessageWriter, dlqTopic string, store Appender,
	sinks []Sink, m *metrics.Metrics, logger *zap.Logger) *Consumer {
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = util.Get()
	}
	return &Consumer{
		reader:   reader,
		dlq:      dlq,
		dlqTopic: dlqTopic,
		store:    store,
		sinks:    sinks,
		metrics:  m,
		logger:   logger,
		backoff:  time.Second,
	}
}

// Run consumes until ctx is done or the store becomes unavailable.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Ingest consumer started", zap.String("dlq_topic", c.dlqTopic))
	defer c.logger.Info("Ingest consumer stopped")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("Kafka fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		if err := c.Handle(ctx, msg); err != nil {
			return err
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Warn("Kafka commit failed",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
	}
}

// Handle processes one message. It returns an error only when the message
// could be neither stored nor dead-lettered.
func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) error {
	ev, err := Decode(msg.Value)
	if err == nil {
		var stored *model.SecurityEvent
		stored, err = c.store.Append(ev)
		if err == nil {
			c.metrics.EventsAppended.Inc()
			c.metrics.StoreEvents.Set(float64(stored.ID))
			c.metrics.IngestMessages.WithLabelValues("accepted").Inc()
			for _, s := range c.sinks {
				s.Enqueue(stored)
			}
			return nil
		}
		if errors.Is(err, model.ErrStoreUnavailable) {
			c.metrics.IngestMessages.WithLabelValues("failed").Inc()
			return err
		}
	}
	return c.deadLetter(ctx, msg, err)
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, cause error) error {
	field := "payload"
	var verr *model.ValidationError
	if errors.As(cause, &verr) {
		field = verr.Field
	}
	c.metrics.EventsRejected.WithLabelValues(field).Inc()
	c.metrics.IngestMessages.WithLabelValues("rejected").Inc()
	c.logger.Warn("Rejected event",
		zap.String("field", field),
		zap.Int64("offset", msg.Offset),
		zap.Error(cause))

	if c.dlq == nil {
		return nil
	}
	headers := map[string]string{
		HeaderError:       cause.Error(),
		HeaderErrorField:  field,
		HeaderSourceTopic: msg.Topic,
		HeaderSourceOff:   strconv.FormatInt(msg.Offset, 10),
	}
	if err := c.dlq.ProduceMessage(ctx, c.dlqTopic, msg.Key, msg.Value, headers); err != nil {
		return fmt.Errorf("dead-letter offset %d: %w", msg.Offset, err)
	}
	return nil
}

// Decode parses one JSON event. Unknown fields are rejected.
func Decode(payload []byte) (*model.SecurityEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	var ev model.SecurityEvent
	if err := dec.Decode(&ev); err != nil {
		return nil, model.NewValidationError("payload", "is not a valid event: "+err.Error())
	}
	return &ev, nil
}
