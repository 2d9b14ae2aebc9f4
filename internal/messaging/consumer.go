package messaging

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var consumerTracer = otel.Tracer("messaging/consumer")

type HandlerFunc func(ctx context.Context, payload []byte) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader   messageReader
	topic    string
	groupID  string
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
}

type consumerConfig struct {
	reader   kafka.ReaderConfig
	attempts int
	backoff  time.Duration
}

type ConsumerOption func(*consumerConfig)

func WithStartOffset(offset int64) ConsumerOption {
	return func(cfg *consumerConfig) {
		cfg.reader.StartOffset = offset
	}
}

// WithRetry gives a failing handler up to attempts tries per message, waiting
// backoff, then twice that, between them.
func WithRetry(attempts int, backoff time.Duration) ConsumerOption {
	return func(cfg *consumerConfig) {
		cfg.attempts = max(attempts, 1)
		cfg.backoff = backoff
	}
}

func NewConsumer(brokers []string, topic, groupID string, logger *slog.Logger, opts ...ConsumerOption) *Consumer {
	cfg := consumerConfig{
		reader: kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: groupID,
		},
		attempts: 1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Consumer{
		reader:   kafka.NewReader(cfg.reader),
		topic:    topic,
		groupID:  groupID,
		attempts: cfg.attempts,
		backoff:  cfg.backoff,
		logger:   logger,
	}
}

// Consume processes messages until ctx is done or the reader fails. Order
// events are advisory: once the handler has used up its attempts the message
// is committed anyway so one bad event cannot stall the partition.
func (c *Consumer) Consume(ctx context.Context, handler HandlerFunc) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		if err := c.processMessage(ctx, msg, handler); err != nil {
			c.logger.Error("giving up on message",
				"error", err,
				"topic", c.topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"event_type", eventTypeOf(msg),
			)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message, handler HandlerFunc) error {
	parentCtx := otel.GetTextMapPropagator().Extract(ctx, headerCarrier{msg: &msg})

	spanCtx, span := consumerTracer.Start(parentCtx, "process "+c.topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("process"),
			semconv.MessagingOperationTypeDeliver,
			semconv.MessagingDestinationName(c.topic),
			semconv.MessagingKafkaConsumerGroup(c.groupID),
			semconv.MessagingKafkaMessageOffset(int(msg.Offset)),
			semconv.MessagingDestinationPartitionID(strconv.Itoa(msg.Partition)),
			semconv.MessagingKafkaMessageKey(string(msg.Key)),
			attribute.String("order.event_type", eventTypeOf(msg)),
		),
	)
	defer span.End()

	wait := c.backoff
	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err = handler(spanCtx, msg.Value); err == nil {
			return nil
		}
		span.AddEvent("handler failed", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.String("error", err.Error()),
		))
		if attempt == c.attempts {
			break
		}

		select {
		case <-ctx.Done():
			span.SetStatus(codes.Error, ctx.Err().Error())
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
