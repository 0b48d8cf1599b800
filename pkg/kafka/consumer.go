package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/codes"

	apperrors "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/errors"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/logger"
)

// Handler processes one event. A nil return acknowledges the message; an
// error is classified with apperrors.Classify to decide between committing,
// redelivering and dead-lettering.
type Handler func(ctx context.Context, event *Event) error

// Disposition is the consumer's decision for a handled message.
type Disposition int

const (
	// Commit advances the group offset past the message.
	Commit Disposition = iota
	// Redeliver withholds the commit and hands the same message to the
	// handler again after a backoff.
	Redeliver
	// DeadLetter copies the message to its DLQ topic and then commits it.
	DeadLetter
)

func (d Disposition) String() string {
	switch d {
	case Redeliver:
		return "redeliver"
	case DeadLetter:
		return "dead_letter"
	default:
		return "commit"
	}
}

// ErrPoison marks a message that can never be processed, such as an unknown
// event type or a payload that fails schema validation.
var ErrPoison = errors.New("poison message")

// Poison wraps err so the consumer dead-letters the message without retrying.
func Poison(err error) error {
	return fmt.Errorf("%w: %w", ErrPoison, err)
}

// Decide maps a handler result to a disposition. attempt is 1-based;
// maxAttempts of zero means retryable failures are redelivered until the
// consumer stops.
func Decide(err error, attempt, maxAttempts int) Disposition {
	if err == nil {
		return Commit
	}
	if errors.Is(err, ErrPoison) {
		return DeadLetter
	}
	if !apperrors.Classify(err).Retryable() {
		return Commit
	}
	if maxAttempts > 0 && attempt >= maxAttempts {
		return DeadLetter
	}
	return Redeliver
}

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topic    string
	MinBytes int
	MaxBytes int

	// MaxAttempts bounds redelivery of retryable failures before the message
	// is dead-lettered. Zero keeps redelivering.
	MaxAttempts int
	// InitialBackoff and MaxBackoff shape the capped exponential wait between
	// redeliveries. Defaults are 200ms and 30s.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// MessageReader is the subset of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DeadLetterPublisher receives messages the consumer gives up on.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, originalMsg kafka.Message, lastErr error, consumerGroup string) error
}

// Consumer reads one topic with manual commits and applies Decide to every
// handler result.
type Consumer struct {
	reader    MessageReader
	topic     string
	group     string
	handler   Handler
	dlq       DeadLetterPublisher
	logger    *slog.Logger
	cfg       ConsumerConfig
	metrics   consumerMetrics
	closeOnce sync.Once
}

// NewConsumer creates a consumer backed by a kafka-go group reader. dlq may be
// nil, in which case dead-lettered messages are logged and committed.
func NewConsumer(cfg ConsumerConfig, handler Handler, dlq DeadLetterPublisher, logger *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
	})
	return NewConsumerWithReader(r, cfg, handler, dlq, logger)
}

// NewConsumerWithReader creates a consumer over an existing reader.
func NewConsumerWithReader(r MessageReader, cfg ConsumerConfig, handler Handler, dlq DeadLetterPublisher, logger *slog.Logger) *Consumer {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Consumer{
		reader:  r,
		topic:   cfg.Topic,
		group:   cfg.GroupID,
		handler: handler,
		dlq:     dlq,
		logger:  logger.With(slog.String("topic", cfg.Topic), slog.String("group", cfg.GroupID)),
		cfg:     cfg,
		metrics: newConsumerMetrics(cfg.Topic, cfg.GroupID),
	}
}

// Topic returns the topic this consumer reads.
func (c *Consumer) Topic() string { return c.topic }

// Start consumes until ctx is canceled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started", slog.Int("max_attempts", c.cfg.MaxAttempts))

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping")
				return nil
			}
			c.logger.Error("failed to fetch message", slog.String("error", err.Error()))
			if !sleepCtx(ctx, c.cfg.InitialBackoff) {
				return nil
			}
			continue
		}

		c.metrics.received.Inc()
		c.process(ctx, msg)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// process drives one message to commit or dead-letter. It returns early, with
// the message uncommitted, only when ctx ends.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	ctx, span := startConsumeSpan(ctx, msg, c.group)
	defer span.End()

	event, err := UnmarshalEvent(msg.Value)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to unmarshal event",
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
		span.SetStatus(codes.Error, "undecodable message")
		c.metrics.undecodable.Inc()
		c.deadLetter(ctx, msg, Poison(err))
		c.commit(ctx, msg)
		return
	}

	if event.CorrelationID != "" {
		ctx = logger.WithCorrelationID(ctx, event.CorrelationID)
	}
	if id := event.OrderID(); id != "" {
		ctx = logger.WithOrderID(ctx, id)
	}
	log := logger.WithContext(ctx, c.logger).With(
		slog.String("event_id", event.EventID),
		slog.String("event_type", event.EventType),
		slog.String("aggregate_id", event.AggregateID),
	)

	for attempt := 1; ; attempt++ {
		start := time.Now()
		err := c.handler(ctx, event)
		c.metrics.duration.Observe(time.Since(start).Seconds())

		switch Decide(err, attempt, c.cfg.MaxAttempts) {
		case Commit:
			if err != nil {
				log.WarnContext(ctx, "acknowledging after non-retryable failure",
					slog.String("class", apperrors.Classify(err).String()),
					slog.String("error", err.Error()),
				)
				c.metrics.acked.Inc()
			} else {
				c.metrics.committed.Inc()
			}
			c.metrics.stuckAge.Set(0)
			c.commit(ctx, msg)
			return

		case DeadLetter:
			log.ErrorContext(ctx, "giving up on message",
				slog.Int("attempt", attempt),
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()),
			)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.metrics.deadLettered.Inc()
			c.metrics.stuckAge.Set(0)
			c.deadLetter(ctx, msg, err)
			c.commit(ctx, msg)
			return

		case Redeliver:
			wait := c.backoff(attempt)
			log.WarnContext(ctx, "handler failed, redelivering",
				slog.Int("attempt", attempt),
				slog.Duration("backoff", wait),
				slog.String("class", apperrors.Classify(err).String()),
				slog.String("error", err.Error()),
			)
			c.metrics.redelivered.Inc()
			if !msg.Time.IsZero() {
				c.metrics.stuckAge.Set(time.Since(msg.Time).Seconds())
			}
			if !sleepCtx(ctx, wait) {
				return
			}
		}
	}
}

// deadLetter keeps trying the DLQ until it accepts the message or ctx ends, so
// a committed poison message is never lost.
func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, cause error) {
	if c.dlq == nil {
		c.logger.ErrorContext(ctx, "no dead-letter queue configured, dropping message",
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
		)
		return
	}
	for attempt := 0; ; attempt++ {
		err := c.dlq.Publish(ctx, msg, cause, c.group)
		if err == nil {
			c.metrics.dlq.Inc()
			return
		}
		if !sleepCtx(ctx, c.backoff(attempt+1)) {
			return
		}
	}
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if ctx.Err() != nil {
		return
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.ErrorContext(ctx, "failed to commit message",
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Consumer) backoff(attempt int) time.Duration {
	wait := c.cfg.InitialBackoff
	for i := 1; i < attempt && wait < c.cfg.MaxBackoff; i++ {
		wait *= 2
	}
	return min(wait, c.cfg.MaxBackoff)
}

// Close closes the consumer. It is safe to call multiple times.
func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.reader.Close()
	})
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// TopicPrefix is the prefix shared by every saga topic.
const TopicPrefix = "ecommerce"

// Topic constructs a fully-qualified topic name.
func Topic(domain, action string) string {
	return fmt.Sprintf("%s.%s.%s", TopicPrefix, domain, action)
}
