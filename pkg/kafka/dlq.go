package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	apperrors "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/errors"
)

// DLQTopicPrefix is the prefix for dead-letter topics.
const DLQTopicPrefix = TopicPrefix + ".dlq"

// Provenance headers stamped on every dead letter. A replay tool reads them
// back to find where the message came from and why it was parked.
const (
	HeaderDLQOriginalTopic     = "dlq.original_topic"
	HeaderDLQOriginalPartition = "dlq.original_partition"
	HeaderDLQOriginalOffset    = "dlq.original_offset"
	HeaderDLQConsumerGroup     = "dlq.consumer_group"
	HeaderDLQError             = "dlq.error"
	HeaderDLQErrorClass        = "dlq.error_class"
	HeaderDLQReason            = "dlq.reason"
	HeaderDLQFailedAt          = "dlq.failed_at"
)

// Values of HeaderDLQReason.
const (
	ReasonPoison    = "poison"
	ReasonExhausted = "retries_exhausted"
)

// DLQProducer parks messages a consumer gave up on.
type DLQProducer struct {
	writer messageWriter
	logger *slog.Logger
	now    func() time.Time
}

// NewDLQProducer creates a DLQ producer writing to ecommerce.dlq.<topic>.
// Writes are synchronous with full acks: the source offset is committed
// right after Publish returns.
func NewDLQProducer(brokers []string, logger *slog.Logger) *DLQProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              1,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return newDLQProducer(w, logger)
}

func newDLQProducer(w messageWriter, logger *slog.Logger) *DLQProducer {
	return &DLQProducer{writer: w, logger: logger, now: time.Now}
}

// DLQTopic returns the dead-letter topic for source.
func DLQTopic(source string) string {
	return DLQTopicPrefix + "." + source
}

// Publish copies msg to its DLQ topic. Key, value and the original headers
// are preserved so the message can be replayed as-is.
func (d *DLQProducer) Publish(ctx context.Context, msg kafka.Message, cause error, consumerGroup string) error {
	out := kafka.Message{
		Topic:   DLQTopic(msg.Topic),
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: provenance(msg, cause, consumerGroup, d.now()),
	}

	start := time.Now()
	ctx, end := startPublishSpan(ctx, &out)
	err := d.writer.WriteMessages(ctx, out)
	end(err)
	observePublish(out.Topic, time.Since(start).Seconds(), err)

	log := d.logger.With(
		slog.String("dlq_topic", out.Topic),
		slog.Int("partition", msg.Partition),
		slog.Int64("offset", msg.Offset),
		slog.String("consumer_group", consumerGroup),
	)
	if err != nil {
		log.ErrorContext(ctx, "dead-letter publish failed", slog.String("error", err.Error()))
		return fmt.Errorf("publish to %s: %w", out.Topic, err)
	}
	log.WarnContext(ctx, "message parked on dead-letter topic", slog.String("reason", reason(cause)))
	return nil
}

// Close flushes and closes the writer.
func (d *DLQProducer) Close() error {
	return d.writer.Close()
}

func provenance(msg kafka.Message, cause error, group string, at time.Time) []kafka.Header {
	headers := make([]kafka.Header, 0, len(msg.Headers)+8)
	headers = append(headers, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: HeaderDLQOriginalTopic, Value: []byte(msg.Topic)},
		kafka.Header{Key: HeaderDLQOriginalPartition, Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: HeaderDLQOriginalOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		kafka.Header{Key: HeaderDLQConsumerGroup, Value: []byte(group)},
		kafka.Header{Key: HeaderDLQReason, Value: []byte(reason(cause))},
		kafka.Header{Key: HeaderDLQFailedAt, Value: []byte(at.UTC().Format(time.RFC3339Nano))},
	)
	if cause != nil {
		headers = append(headers,
			kafka.Header{Key: HeaderDLQError, Value: []byte(cause.Error())},
			kafka.Header{Key: HeaderDLQErrorClass, Value: []byte(apperrors.Classify(cause).String())},
		)
	}
	return headers
}

func reason(cause error) string {
	if errors.Is(cause, ErrPoison) {
		return ReasonPoison
	}
	return ReasonExhausted
}
