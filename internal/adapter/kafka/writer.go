package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/permit-data-service/internal/config"
	"github.com/couchcryptid/permit-data-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// publishChunk bounds the number of messages per WriteMessages call so one
// refresh of a large export does not build a single oversized request.
const publishChunk = 500

// messageWriter is the subset of *kafkago.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes every permit of a snapshot to a Kafka topic.
// It implements pipeline.Loader.
type Writer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchSize:    publishChunk,
	}
	return &Writer{writer: w, logger: logger}
}

// Load serializes and publishes the snapshot's permits, keyed by permit ID so
// successive snapshots of the same permit land on the same partition.
func (w *Writer) Load(ctx context.Context, ds domain.Dataset) error {
	if len(ds.Permits) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, 0, min(publishChunk, len(ds.Permits)))
	published := 0
	for i := range ds.Permits {
		msg, err := serializeToMessage(ds.ID, ds.Permits[i])
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
		if len(msgs) == publishChunk {
			if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
				return fmt.Errorf("publish permits: %w", err)
			}
			published += len(msgs)
			msgs = msgs[:0]
		}
	}
	if len(msgs) > 0 {
		if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
			return fmt.Errorf("publish permits: %w", err)
		}
		published += len(msgs)
	}

	w.logger.Info("snapshot published", "snapshot_id", ds.ID, "messages", published)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a Permit into a Kafka message.
func serializeToMessage(snapshotID string, permit domain.Permit) (kafkago.Message, error) {
	data, err := json.Marshal(permit)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize permit: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(permit.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "permit_type", Value: []byte(permit.PermitType)},
			{Key: "snapshot_id", Value: []byte(snapshotID)},
			{Key: "processed_at", Value: []byte(permit.ProcessedAt.Format(time.RFC3339))},
		},
	}, nil
}
