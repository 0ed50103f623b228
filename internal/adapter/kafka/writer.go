package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/finn-preprocessor/internal/config"
	"github.com/couchcryptid/finn-preprocessor/internal/domain"
	"github.com/couchcryptid/finn-preprocessor/internal/join"
	kafkago "github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafkago.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes attributed fire events to a Kafka topic.
// It implements pipeline.Exporter.
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
	}
	return &Writer{writer: w, logger: logger}
}

// Export serializes and publishes the records of one dataset in a single
// WriteMessages call. Messages are keyed by event id so re-exports of the same
// event land on the same partition.
func (w *Writer) Export(ctx context.Context, tag string, records []join.OutputRecord) error {
	if len(records) == 0 {
		return nil
	}
	exportedAt := domain.Now()
	msgs := make([]kafkago.Message, len(records))
	for i := range records {
		msg, err := serializeToMessage(tag, records[i], exportedAt)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d records: %w: %w", len(msgs), domain.ErrUnavailable, err)
	}
	w.logger.Info("records published", "dataset", tag, "records", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// payload flattens a record into one JSON object keyed by output column.
func payload(tag string, rec join.OutputRecord) map[string]any {
	p := map[string]any{
		"dataset":      tag,
		"event_id":     rec.EventID,
		"first_day":    rec.FirstDay,
		"last_day":     rec.LastDay,
		"n_detections": rec.Detections,
		"geometry":     rec.Geometry,
	}
	for _, a := range rec.Attributes {
		if a.Value == "" {
			p[a.Name] = nil
			continue
		}
		p[a.Name] = a.Value
	}
	return p
}

// serializeToMessage marshals an OutputRecord into a Kafka message.
func serializeToMessage(tag string, rec join.OutputRecord, exportedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(payload(tag, rec))
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize fire event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(rec.EventID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "dataset", Value: []byte(tag)},
			{Key: "exported_at", Value: []byte(exportedAt.Format(time.RFC3339))},
		},
	}, nil
}
