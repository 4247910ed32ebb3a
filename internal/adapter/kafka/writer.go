package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/forecast-bulletin-etl/internal/config"
	"github.com/couchcryptid/forecast-bulletin-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafkago.Writer the Writer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes daily forecast records to a Kafka topic.
// It implements pipeline.DailyLoader.
type Writer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// dailyMessage is the JSON payload of one published record.
type dailyMessage struct {
	Location      string   `json:"location"`
	State         string   `json:"state"`
	Day           string   `json:"day"`
	Cycle         string   `json:"cycle"`
	Temperature   *float64 `json:"t2m"`
	Precipitation *float64 `json:"tp"`
	WindU         *float64 `json:"u10"`
	WindV         *float64 `json:"v10"`
}

// LoadDaily serializes and publishes one message per daily record in a
// single WriteMessages call.
func (w *Writer) LoadDaily(ctx context.Context, cycle domain.Cycle, records []domain.DailyRecord) error {
	if len(records) == 0 {
		return nil
	}
	processedAt := domain.Now().UTC()
	msgs := make([]kafkago.Message, len(records))
	for i := range records {
		msg, err := serializeToMessage(cycle, records[i], processedAt)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish daily records: %w", err)
	}
	w.logger.Info("daily records published", "cycle", cycle.String(), "messages", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// messageKey identifies a (location, day) row so compacted topics keep only
// the latest forecast for it.
func messageKey(rec domain.DailyRecord) string {
	return rec.Location.State + "|" + rec.Location.Name + "|" + rec.Day.Format(domain.DayLayout)
}

// serializeToMessage marshals a DailyRecord into a Kafka message.
func serializeToMessage(cycle domain.Cycle, rec domain.DailyRecord, processedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(dailyMessage{
		Location:      rec.Location.Name,
		State:         rec.Location.State,
		Day:           rec.Day.Format(domain.DayLayout),
		Cycle:         cycle.String(),
		Temperature:   rec.Temperature,
		Precipitation: rec.Precipitation,
		WindU:         rec.WindU,
		WindV:         rec.WindV,
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize daily record: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(messageKey(rec)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "cycle", Value: []byte(cycle.String())},
			{Key: "processed_at", Value: []byte(processedAt.Format(time.RFC3339))},
		},
	}, nil
}
