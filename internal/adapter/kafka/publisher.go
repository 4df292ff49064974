// Package kafka publishes packaged grids to a Kafka topic, one message per
// variable.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/couchcryptid/station-grid-etl/internal/dataset"
	kafkago "github.com/segmentio/kafka-go"
)

// GridMessage is the JSON value of a published message. Missing grid nodes
// are null.
type GridMessage struct {
	RunID      string            `json:"run_id"`
	Variable   string            `json:"variable"`
	Units      string            `json:"units"`
	LongName   string            `json:"long_name"`
	ValidTime  time.Time         `json:"valid_time"`
	Latitude   []float64         `json:"latitude"`
	Longitude  []float64         `json:"longitude"`
	Values     [][]*float64      `json:"values"`
	Coverage   float64           `json:"coverage"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher produces grid messages to a Kafka topic.
type Publisher struct {
	writer messageWriter
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the given topic.
func NewPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, logger: logger}
}

// Publish writes every variable of ds in a single WriteMessages call.
func (p *Publisher) Publish(ctx context.Context, runID string, ds *dataset.Dataset) error {
	if len(ds.Vars) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(ds.Vars))
	for i, v := range ds.Vars {
		msg, err := serializeToMessage(runID, ds, v)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish grids: %w", err)
	}
	p.logger.Info("grids published", "messages", len(msgs))
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage builds the message for one variable. The key is
// "<valid time>/<variable>" so successive runs for the same hour land on
// the same partition.
func serializeToMessage(runID string, ds *dataset.Dataset, v dataset.DataVar) (kafkago.Message, error) {
	validTime := ds.Time.UTC().Format(time.RFC3339)
	data, err := json.Marshal(GridMessage{
		RunID:      runID,
		Variable:   v.Name,
		Units:      v.Units,
		LongName:   v.LongName,
		ValidTime:  ds.Time.UTC(),
		Latitude:   ds.Latitude,
		Longitude:  ds.Longitude,
		Values:     nullable(v.Values),
		Coverage:   v.Coverage(),
		Attributes: ds.Attrs,
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize %s grid: %w", v.Name, err)
	}
	return kafkago.Message{
		Key:   []byte(validTime + "/" + v.Name),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(runID)},
			{Key: "variable", Value: []byte(v.Name)},
			{Key: "source_time", Value: []byte(validTime)},
		},
	}, nil
}

func nullable(values [][]float64) [][]*float64 {
	out := make([][]*float64, len(values))
	for j, row := range values {
		out[j] = make([]*float64, len(row))
		for i := range row {
			if !math.IsNaN(row[i]) && !math.IsInf(row[i], 0) {
				out[j][i] = &row[i]
			}
		}
	}
	return out
}
