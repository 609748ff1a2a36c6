package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/jengzang/scootermap-go/internal/config"
	"github.com/jengzang/scootermap-go/internal/models"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes one keyed message per vehicle report
type Publisher struct {
	writer MessageWriter
	logger logrus.FieldLogger
}

// NewWriter creates a writer for the raw report topic. Messages are
// partitioned by key so one vehicle stays on one partition.
func NewWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.BrokerList()...),
		Topic:        cfg.TopicRaw,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
}

// NewPublisher creates a new publisher
func NewPublisher(writer MessageWriter, logger logrus.FieldLogger) *Publisher {
	return &Publisher{writer: writer, logger: logger}
}

// Encode builds the message for a report keyed by its vehicle id
func Encode(report models.RawReport) (kafka.Message, error) {
	value, err := json.Marshal(report)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode report %s: %w", report.BikeID, err)
	}
	key := report.BikeID
	if key == "" {
		key = "unknown"
	}
	return kafka.Message{Key: []byte(key), Value: value}, nil
}

// Publish writes every report in one call
func (p *Publisher) Publish(ctx context.Context, reports []models.RawReport) error {
	if len(reports) == 0 {
		p.logger.Warn("No vehicles to publish")
		return nil
	}

	msgs := make([]kafka.Message, 0, len(reports))
	for _, r := range reports {
		msg, err := Encode(r)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to publish %d reports: %w", len(msgs), err)
	}
	p.logger.WithField("count", len(msgs)).Info("Published vehicle reports")
	return nil
}

// Close flushes and closes the writer
func (p *Publisher) Close() error {
	return p.writer.Close()
}
