package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/jengzang/scootermap-go/internal/config"
	"github.com/jengzang/scootermap-go/internal/models"
)

const commitTimeout = 5 * time.Second

// MessageReader is the subset of *kafka.Reader the consumer needs
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// BatchHandler processes one batch of decoded reports
type BatchHandler interface {
	IngestBatch(ctx context.Context, reports []models.RawReport)
}

// Consumer groups vehicle report messages into batches
type Consumer struct {
	reader       MessageReader
	batchSize    int
	batchTimeout time.Duration
	retryDelay   time.Duration
	logger       logrus.FieldLogger
}

// NewReader creates a consumer group reader for the raw report topic
func NewReader(cfg config.KafkaConfig, logger logrus.FieldLogger) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.BrokerList(),
		Topic:          cfg.TopicRaw,
		GroupID:        cfg.GroupID,
		StartOffset:    kafka.LastOffset,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
		Logger:         kafka.LoggerFunc(logger.Debugf),
		ErrorLogger:    kafka.LoggerFunc(logger.Errorf),
	})
}

// NewConsumer creates a new batch consumer
func NewConsumer(reader MessageReader, cfg config.KafkaConfig, logger logrus.FieldLogger) *Consumer {
	c := &Consumer{
		reader:       reader,
		batchSize:    cfg.BatchSize,
		batchTimeout: cfg.BatchTimeout,
		retryDelay:   time.Second,
		logger:       logger,
	}
	if c.batchSize <= 0 {
		c.batchSize = 1
	}
	return c
}

// Decode parses a single report message
func Decode(value []byte) (models.RawReport, error) {
	var report models.RawReport
	err := json.Unmarshal(value, &report)
	return report, err
}

// ReadBatch blocks until batchSize messages arrived or batchTimeout elapsed
// since the call. Undecodable messages are dropped but still returned in
// msgs so their offsets get committed.
func (c *Consumer) ReadBatch(ctx context.Context) ([]models.RawReport, []kafka.Message, error) {
	batchCtx := ctx
	if c.batchTimeout > 0 {
		var cancel context.CancelFunc
		batchCtx, cancel = context.WithTimeout(ctx, c.batchTimeout)
		defer cancel()
	}

	reports := make([]models.RawReport, 0, c.batchSize)
	msgs := make([]kafka.Message, 0, c.batchSize)

	for len(msgs) < c.batchSize {
		msg, err := c.reader.FetchMessage(batchCtx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			if len(msgs) > 0 {
				c.logger.WithError(err).Warn("Fetch failed, flushing partial batch")
				break
			}
			return nil, nil, err
		}

		msgs = append(msgs, msg)
		report, err := Decode(msg.Value)
		if err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{
				"partition": msg.Partition,
				"offset":    msg.Offset,
			}).Warn("Dropping undecodable message")
			continue
		}
		reports = append(reports, report)
	}

	return reports, msgs, nil
}

// Run hands every non-empty batch to handler and commits its offsets
// after the handler returns. It returns nil when ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, handler BatchHandler) error {
	c.logger.Info("Starting batch consumer")

	for {
		reports, msgs, err := c.ReadBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("Batch consumer stopped")
				return nil
			}
			c.logger.WithError(err).Error("Error reading messages")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.retryDelay):
			}
			continue
		}
		if len(msgs) == 0 {
			continue
		}

		if len(reports) > 0 {
			handler.IngestBatch(ctx, reports)
		}

		commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
		if err := c.reader.CommitMessages(commitCtx, msgs...); err != nil {
			c.logger.WithError(err).WithField("messages", len(msgs)).Error("Failed to commit offsets")
		}
		cancel()
	}
}

// Close closes the underlying reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
