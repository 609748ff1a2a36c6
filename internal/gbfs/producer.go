package gbfs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/jengzang/scootermap-go/internal/models"
)

// Fetcher returns the current vehicle reports
type Fetcher interface {
	Fetch(ctx context.Context) ([]models.RawReport, error)
}

// Publisher forwards vehicle reports to the transport
type Publisher interface {
	Publish(ctx context.Context, reports []models.RawReport) error
}

// Producer polls the feed on a fixed schedule and publishes every vehicle
type Producer struct {
	fetcher   Fetcher
	publisher Publisher
	interval  time.Duration
	logger    logrus.FieldLogger
}

// NewProducer creates a new producer
func NewProducer(fetcher Fetcher, publisher Publisher, interval time.Duration, logger logrus.FieldLogger) *Producer {
	return &Producer{
		fetcher:   fetcher,
		publisher: publisher,
		interval:  interval,
		logger:    logger,
	}
}

// Tick runs one fetch and publish
func (p *Producer) Tick(ctx context.Context) (int, error) {
	reports, err := p.fetcher.Fetch(ctx)
	if err != nil {
		return 0, err
	}
	if err := p.publisher.Publish(ctx, reports); err != nil {
		return 0, err
	}
	return len(reports), nil
}

// Run ticks once immediately, then every interval until ctx is done.
// Failed ticks are logged and the schedule continues.
func (p *Producer) Run(ctx context.Context) error {
	if p.interval <= 0 {
		return fmt.Errorf("invalid fetch interval %s", p.interval)
	}

	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{p.logger}),
		cron.SkipIfStillRunning(cronLogger{p.logger}),
	))
	tick := func() {
		n, err := p.Tick(ctx)
		if err != nil {
			p.logger.WithError(err).Error("Feed tick failed")
			return
		}
		p.logger.WithField("vehicles", n).Info("Feed tick completed")
	}
	if _, err := c.AddFunc("@every "+p.interval.String(), tick); err != nil {
		return fmt.Errorf("failed to schedule feed fetch: %w", err)
	}

	p.logger.WithField("interval", p.interval.String()).Info("Starting feed producer")
	tick()
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	p.logger.Info("Feed producer stopped")
	return nil
}

// cronLogger adapts logrus to cron.Logger
type cronLogger struct {
	logger logrus.FieldLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).WithFields(kvFields(keysAndValues)).Error(msg)
}

func kvFields(kv []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
