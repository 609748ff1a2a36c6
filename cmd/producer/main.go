package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/jengzang/scootermap-go/internal/config"
	"github.com/jengzang/scootermap-go/internal/gbfs"
	"github.com/jengzang/scootermap-go/internal/logging"
	"github.com/jengzang/scootermap-go/internal/transport/kafka"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	logger := logging.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	publisher := kafka.NewPublisher(kafka.NewWriter(cfg.Kafka), logger)
	defer publisher.Close()

	producer := gbfs.NewProducer(gbfs.NewClient(cfg.GBFS.URL, cfg.GBFS.Timeout), publisher, cfg.GBFS.FetchInterval, logger)

	logger.WithFields(logrus.Fields{
		"url":   cfg.GBFS.URL,
		"topic": cfg.Kafka.TopicRaw,
	}).Info("Feed producer starting")

	if err := producer.Run(ctx); err != nil {
		logger.WithError(err).Fatal("Feed producer failed")
	}
}
