package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jengzang/scootermap-go/internal/aggregation"
	"github.com/jengzang/scootermap-go/internal/api"
	"github.com/jengzang/scootermap-go/internal/config"
	"github.com/jengzang/scootermap-go/internal/handler"
	"github.com/jengzang/scootermap-go/internal/logging"
	"github.com/jengzang/scootermap-go/internal/metrics"
	"github.com/jengzang/scootermap-go/internal/repository"
	"github.com/jengzang/scootermap-go/internal/service"
	"github.com/jengzang/scootermap-go/internal/spatial"
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

	store, err := repository.Open(ctx, cfg.Database.Path, repository.Options{
		Resolutions: cfg.H3.Resolutions,
		Retry:       repository.RetryPolicy{MaxAttempts: cfg.Storage.RetryAttempts, Delay: cfg.Storage.RetryDelay},
		Logger:      logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize snapshot store")
	}
	defer store.Close()

	box := spatial.NewBoundingBox(cfg.Bounds.MinLat, cfg.Bounds.MaxLat, cfg.Bounds.MinLon, cfg.Bounds.MaxLon)
	aggregator, err := aggregation.NewAggregator(box, cfg.H3.Resolutions)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create aggregator")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	health := service.NewHealthChecker(cfg.Worker.StaleAfter, nil)

	worker := service.NewAggregationWorker(aggregator, aggregation.NewTracker(), store, service.WorkerConfig{
		Retention: cfg.Window.Retention(),
		Logger:    logger,
		Metrics:   metrics.NewWorkerMetrics(reg),
		Health:    health,
	})

	consumer := kafka.NewConsumer(kafka.NewReader(cfg.Kafka, logger), cfg.Kafka, logger)
	defer consumer.Close()

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              cfg.Worker.HealthPort,
		Handler:           api.SetupWorkerRouter(logger, handler.NewWorkerHealthHandler(health), reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.WithFields(logrus.Fields{
		"topic":       cfg.Kafka.TopicRaw,
		"group":       cfg.Kafka.GroupID,
		"resolutions": cfg.H3.Resolutions,
		"batch_size":  cfg.Kafka.BatchSize,
	}).Info("Aggregation worker starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(gctx, worker)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Worker stopped with error")
		return
	}
	logger.Info("Worker stopped")
}
