package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jengzang/scootermap-go/internal/aggregation"
	"github.com/jengzang/scootermap-go/internal/metrics"
	"github.com/jengzang/scootermap-go/internal/models"
)

// SnapshotWriter is the write side of the snapshot store used by the worker
type SnapshotWriter interface {
	InsertRawLocations(ctx context.Context, locations []models.RawLocation) error
	ReplaceSnapshot(ctx context.Context, resolution int, records []models.AggregationRecord) error
	CleanupOlderThan(ctx context.Context, retention time.Duration) (models.CleanupResult, error)
}

// Cycle stages, in execution order.
const (
	StageReceived     = "received"
	StageDeduplicated = "deduplicated"
	StageAggregated   = "aggregated"
	StageDecayed      = "decayed"
	StagePersisted    = "persisted"
	StageCleanedUp    = "cleaned-up"
)

// CycleError reports the stage a cycle failed to reach.
type CycleError struct {
	Stage string
	Err   error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle failed before %s: %v", e.Stage, e.Err)
}

func (e *CycleError) Unwrap() error { return e.Err }

// CycleReport summarizes a completed cycle
type CycleReport struct {
	ID        string
	Received  int
	Accepted  int
	Cells     map[int]int
	Vehicles  map[int]int
	Cleanup   models.CleanupResult
	Duration  time.Duration
	Timestamp time.Time
}

// WorkerConfig configures an AggregationWorker
type WorkerConfig struct {
	Retention time.Duration
	Logger    logrus.FieldLogger
	Metrics   *metrics.WorkerMetrics
	Health    *HealthChecker
	// Now defaults to time.Now.
	Now func() time.Time
}

// AggregationWorker runs one aggregation cycle per delivered batch. It owns
// the service area tracker; batches must be delivered one at a time.
type AggregationWorker struct {
	aggregator *aggregation.Aggregator
	tracker    *aggregation.Tracker
	store      SnapshotWriter
	retention  time.Duration
	logger     logrus.FieldLogger
	metrics    *metrics.WorkerMetrics
	health     *HealthChecker
	now        func() time.Time
}

// NewAggregationWorker creates a worker. The tracker carries the previous
// cycle's active cells; pass aggregation.NewTracker() on a fresh start.
func NewAggregationWorker(aggregator *aggregation.Aggregator, tracker *aggregation.Tracker, store SnapshotWriter, cfg WorkerConfig) *AggregationWorker {
	w := &AggregationWorker{
		aggregator: aggregator,
		tracker:    tracker,
		store:      store,
		retention:  cfg.Retention,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		health:     cfg.Health,
		now:        cfg.Now,
	}
	if w.logger == nil {
		w.logger = logrus.StandardLogger()
	}
	if w.now == nil {
		w.now = time.Now
	}
	return w
}

// IngestBatch processes one batch and never fails or panics to the caller.
// A failed cycle is logged and the next batch is processed normally.
func (w *AggregationWorker) IngestBatch(ctx context.Context, reports []models.RawReport) {
	start := w.now()
	report, err := w.process(ctx, reports)
	duration := w.now().Sub(start)

	if w.metrics != nil {
		w.metrics.CycleDuration.Observe(duration.Seconds())
	}

	if err != nil {
		w.logger.WithError(err).WithField("batch_size", len(reports)).Error("Aggregation cycle failed")
		if w.metrics != nil {
			w.metrics.Cycles.WithLabelValues("failure").Inc()
		}
		if w.health != nil {
			w.health.RecordFailure(err)
		}
		return
	}

	report.Duration = duration
	if w.metrics != nil {
		w.metrics.Cycles.WithLabelValues("success").Inc()
		w.metrics.LastSuccess.Set(float64(report.Timestamp.Unix()))
	}
	if w.health != nil {
		w.health.RecordSuccess(report.Timestamp)
	}
	w.logger.WithFields(logrus.Fields{
		"cycle_id": report.ID,
		"received": report.Received,
		"accepted": report.Accepted,
		"duration": duration.String(),
	}).Info("Aggregation cycle completed")
}

func (w *AggregationWorker) process(ctx context.Context, reports []models.RawReport) (report *CycleReport, err error) {
	defer func() {
		if p := recover(); p != nil {
			report = nil
			err = fmt.Errorf("panic during aggregation cycle: %v", p)
		}
	}()
	return w.ProcessBatch(ctx, reports)
}

// ProcessBatch runs the cycle and returns a *CycleError naming the stage
// that was not reached on failure. Storage is left as the last successful
// step produced; snapshots are replaced one resolution at a time.
func (w *AggregationWorker) ProcessBatch(ctx context.Context, reports []models.RawReport) (*CycleReport, error) {
	ts := w.now().UTC()
	id := uuid.NewString()
	log := w.logger.WithField("cycle_id", id)

	report := &CycleReport{
		ID:        id,
		Received:  len(reports),
		Cells:     make(map[int]int),
		Vehicles:  make(map[int]int),
		Timestamp: ts,
	}
	if w.metrics != nil {
		w.metrics.ReportsReceived.Add(float64(len(reports)))
	}
	log.WithField("batch_size", len(reports)).Debug("Processing batch")

	locations := w.aggregator.Deduplicate(reports, ts)
	report.Accepted = len(locations)
	if w.metrics != nil {
		w.metrics.ReportsAccepted.Add(float64(len(locations)))
	}
	if len(locations) == 0 {
		log.Warn("No valid unique vehicles in batch")
	} else {
		log.WithFields(logrus.Fields{
			"unique":   len(locations),
			"received": len(reports),
		}).Debug("Deduplicated batch")
	}

	if err := w.store.InsertRawLocations(ctx, locations); err != nil {
		return nil, &CycleError{Stage: StageDeduplicated, Err: err}
	}

	counts, err := w.aggregator.Count(locations)
	if err != nil {
		return nil, &CycleError{Stage: StageAggregated, Err: err}
	}

	resolutions := w.aggregator.Resolutions()
	snapshots := make(map[int][]models.AggregationRecord, len(resolutions))
	current := make(map[int]aggregation.CellSet, len(resolutions))
	for _, res := range resolutions {
		snapshots[res], current[res] = aggregation.ServiceArea(res, counts[res], w.tracker.Previous(res), ts)
	}

	for _, res := range resolutions {
		if err := w.store.ReplaceSnapshot(ctx, res, snapshots[res]); err != nil {
			return nil, &CycleError{Stage: StagePersisted, Err: fmt.Errorf("resolution %d: %w", res, err)}
		}
		report.Cells[res] = len(snapshots[res])
		report.Vehicles[res] = counts[res].Total()
		if w.metrics != nil {
			w.metrics.SnapshotCells.WithLabelValues(metrics.ResolutionLabel(res)).Set(float64(len(snapshots[res])))
		}
		log.WithFields(logrus.Fields{
			"resolution": res,
			"hexagons":   len(snapshots[res]),
			"active":     len(current[res]),
			"vehicles":   report.Vehicles[res],
		}).Debug("Snapshot replaced")
	}
	w.tracker.Commit(current)

	cleanup, err := w.store.CleanupOlderThan(ctx, w.retention)
	if err != nil {
		return nil, &CycleError{Stage: StageCleanedUp, Err: err}
	}
	report.Cleanup = cleanup
	if n := cleanup.Total(); n > 0 {
		log.WithField("deleted", n).Debug("Retention cleanup removed rows")
	}

	return report, nil
}

// TrackedCells returns the number of active cells per resolution.
func (w *AggregationWorker) TrackedCells() map[int]int {
	return w.tracker.Sizes()
}
