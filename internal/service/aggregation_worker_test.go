package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/scootermap-go/internal/aggregation"
	"github.com/jengzang/scootermap-go/internal/logging"
	"github.com/jengzang/scootermap-go/internal/metrics"
	"github.com/jengzang/scootermap-go/internal/models"
	"github.com/jengzang/scootermap-go/internal/spatial"
)

var (
	testResolutions = []int{9, 8}
	cycleTime       = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

type memStore struct {
	mu        sync.Mutex
	raw       []models.RawLocation
	snapshots map[int][]models.AggregationRecord
	replaces  int

	failReplaceAt int
	replaceErr    error
	cleanupErr    error
	panicOnInsert bool
}

func newMemStore() *memStore {
	return &memStore{snapshots: make(map[int][]models.AggregationRecord), failReplaceAt: -1}
}

func (m *memStore) InsertRawLocations(_ context.Context, locations []models.RawLocation) error {
	if m.panicOnInsert {
		panic("insert exploded")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raw = append(m.raw, locations...)
	return nil
}

func (m *memStore) ReplaceSnapshot(_ context.Context, resolution int, records []models.AggregationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replaces == m.failReplaceAt {
		m.replaces++
		return m.replaceErr
	}
	m.replaces++
	m.snapshots[resolution] = append([]models.AggregationRecord(nil), records...)
	return nil
}

func (m *memStore) CleanupOlderThan(_ context.Context, _ time.Duration) (models.CleanupResult, error) {
	if m.cleanupErr != nil {
		return models.CleanupResult{}, m.cleanupErr
	}
	return models.CleanupResult{AggregationDeleted: map[int]int64{}}, nil
}

func (m *memStore) counts(resolution int) map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int)
	for _, rec := range m.snapshots[resolution] {
		out[rec.H3Index] = rec.Count
	}
	return out
}

func ptr(v float64) *float64 { return &v }

func vehicle(id string, lat, lon float64) models.RawReport {
	return models.RawReport{BikeID: id, Lat: ptr(lat), Lon: ptr(lon)}
}

func newTestWorker(t *testing.T, store SnapshotWriter, cfg WorkerConfig) *AggregationWorker {
	t.Helper()
	agg, err := aggregation.NewAggregator(spatial.NewBoundingBox(50.72, 50.82, 6.03, 6.14), testResolutions)
	require.NoError(t, err)
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return cycleTime }
	}
	cfg.Retention = time.Hour
	return NewAggregationWorker(agg, aggregation.NewTracker(), store, cfg)
}

func TestProcessBatchDecayAcrossCycles(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	w := newTestWorker(t, store, WorkerConfig{})

	cell, err := spatial.Encode(50.75, 6.08, 9)
	require.NoError(t, err)

	report, err := w.ProcessBatch(ctx, []models.RawReport{
		vehicle("a", 50.75, 6.08),
		vehicle("a", 50.76, 6.09),
		vehicle("b", 40.0, 6.08),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Received)
	assert.Equal(t, 1, report.Accepted)
	assert.Equal(t, 1, report.Cells[9])
	assert.NotEmpty(t, report.ID)
	assert.Equal(t, map[string]int{cell: 1}, store.counts(9))
	assert.Len(t, store.raw, 1)
	assert.Equal(t, map[int]int{9: 1, 8: 1}, w.TrackedCells())

	// The emptied cell fades with count 0 for one cycle.
	_, err = w.ProcessBatch(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{cell: 0}, store.counts(9))
	assert.Equal(t, map[int]int{9: 0, 8: 0}, w.TrackedCells())

	_, err = w.ProcessBatch(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, store.counts(9))
	assert.Empty(t, store.counts(8))
}

func TestProcessBatchPersistFailureKeepsTracker(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	w := newTestWorker(t, store, WorkerConfig{})

	_, err := w.ProcessBatch(ctx, []models.RawReport{vehicle("a", 50.75, 6.08)})
	require.NoError(t, err)

	// Fail on the second resolution of the next cycle.
	store.failReplaceAt = store.replaces + 1
	store.replaceErr = errors.New("disk full")

	_, err = w.ProcessBatch(ctx, nil)
	require.Error(t, err)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, StagePersisted, cycleErr.Stage)
	assert.Equal(t, map[int]int{9: 1, 8: 1}, w.TrackedCells())
}

func TestProcessBatchCleanupFailure(t *testing.T) {
	store := newMemStore()
	store.cleanupErr = errors.New("locked")
	w := newTestWorker(t, store, WorkerConfig{})

	_, err := w.ProcessBatch(context.Background(), []models.RawReport{vehicle("a", 50.75, 6.08)})
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, StageCleanedUp, cycleErr.Stage)
	assert.ErrorIs(t, err, store.cleanupErr)
}

func TestIngestBatchRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWorkerMetrics(reg)
	health := NewHealthChecker(time.Minute, func() time.Time { return cycleTime })
	store := newMemStore()
	w := newTestWorker(t, store, WorkerConfig{Metrics: m, Health: health})

	w.IngestBatch(context.Background(), []models.RawReport{
		vehicle("a", 50.75, 6.08),
		vehicle("b", 50.76, 6.09),
		{BikeID: "c"},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cycles.WithLabelValues("success")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ReportsReceived))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReportsAccepted))
	assert.Equal(t, float64(cycleTime.Unix()), testutil.ToFloat64(m.LastSuccess))

	snap := health.Snapshot()
	assert.Equal(t, "healthy", snap.Status)
	require.NotNil(t, snap.LastSuccess)
	assert.Equal(t, cycleTime, *snap.LastSuccess)
}

func TestIngestBatchSurvivesPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWorkerMetrics(reg)
	health := NewHealthChecker(time.Minute, func() time.Time { return cycleTime })
	store := newMemStore()
	store.panicOnInsert = true
	w := newTestWorker(t, store, WorkerConfig{Metrics: m, Health: health})

	assert.NotPanics(t, func() {
		w.IngestBatch(context.Background(), []models.RawReport{vehicle("a", 50.75, 6.08)})
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cycles.WithLabelValues("failure")))
	assert.Equal(t, 1, health.Snapshot().ConsecutiveFailures)
	assert.Contains(t, health.Snapshot().LastError, "insert exploded")

	// The next batch is processed normally.
	store.panicOnInsert = false
	w.IngestBatch(context.Background(), []models.RawReport{vehicle("a", 50.75, 6.08)})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cycles.WithLabelValues("success")))
	assert.Zero(t, health.Snapshot().ConsecutiveFailures)
	assert.Len(t, store.counts(9), 1)
}
