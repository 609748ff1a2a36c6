package aggregation

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/scootermap-go/internal/models"
	"github.com/jengzang/scootermap-go/internal/spatial"
)

var testResolutions = []int{9, 8, 7, 6}

func f(v float64) *float64 { return &v }

func report(id string, lat, lon float64) models.RawReport {
	return models.RawReport{BikeID: id, Lat: f(lat), Lon: f(lon)}
}

func newTestAggregator(t *testing.T) *Aggregator {
	t.Helper()
	a, err := NewAggregator(spatial.NewBoundingBox(50.72, 50.82, 6.03, 6.14), testResolutions)
	require.NoError(t, err)
	return a
}

func TestNewAggregatorValidation(t *testing.T) {
	box := spatial.NewBoundingBox(50.72, 50.82, 6.03, 6.14)

	_, err := NewAggregator(box, nil)
	assert.Error(t, err)

	_, err = NewAggregator(box, []int{9, 16})
	assert.ErrorIs(t, err, spatial.ErrInvalidResolution)
}

func TestAggregateScenario(t *testing.T) {
	a := newTestAggregator(t)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	batch := []models.RawReport{
		report("a", 50.75, 6.08),
		report("a", 50.76, 6.09),
		report("b", 40.0, 6.08),
	}

	result, err := a.Aggregate(batch, ts)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Received)
	require.Len(t, result.Locations, 1)
	assert.Equal(t, "a", result.Locations[0].BikeID)
	assert.Equal(t, 50.75, result.Locations[0].Lat)
	assert.Equal(t, 6.08, result.Locations[0].Lon)
	assert.Equal(t, ts, result.Locations[0].Timestamp)

	require.Len(t, result.Counts, len(testResolutions))
	for _, res := range testResolutions {
		cell, err := spatial.Encode(50.75, 6.08, res)
		require.NoError(t, err)
		assert.Equal(t, models.CellCount{cell: 1}, result.Counts[res], "resolution %d", res)
	}
}

func TestDeduplicateFirstOccurrenceWins(t *testing.T) {
	a := newTestAggregator(t)

	others := []models.RawReport{
		report("c", 50.73, 6.04),
		report("d", 50.80, 6.12),
		report("e", 50.78, 6.10),
		{BikeID: "f", Lat: f(50.74)},
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := make([]models.RawReport, len(others))
		copy(shuffled, others)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		batch := append([]models.RawReport{}, shuffled[:2]...)
		batch = append(batch, report("dup", 50.75, 6.08))
		batch = append(batch, shuffled[2:]...)
		batch = append(batch, report("dup", 50.81, 6.13))

		locations := a.Deduplicate(batch, time.Now())

		var dup []models.RawLocation
		for _, loc := range locations {
			if loc.BikeID == "dup" {
				dup = append(dup, loc)
			}
		}
		require.Len(t, dup, 1)
		assert.Equal(t, 50.75, dup[0].Lat)
		assert.Equal(t, 6.08, dup[0].Lon)
		assert.Len(t, locations, 4)
	}
}

func TestDeduplicateInvalidDoesNotClaimID(t *testing.T) {
	a := newTestAggregator(t)

	batch := []models.RawReport{
		report("x", 10, 10),
		report("x", 50.75, 6.08),
	}

	locations := a.Deduplicate(batch, time.Now())
	require.Len(t, locations, 1)
	assert.Equal(t, 50.75, locations[0].Lat)
}

func TestDeduplicateFilters(t *testing.T) {
	a := newTestAggregator(t)
	vt := "scooter"

	batch := []models.RawReport{
		report("", 50.75, 6.08),
		{BikeID: "no-lat", Lon: f(6.08)},
		{BikeID: "no-lon", Lat: f(50.75)},
		report("edge", 50.72, 6.14),
		report("outside", 50.72-1e-9, 6.10),
		{BikeID: "flags", Lat: f(50.77), Lon: f(6.05), IsReserved: true, IsDisabled: true, VehicleTypeID: &vt},
	}

	locations := a.Deduplicate(batch, time.Now())
	require.Len(t, locations, 2)
	assert.Equal(t, "edge", locations[0].BikeID)
	assert.Equal(t, "flags", locations[1].BikeID)
	assert.True(t, locations[1].IsReserved)
	assert.True(t, locations[1].IsDisabled)
	require.NotNil(t, locations[1].VehicleTypeID)
	assert.Equal(t, "scooter", *locations[1].VehicleTypeID)
}

func TestAggregateEmptyBatch(t *testing.T) {
	a := newTestAggregator(t)

	for _, batch := range [][]models.RawReport{nil, {report("", 1, 1), report("z", 0, 0)}} {
		result, err := a.Aggregate(batch, time.Now())
		require.NoError(t, err)
		assert.Empty(t, result.Locations)
		require.Len(t, result.Counts, len(testResolutions))
		for _, res := range testResolutions {
			assert.NotNil(t, result.Counts[res])
			assert.Empty(t, result.Counts[res])
		}
	}
}

func TestCountGroupsSameCell(t *testing.T) {
	a := newTestAggregator(t)

	locations := []models.RawLocation{
		{BikeID: "1", Lat: 50.75, Lon: 6.08},
		{BikeID: "2", Lat: 50.75, Lon: 6.08},
		{BikeID: "3", Lat: 50.81, Lon: 6.13},
	}

	counts, err := a.Count(locations)
	require.NoError(t, err)

	for _, res := range testResolutions {
		assert.Equal(t, 3, counts[res].Total())
		same, err := spatial.Encode(50.75, 6.08, res)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, counts[res][same], 2)
	}
}
