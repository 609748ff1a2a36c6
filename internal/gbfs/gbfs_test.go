package gbfs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/scootermap-go/internal/logging"
	"github.com/jengzang/scootermap-go/internal/models"
)

const feed = `{
  "last_updated": 1714564800,
  "ttl": 60,
  "data": {
    "bikes": [
      {"bike_id": "dott-1", "lat": 50.7753, "lon": 6.0839, "is_reserved": false, "is_disabled": false, "vehicle_type_id": "scooter"},
      {"bike_id": "dott-2", "lat": 50.7801, "lon": 6.1001, "is_reserved": true, "is_disabled": false}
    ]
  }
}`

func TestClientFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(feed))
	}))
	defer srv.Close()

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := NewClient(srv.URL, time.Second)
	c.now = func() time.Time { return ts }

	bikes, err := c.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, bikes, 2)
	assert.Equal(t, "dott-1", bikes[0].BikeID)
	assert.Equal(t, 50.7753, *bikes[0].Lat)
	assert.Equal(t, "scooter", *bikes[0].VehicleTypeID)
	assert.True(t, bikes[1].IsReserved)
	assert.Nil(t, bikes[1].VehicleTypeID)
	for _, b := range bikes {
		require.NotNil(t, b.FetchTimestamp)
		assert.Equal(t, ts, *b.FetchTimestamp)
	}
}

func TestClientFetchErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusBadGateway, "upstream down"},
		{"malformed body", http.StatusOK, "{not json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, time.Second).Fetch(context.Background())
			assert.Error(t, err)
		})
	}
}

type stubFetcher struct {
	reports []models.RawReport
	err     error
}

func (f stubFetcher) Fetch(context.Context) ([]models.RawReport, error) {
	return f.reports, f.err
}

type stubPublisher struct {
	mu    sync.Mutex
	calls int
	last  []models.RawReport
}

func (p *stubPublisher) Publish(_ context.Context, reports []models.RawReport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.last = reports
	return nil
}

func (p *stubPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestProducerTick(t *testing.T) {
	pub := &stubPublisher{}
	p := NewProducer(stubFetcher{reports: []models.RawReport{{BikeID: "a"}}}, pub, time.Minute, logging.Discard())

	n, err := p.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, pub.count())

	failing := NewProducer(stubFetcher{err: errors.New("timeout")}, pub, time.Minute, logging.Discard())
	_, err = failing.Tick(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, pub.count())
}

func TestProducerRunTicksImmediately(t *testing.T) {
	pub := &stubPublisher{}
	p := NewProducer(stubFetcher{reports: []models.RawReport{{BikeID: "a"}}}, pub, time.Hour, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestProducerRejectsInterval(t *testing.T) {
	p := NewProducer(stubFetcher{}, &stubPublisher{}, 0, logging.Discard())
	assert.Error(t, p.Run(context.Background()))
}
