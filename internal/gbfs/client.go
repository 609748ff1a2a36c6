package gbfs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jengzang/scootermap-go/internal/models"
)

// FreeBikeStatus is the free_bike_status.json document
type FreeBikeStatus struct {
	LastUpdated int64 `json:"last_updated"`
	TTL         int   `json:"ttl"`
	Data        struct {
		Bikes []models.RawReport `json:"bikes"`
	} `json:"data"`
}

// Client fetches a GBFS free_bike_status feed
type Client struct {
	url        string
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a feed client with the given request timeout
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// Fetch downloads the feed and stamps every vehicle with the fetch time
func (c *Client) Fetch(ctx context.Context) ([]models.RawReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("feed returned status %d: %s", resp.StatusCode, body)
	}

	var status FreeBikeStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	ts := c.now().UTC()
	bikes := status.Data.Bikes
	for i := range bikes {
		bikes[i].FetchTimestamp = &ts
	}
	return bikes, nil
}
