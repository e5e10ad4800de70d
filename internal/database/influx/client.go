// Package influx provides time-series storage for SoloForge mining metrics:
// hashrate samples, block discoveries, and session statistics.
package influx

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Client wraps InfluxDB operations for miner telemetry
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	queryAPI api.QueryAPI
	bucket   string
	org      string
}

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewClient creates a new InfluxDB client
func NewClient(cfg *Config) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check InfluxDB health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return nil, fmt.Errorf("InfluxDB health check failed: %s", msg)
	}

	return &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
		org:      cfg.Org,
	}, nil
}

// Close flushes pending points and closes the connection
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}

// Health checks InfluxDB connectivity
func (c *Client) Health(ctx context.Context) error {
	health, err := c.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("health check failed: %s", msg)
	}

	return nil
}

// WriteHashrateMetric writes one hashrate sample for the whole worker pool
func (c *Client) WriteHashrateMetric(miningAddress string, threads int, hashrate float64, hashesTried uint64) {
	tags := map[string]string{
		"mining_address": miningAddress,
	}

	fields := map[string]interface{}{
		"hashrate":     hashrate,
		"threads":      threads,
		"hashes_tried": int64(hashesTried),
	}

	point := write.NewPoint("hashrate", tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WriteBlockMetric writes a block submission outcome
func (c *Client) WriteBlockMetric(height int64, nonce uint64, status string, latencyMs float64) {
	tags := map[string]string{
		"status": status,
	}

	fields := map[string]interface{}{
		"height":     height,
		"nonce":      fmt.Sprintf("%d", nonce),
		"latency_ms": latencyMs,
		"count":      1,
	}

	point := write.NewPoint("blocks", tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WriteSessionStatsMetric writes cumulative session counters
func (c *Client) WriteSessionStatsMetric(hashesTried, blocksSubmitted, blocksAccepted uint64, threads int) {
	fields := map[string]interface{}{
		"hashes_tried":     int64(hashesTried),
		"blocks_submitted": int64(blocksSubmitted),
		"blocks_accepted":  int64(blocksAccepted),
		"threads":          threads,
	}

	point := write.NewPoint("session_stats", map[string]string{}, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// GetHashrateHistory retrieves averaged hashrate samples for a mining address
func (c *Client) GetHashrateHistory(ctx context.Context, miningAddress string, duration time.Duration) ([]HashratePoint, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -%s)
		|> filter(fn: (r) => r._measurement == "hashrate")
		|> filter(fn: (r) => r.mining_address == "%s")
		|> filter(fn: (r) => r._field == "hashrate")
		|> aggregateWindow(every: 1m, fn: mean, createEmpty: false)
	`, c.bucket, duration.String(), miningAddress)

	result, err := c.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query hashrate history: %w", err)
	}
	defer func() {
		_ = result.Close()
	}()

	var points []HashratePoint
	for result.Next() {
		record := result.Record()
		if value, ok := record.Value().(float64); ok {
			points = append(points, HashratePoint{
				Time:     record.Time(),
				Hashrate: value,
			})
		}
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("error reading query result: %w", result.Err())
	}

	return points, nil
}

// Flush forces a write of all pending points
func (c *Client) Flush() {
	c.writeAPI.Flush()
}

// HashratePoint represents a hashrate measurement at a point in time
type HashratePoint struct {
	Time     time.Time `json:"time"`
	Hashrate float64   `json:"hashrate"`
}
