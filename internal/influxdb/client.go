// Package influxdb reports accepted readings, monthly summaries and provider
// activity to InfluxDB for dashboards.
package influxdb

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/aggregate"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/config"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/models"
)

// Measurement names
const (
	MeasurementReading          = "meter_reading"
	MeasurementMonthlySummary   = "monthly_summary"
	MeasurementProviderActivity = "provider_activity"
)

// Client represents an InfluxDB v2 client
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	config   config.InfluxDBConfig
	logger   zerolog.Logger
	done     chan struct{}
}

// NewClient initializes the InfluxDB v2 client and verifies connectivity
func NewClient(ctx context.Context, cfg config.InfluxDBConfig, logger zerolog.Logger) (*Client, error) {
	opts := influxdb2.DefaultOptions()
	if cfg.BatchSize > 0 {
		opts.SetBatchSize(uint(cfg.BatchSize))
	}
	if cfg.BatchTimeout > 0 {
		opts.SetFlushInterval(uint(cfg.BatchTimeout.Milliseconds()))
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	if _, err := client.Health(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		config:   cfg,
		logger:   logger.With().Str("component", "influxdb").Logger(),
		done:     make(chan struct{}),
	}
	go c.logErrors()

	c.logger.Info().Str("url", cfg.URL).Str("bucket", cfg.Bucket).Msg("connected to InfluxDB")
	return c, nil
}

// logErrors reports asynchronous write failures
func (c *Client) logErrors() {
	defer close(c.done)
	for err := range c.writeAPI.Errors() {
		c.logger.Error().Err(err).Msg("write points")
	}
}

// WriteReading writes one accepted reading
func (c *Client) WriteReading(acc models.AcceptedReading) error {
	c.writeAPI.WritePoint(ReadingPoint(acc))
	return nil
}

// WriteSummary writes the current state of a monthly summary
func (c *Client) WriteSummary(s models.MonthlySummary) error {
	c.writeAPI.WritePoint(SummaryPoint(s))
	return nil
}

// WriteProviderActivity writes the provider activity of one flush window
func (c *Client) WriteProviderActivity(activity []models.ProviderActivity, timestamp time.Time) error {
	for _, a := range activity {
		c.writeAPI.WritePoint(ProviderActivityPoint(a, timestamp))
	}
	return nil
}

// Close flushes pending points and closes the InfluxDB client
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
	select {
	case <-c.done:
	case <-time.After(time.Second):
	}
}

// ReadingPoint builds the point of an accepted reading
func ReadingPoint(acc models.AcceptedReading) *write.Point {
	return write.NewPoint(
		MeasurementReading,
		map[string]string{
			"account_id":  acc.AccountID,
			"provider_id": aggregate.ProviderKey(acc.ProviderID),
			"manual":      fmt.Sprintf("%t", acc.IsManualEntry),
		},
		map[string]interface{}{
			"cumulative_kwh": acc.CumulativeConsumption,
			"delta_kwh":      acc.Delta,
		},
		acc.Timestamp,
	)
}

// SummaryPoint builds the point of a monthly summary at its observation time
func SummaryPoint(s models.MonthlySummary) *write.Point {
	fields := map[string]interface{}{
		"total_kwh":         s.TotalMonthlyConsumption,
		"daily_average_kwh": s.DailyAverageConsumption,
		"peak_hourly_kwh":   s.PeakHourlyConsumption,
		"reading_count":     s.ReadingCount,
	}
	if s.CitizenCount != nil {
		fields["citizen_count"] = *s.CitizenCount
	}
	if s.AverageConsumptionPerCitizen != nil {
		fields["average_per_citizen_kwh"] = *s.AverageConsumptionPerCitizen
	}

	return write.NewPoint(
		MeasurementMonthlySummary,
		map[string]string{
			"account_id":  s.AccountID,
			"provider_id": aggregate.ProviderKey(s.ProviderID),
			"period":      s.PeriodStart.Format("2006-01"),
		},
		fields,
		s.ObservedAt,
	)
}

// ProviderActivityPoint builds the point of one provider's flush window
func ProviderActivityPoint(a models.ProviderActivity, timestamp time.Time) *write.Point {
	return write.NewPoint(
		MeasurementProviderActivity,
		map[string]string{
			"provider_id": a.ProviderID,
		},
		map[string]interface{}{
			"delta_kwh":     a.DeltaKWh,
			"account_count": a.AccountCount,
			"max_delta_kwh": a.MaxDeltaKWh,
			"reading_count": a.ReadingCount,
		},
		timestamp,
	)
}
