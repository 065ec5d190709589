// Package influx records readings as InfluxDB v2 points.
package influx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/i474232898/airvisual-sensor/internal/weather"
)

const measurement = "airvisual"

var ErrNotConfigured = errors.New("influxdb url, org and bucket are required")

// Config selects the server and destination bucket.
type Config struct {
	URL       string
	Token     string
	Org       string
	Bucket    string
	Accessory string
}

// Sink writes each reading synchronously. Inactive markers are recorded as
// an "active" field so gaps in the data source show up in dashboards.
type Sink struct {
	client    influxdb2.Client
	writeAPI  api.WriteAPIBlocking
	accessory string
	logger    *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Sink, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, ErrNotConfigured
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Sink{
		client:    client,
		writeAPI:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		accessory: cfg.Accessory,
		logger:    logger,
	}, nil
}

// Publish implements weather.Sink.
func (s *Sink) Publish(ctx context.Context, r weather.Reading) error {
	p := PointFor(s.accessory, r)
	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	return nil
}

// SetActive implements weather.Sink.
func (s *Sink) SetActive(ctx context.Context, active bool) error {
	p := write.NewPoint(
		measurement,
		map[string]string{"accessory": s.accessory},
		map[string]interface{}{"active": active},
		time.Now(),
	)
	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	return nil
}

// Close releases the underlying HTTP resources.
func (s *Sink) Close() {
	s.client.Close()
	s.logger.Info("influxdb client closed")
}

// PointFor converts a reading into a point. Missing measurements are left
// out because line protocol cannot carry NaN.
func PointFor(accessory string, r weather.Reading) *write.Point {
	fields := map[string]interface{}{
		"active": r.Active,
	}

	switch r.Kind {
	case weather.SensorHumidity:
		addFinite(fields, "humidity_pct", r.Humidity)
	case weather.SensorTemperature:
		addFinite(fields, "temperature_c", r.Temperature)
	default:
		fields["air_quality"] = int64(r.AirQuality)
		addFinite(fields, "aqi", r.AQI)
		for p, v := range r.Pollutants {
			addFinite(fields, string(p), v)
		}
	}

	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return write.NewPoint(
		measurement,
		map[string]string{
			"accessory": accessory,
			"sensor":    string(r.Kind),
		},
		fields,
		ts,
	)
}

func addFinite(fields map[string]interface{}, key string, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	fields[key] = v
}
