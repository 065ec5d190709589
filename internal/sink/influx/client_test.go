package influx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/i474232898/airvisual-sensor/internal/weather"
)

var _ weather.Sink = (*Sink)(nil)

func fieldMap(t *testing.T, r weather.Reading) map[string]interface{} {
	t.Helper()
	p := PointFor("Outside", r)
	out := make(map[string]interface{})
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestPointForAirQuality(t *testing.T) {
	ts := time.Date(2024, 5, 1, 17, 0, 0, 0, time.UTC)
	r := weather.Reading{
		Kind:       weather.SensorAirQuality,
		Timestamp:  ts,
		AirQuality: weather.AirQualityFair,
		AQI:        120,
		Pollutants: map[weather.Pollutant]float64{weather.PollutantPM25: 43.2, weather.PollutantO3: math.NaN()},
		Active:     true,
	}

	p := PointFor("Outside", r)
	if p.Name() != "airvisual" || !p.Time().Equal(ts) {
		t.Fatalf("unexpected point %s at %v", p.Name(), p.Time())
	}

	tags := make(map[string]string)
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["accessory"] != "Outside" || tags["sensor"] != "air_quality" {
		t.Fatalf("unexpected tags %v", tags)
	}

	fields := fieldMap(t, r)
	if fields["aqi"] != 120.0 || fields["pm2_5"] != 43.2 || fields["active"] != true {
		t.Fatalf("unexpected fields %v", fields)
	}
	if _, ok := fields["o3"]; ok {
		t.Fatalf("NaN pollutant must be omitted: %v", fields)
	}
}

func TestPointForHumidityOmitsNaN(t *testing.T) {
	fields := fieldMap(t, weather.Reading{Kind: weather.SensorHumidity, Humidity: math.NaN()})
	if _, ok := fields["humidity_pct"]; ok {
		t.Fatalf("expected humidity omitted, got %v", fields)
	}
	if _, ok := fields["aqi"]; ok {
		t.Fatalf("humidity point must not carry air quality fields: %v", fields)
	}
}

func TestNewRequiresDestination(t *testing.T) {
	_, err := New(Config{URL: "http://127.0.0.1:8086"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestPublishWritesLineProtocol(t *testing.T) {
	var (
		mu    sync.Mutex
		lines []string
		query string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		lines = append(lines, strings.TrimSpace(string(body)))
		query = r.URL.RawQuery
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s, err := New(Config{URL: srv.URL, Token: "t", Org: "home", Bucket: "air", Accessory: "Outside"},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	r := weather.Reading{Kind: weather.SensorTemperature, Temperature: 21.5, Active: true,
		Timestamp: time.Unix(1714582800, 0)}
	if err := s.Publish(context.Background(), r); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := s.SetActive(context.Background(), false); err != nil {
		t.Fatalf("set active: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(lines) != 2 {
		t.Fatalf("expected two writes, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[0], "airvisual,accessory=Outside,sensor=temperature ") ||
		!strings.Contains(lines[0], "temperature_c=21.5") {
		t.Fatalf("unexpected line %q", lines[0])
	}
	if !strings.Contains(lines[1], "active=false") {
		t.Fatalf("unexpected line %q", lines[1])
	}
	if !strings.Contains(query, "bucket=air") || !strings.Contains(query, "org=home") {
		t.Fatalf("unexpected query %q", query)
	}
}
