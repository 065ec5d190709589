package weather

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// ParseSensorKind accepts "air_quality", "airquality", "humidity" or "temperature".
func ParseSensorKind(s string) (SensorKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "air_quality", "airquality", "air-quality":
		return SensorAirQuality, nil
	case "humidity":
		return SensorHumidity, nil
	case "temperature":
		return SensorTemperature, nil
	}
	return "", fmt.Errorf("unknown sensor kind %q", s)
}

// Reading is the sensor-relevant projection of Conditions pushed to sinks.
// Fields not belonging to Kind are left at their zero value.
type Reading struct {
	Kind        SensorKind
	Timestamp   time.Time
	AirQuality  AirQualityCategory
	AQI         float64
	Humidity    float64
	Temperature float64
	Pollutants  map[Pollutant]float64
	Active      bool
}

// Projector extracts the Reading for one sensor kind.
type Projector func(Conditions) Reading

// ProjectorFor picks the projector for kind once, at construction.
func ProjectorFor(kind SensorKind) Projector {
	switch kind {
	case SensorHumidity:
		return projectHumidity
	case SensorTemperature:
		return projectTemperature
	default:
		return projectAirQuality
	}
}

func projectAirQuality(c Conditions) Reading {
	return Reading{
		Kind:       SensorAirQuality,
		Timestamp:  c.Timestamp,
		AirQuality: c.AirQuality,
		AQI:        c.AQI,
		Pollutants: maps.Clone(c.Pollutants),
		Active:     c.SourceActive,
	}
}

func projectHumidity(c Conditions) Reading {
	return Reading{
		Kind:      SensorHumidity,
		Timestamp: c.Timestamp,
		Humidity:  c.Humidity,
		Active:    c.SourceActive,
	}
}

func projectTemperature(c Conditions) Reading {
	return Reading{
		Kind:        SensorTemperature,
		Timestamp:   c.Timestamp,
		Temperature: c.Temperature,
		Active:      c.SourceActive,
	}
}
