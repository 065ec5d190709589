package weather

import (
	"fmt"
	"maps"
	"math"
	"strings"
	"time"
)

// AirQualityCategory is the ordinal air quality scale exposed to value sinks.
// The numeric values match the HomeKit AirQuality characteristic.
type AirQualityCategory int

const (
	AirQualityUnknown AirQualityCategory = iota
	AirQualityExcellent
	AirQualityGood
	AirQualityFair
	AirQualityInferior
	AirQualityPoor
)

func (c AirQualityCategory) String() string {
	switch c {
	case AirQualityExcellent:
		return "excellent"
	case AirQualityGood:
		return "good"
	case AirQualityFair:
		return "fair"
	case AirQualityInferior:
		return "inferior"
	case AirQualityPoor:
		return "poor"
	default:
		return "unknown"
	}
}

// Pollutant identifies a pollutant density carried in Conditions.
type Pollutant string

const (
	PollutantCO   Pollutant = "co"
	PollutantNO2  Pollutant = "no2"
	PollutantO3   Pollutant = "o3"
	PollutantSO2  Pollutant = "so2"
	PollutantPM10 Pollutant = "pm10"
	PollutantPM25 Pollutant = "pm2_5"
)

// ParsePollutant accepts the config spelling of a pollutant ("no2", "O3", ...).
func ParsePollutant(s string) (Pollutant, error) {
	p := Pollutant(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PollutantCO, PollutantNO2, PollutantO3, PollutantSO2, PollutantPM10, PollutantPM25:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedPollutant, s)
}

// AQIStandard selects which provider AQI field is used.
type AQIStandard string

const (
	StandardUS AQIStandard = "us"
	StandardCN AQIStandard = "cn"
)

// SensorKind selects which projection of Conditions an accessory publishes.
type SensorKind string

const (
	SensorAirQuality  SensorKind = "air_quality"
	SensorHumidity    SensorKind = "humidity"
	SensorTemperature SensorKind = "temperature"
)

// LocationMode is the request shape used against the provider.
type LocationMode int

const (
	LocationIP LocationMode = iota
	LocationGPS
	LocationCity
)

func (m LocationMode) String() string {
	switch m {
	case LocationGPS:
		return "gps"
	case LocationCity:
		return "city"
	default:
		return "ip"
	}
}

// Location is fixed at construction and never re-derived per poll.
// Only the fields belonging to Mode are meaningful.
type Location struct {
	Mode      LocationMode `json:"mode"`
	Latitude  float64      `json:"latitude,omitempty"`
	Longitude float64      `json:"longitude,omitempty"`
	City      string       `json:"city,omitempty"`
	State     string       `json:"state,omitempty"`
	Country   string       `json:"country,omitempty"`
}

// Key returns a human-readable identifier for logs.
func (l Location) Key() string {
	switch l.Mode {
	case LocationGPS:
		return fmt.Sprintf("%.4f,%.4f", l.Latitude, l.Longitude)
	case LocationCity:
		return l.City + ":" + l.State + ":" + l.Country
	default:
		return "ip-geolocation"
	}
}

// Place is where the provider says the reading was taken.
type Place struct {
	City      string  `json:"city,omitempty"`
	State     string  `json:"state,omitempty"`
	Country   string  `json:"country,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// Conditions is the canonical normalized reading produced once per poll cycle.
// Missing scalar measurements are NaN. Pollutants only holds densities the
// provider supplied, plus PM2.5 when it could be inferred from the AQI.
type Conditions struct {
	Timestamp   time.Time             `json:"timestamp"`
	Place       Place                 `json:"place"`
	AQI         float64               `json:"aqi"`
	AirQuality  AirQualityCategory    `json:"airQuality"`
	Humidity    float64               `json:"humidityPercent"`
	Temperature float64               `json:"temperatureC"`
	Pressure    float64               `json:"pressureHpa"`
	Pollutants  map[Pollutant]float64 `json:"pollutants,omitempty"`

	// SourceActive is false when this is a stale value kept after a failed cycle.
	SourceActive bool `json:"sourceActive"`
}

// UnknownConditions is served by getters before any data exists.
func UnknownConditions() Conditions {
	return Conditions{
		AQI:         math.NaN(),
		AirQuality:  AirQualityUnknown,
		Humidity:    math.NaN(),
		Temperature: math.NaN(),
		Pressure:    math.NaN(),
	}
}

// Clone returns a copy that shares no mutable state with c.
func (c Conditions) Clone() Conditions {
	out := c
	if c.Pollutants != nil {
		out.Pollutants = maps.Clone(c.Pollutants)
	}
	return out
}

// Stale returns a copy of c marked as not coming from the latest fetch.
func (c Conditions) Stale() Conditions {
	out := c.Clone()
	out.SourceActive = false
	return out
}
