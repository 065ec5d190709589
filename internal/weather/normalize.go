package weather

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"
)

const statusSuccess = "success"

// measurement is one pollutant entry, e.g. "p2": {"conc": 11.3, "aqius": 47}.
type measurement struct {
	Conc *float64 `json:"conc"`
}

// payload mirrors the parts of the AirVisual v2 response we read.
// Pointers distinguish an absent field from a reported zero.
type payload struct {
	Status string `json:"status"`
	Data   struct {
		Message  string `json:"message"`
		City     string `json:"city"`
		State    string `json:"state"`
		Country  string `json:"country"`
		Location struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"location"`
		Current struct {
			Weather struct {
				Timestamp   string   `json:"ts"`
				Temperature *float64 `json:"tp"`
				Pressure    *float64 `json:"pr"`
				Humidity    *float64 `json:"hu"`
			} `json:"weather"`
			Pollution struct {
				Timestamp string       `json:"ts"`
				AQIUS     *float64     `json:"aqius"`
				AQICN     *float64     `json:"aqicn"`
				PM25      *measurement `json:"p2"`
				PM10      *measurement `json:"p1"`
				O3        *measurement `json:"o3"`
				NO2       *measurement `json:"n2"`
				SO2       *measurement `json:"s2"`
				CO        *measurement `json:"co"`
			} `json:"pollution"`
		} `json:"current"`
	} `json:"data"`
}

// discriminator returns the status string that decides success or failure.
// Failure bodies carry the reason in data.message under status "fail".
func (p *payload) discriminator() string {
	if p.Status != statusSuccess && p.Data.Message != "" {
		return p.Data.Message
	}
	return p.Status
}

// Normalizer turns raw provider payloads into Conditions.
type Normalizer struct {
	standard AQIStandard
	ppb      map[Pollutant]bool
	logger   *slog.Logger
	now      func() time.Time
}

// NewNormalizer creates a Normalizer. ppb lists the pollutants reported in
// ppb that should be converted to µg/m³.
func NewNormalizer(standard AQIStandard, ppb []Pollutant, logger *slog.Logger) *Normalizer {
	set := make(map[Pollutant]bool, len(ppb))
	for _, p := range ppb {
		set[p] = true
	}
	if standard != StandardCN {
		standard = StandardUS
	}
	return &Normalizer{
		standard: standard,
		ppb:      set,
		logger:   logger,
		now:      time.Now,
	}
}

// Normalize decodes raw and produces Conditions, a *ProviderError for a
// non-success status, or ErrMalformedPayload when raw is not valid JSON.
func (n *Normalizer) Normalize(raw []byte) (Conditions, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Conditions{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if status := p.discriminator(); status != statusSuccess {
		return Conditions{}, &ProviderError{Kind: ProviderErrorKindFor(status), Status: status}
	}

	w := p.Data.Current.Weather
	pol := p.Data.Current.Pollution

	aqi := valueOrNaN(pol.AQIUS)
	if n.standard == StandardCN {
		aqi = valueOrNaN(pol.AQICN)
	}

	c := Conditions{
		Timestamp:    n.timestamp(pol.Timestamp, w.Timestamp),
		Place:        placeOf(&p),
		AQI:          aqi,
		AirQuality:   ClassifyAQI(aqi),
		Humidity:     valueOrNaN(w.Humidity),
		Temperature:  valueOrNaN(w.Temperature),
		Pressure:     valueOrNaN(w.Pressure),
		Pollutants:   make(map[Pollutant]float64),
		SourceActive: true,
	}

	n.addDensity(c.Pollutants, PollutantPM10, pol.PM10)
	n.addDensity(c.Pollutants, PollutantPM25, pol.PM25)
	n.addGas(c.Pollutants, PollutantO3, pol.O3, c.Temperature, c.Pressure)
	n.addGas(c.Pollutants, PollutantNO2, pol.NO2, c.Temperature, c.Pressure)
	n.addGas(c.Pollutants, PollutantSO2, pol.SO2, c.Temperature, c.Pressure)
	n.addCO(c.Pollutants, pol.CO, c.Temperature, c.Pressure)

	// A zero AQI is missing data, so there is nothing to infer from.
	if _, ok := c.Pollutants[PollutantPM25]; !ok && c.AirQuality != AirQualityUnknown {
		if pm25, ok := InferPM25(aqi); ok {
			c.Pollutants[PollutantPM25] = pm25
		}
	}

	return c, nil
}

func (n *Normalizer) addDensity(out map[Pollutant]float64, p Pollutant, m *measurement) {
	if m == nil || m.Conc == nil {
		return
	}
	out[p] = *m.Conc
}

func (n *Normalizer) addGas(out map[Pollutant]float64, p Pollutant, m *measurement, temperature, pressure float64) {
	if m == nil || m.Conc == nil {
		return
	}
	if !n.ppb[p] {
		out[p] = *m.Conc
		return
	}
	v, err := PPBToMicrogramsPerM3(p, *m.Conc, temperature, pressure)
	if err != nil {
		n.logger.Warn("omitting pollutant", "pollutant", p, "error", err)
		return
	}
	out[p] = v
}

func (n *Normalizer) addCO(out map[Pollutant]float64, m *measurement, temperature, pressure float64) {
	if m == nil || m.Conc == nil {
		return
	}
	v, err := MilligramsPerM3ToPPM(PollutantCO, *m.Conc, temperature, pressure)
	if err != nil {
		n.logger.Warn("omitting pollutant", "pollutant", PollutantCO, "error", err)
		return
	}
	out[PollutantCO] = v
}

func (n *Normalizer) timestamp(candidates ...string) time.Time {
	for _, s := range candidates {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts.UTC()
		}
	}
	return n.now().UTC()
}

func placeOf(p *payload) Place {
	pl := Place{
		City:    p.Data.City,
		State:   p.Data.State,
		Country: p.Data.Country,
	}
	// GeoJSON order: longitude first.
	if coords := p.Data.Location.Coordinates; len(coords) == 2 {
		pl.Longitude = coords[0]
		pl.Latitude = coords[1]
	}
	return pl
}

func valueOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
