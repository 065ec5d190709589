package homekit

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/brutella/hc"
	"github.com/brutella/hc/accessory"
	"github.com/brutella/hc/characteristic"
	"github.com/brutella/hc/service"

	"github.com/i474232898/airvisual-sensor/internal/weather"
)

const getTimeout = 5 * time.Second

// Getters answers controller reads; *weather.Service implements it.
type Getters interface {
	AirQuality(ctx context.Context) (weather.AirQualityCategory, error)
	Humidity(ctx context.Context) (float64, error)
	Temperature(ctx context.Context) (float64, error)
}

// Info describes the accessory shown in the Home app.
type Info struct {
	Name         string
	Manufacturer string
	Model        string
	SerialNumber string
	Firmware     string
}

// Accessory is a single HomeKit sensor accessory.
type Accessory struct {
	*accessory.Accessory

	kind   weather.SensorKind
	logger *slog.Logger

	// Exactly one of these is set, according to kind.
	airQuality  *service.AirQualitySensor
	humidity    *service.HumiditySensor
	temperature *service.TemperatureSensor

	active    *characteristic.StatusActive
	densities map[weather.Pollutant]*characteristic.Float

	mu sync.Mutex
}

// New builds the accessory for kind. The service layout is decided here and
// never changes afterwards.
func New(info Info, kind weather.SensorKind, logger *slog.Logger) *Accessory {
	acc := &Accessory{
		Accessory: accessory.New(accessory.Info{
			Name:             info.Name,
			Manufacturer:     info.Manufacturer,
			Model:            info.Model,
			SerialNumber:     info.SerialNumber,
			FirmwareRevision: info.Firmware,
		}, accessory.TypeSensor),
		kind:      kind,
		logger:    logger,
		active:    characteristic.NewStatusActive(),
		densities: make(map[weather.Pollutant]*characteristic.Float),
	}
	acc.active.SetValue(false)

	switch kind {
	case weather.SensorHumidity:
		acc.humidity = service.NewHumiditySensor()
		acc.humidity.AddCharacteristic(acc.active.Characteristic)
		acc.AddService(acc.humidity.Service)
	case weather.SensorTemperature:
		acc.temperature = service.NewTemperatureSensor()
		acc.temperature.CurrentTemperature.SetMinValue(-50)
		acc.temperature.AddCharacteristic(acc.active.Characteristic)
		acc.AddService(acc.temperature.Service)
	default:
		acc.airQuality = service.NewAirQualitySensor()
		acc.airQuality.AddCharacteristic(acc.active.Characteristic)
		acc.addDensity(weather.PollutantO3, characteristic.NewOzoneDensity().Float)
		acc.addDensity(weather.PollutantNO2, characteristic.NewNitrogenDioxideDensity().Float)
		acc.addDensity(weather.PollutantSO2, characteristic.NewSulphurDioxideDensity().Float)
		acc.addDensity(weather.PollutantPM25, characteristic.NewPM2_5Density().Float)
		acc.addDensity(weather.PollutantPM10, characteristic.NewPM10Density().Float)
		acc.addDensity(weather.PollutantCO, characteristic.NewCarbonMonoxideLevel().Float)
		acc.AddService(acc.airQuality.Service)
	}

	return acc
}

func (a *Accessory) addDensity(p weather.Pollutant, c *characteristic.Float) {
	a.densities[p] = c
	a.airQuality.AddCharacteristic(c.Characteristic)
}

// Bind routes controller reads of the primary characteristic to g.
func (a *Accessory) Bind(g Getters) {
	switch a.kind {
	case weather.SensorHumidity:
		a.humidity.CurrentRelativeHumidity.OnValueRemoteGet(func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), getTimeout)
			defer cancel()
			v, err := g.Humidity(ctx)
			if err != nil || math.IsNaN(v) {
				return a.humidity.CurrentRelativeHumidity.GetValue()
			}
			return v
		})
	case weather.SensorTemperature:
		a.temperature.CurrentTemperature.OnValueRemoteGet(func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), getTimeout)
			defer cancel()
			v, err := g.Temperature(ctx)
			if err != nil || math.IsNaN(v) {
				return a.temperature.CurrentTemperature.GetValue()
			}
			return v
		})
	default:
		a.airQuality.AirQuality.OnValueRemoteGet(func() int {
			ctx, cancel := context.WithTimeout(context.Background(), getTimeout)
			defer cancel()
			v, err := g.AirQuality(ctx)
			if err != nil {
				return characteristic.AirQualityUnknown
			}
			return airQualityValue(v)
		})
	}
}

// Publish implements weather.Sink. NaN values leave the characteristic as is.
func (a *Accessory) Publish(_ context.Context, r weather.Reading) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.active.SetValue(r.Active)

	switch a.kind {
	case weather.SensorHumidity:
		if !math.IsNaN(r.Humidity) {
			a.humidity.CurrentRelativeHumidity.SetValue(r.Humidity)
		}
	case weather.SensorTemperature:
		if !math.IsNaN(r.Temperature) {
			a.temperature.CurrentTemperature.SetValue(r.Temperature)
		}
	default:
		a.airQuality.AirQuality.SetValue(airQualityValue(r.AirQuality))
		for p, c := range a.densities {
			if v, ok := r.Pollutants[p]; ok && !math.IsNaN(v) {
				c.SetValue(v)
			}
		}
	}
	return nil
}

// SetActive implements weather.Sink.
func (a *Accessory) SetActive(_ context.Context, active bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.active.SetValue(active)
	return nil
}

// Serve publishes the accessory on the local network until ctx is done.
func (a *Accessory) Serve(ctx context.Context, pin, storagePath string) error {
	t, err := hc.NewIPTransport(hc.Config{Pin: pin, StoragePath: storagePath}, a.Accessory)
	if err != nil {
		return err
	}

	go t.Start()
	a.logger.Info("homekit accessory published", "name", a.Info.Name.GetValue(), "sensor", string(a.kind))

	<-ctx.Done()
	<-t.Stop()
	return nil
}

func airQualityValue(c weather.AirQualityCategory) int {
	switch c {
	case weather.AirQualityExcellent:
		return characteristic.AirQualityExcellent
	case weather.AirQualityGood:
		return characteristic.AirQualityGood
	case weather.AirQualityFair:
		return characteristic.AirQualityFair
	case weather.AirQualityInferior:
		return characteristic.AirQualityInferior
	case weather.AirQualityPoor:
		return characteristic.AirQualityPoor
	default:
		return characteristic.AirQualityUnknown
	}
}
