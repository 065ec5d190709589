package httpapi

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/airvisual-sensor/internal/weather"
)

var validate = validator.New()

const defaultRefreshTimeout = 30 * time.Second

// Service is the part of weather.Service the HTTP API reads from.
type Service interface {
	Name() string
	Sensor() weather.SensorKind
	Poll(ctx context.Context) error
	Current(ctx context.Context) (weather.Conditions, error)
	RawPayload() []byte
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service Service) {
	v1 := app.Group("/api/v1")

	v1.Get("/conditions", func(c *fiber.Ctx) error {
		cond, err := service.Current(c.UserContext())
		if err != nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "no conditions available")
		}
		return c.JSON(newConditionsView(service.Name(), cond))
	})

	v1.Get("/air-quality", func(c *fiber.Ctx) error {
		cond, err := service.Current(c.UserContext())
		if err != nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "no conditions available")
		}
		return c.JSON(fiber.Map{
			"airQuality":   cond.AirQuality.String(),
			"level":        int(cond.AirQuality),
			"aqi":          finite(cond.AQI),
			"sourceActive": cond.SourceActive,
		})
	})

	v1.Get("/humidity", func(c *fiber.Ctx) error {
		cond, err := service.Current(c.UserContext())
		if err != nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "no conditions available")
		}
		return c.JSON(fiber.Map{
			"humidityPercent": finite(cond.Humidity),
			"sourceActive":    cond.SourceActive,
		})
	})

	v1.Get("/temperature", func(c *fiber.Ctx) error {
		cond, err := service.Current(c.UserContext())
		if err != nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "no conditions available")
		}
		return c.JSON(fiber.Map{
			"temperatureC": finite(cond.Temperature),
			"sourceActive": cond.SourceActive,
		})
	})

	// Raw returns the provider payload behind the cached conditions.
	v1.Get("/raw", func(c *fiber.Ctx) error {
		raw := service.RawPayload()
		if len(raw) == 0 {
			return fiber.NewError(fiber.StatusNotFound, "no payload cached yet")
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(raw)
	})

	v1.Post("/refresh", func(c *fiber.Ctx) error {
		var req refreshQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		timeout := defaultRefreshTimeout
		if req.TimeoutSeconds > 0 {
			timeout = time.Duration(req.TimeoutSeconds) * time.Second
		}
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()

		if err := service.Poll(ctx); err != nil {
			return pollError(err)
		}

		cond, _ := service.Current(ctx)
		return c.JSON(newConditionsView(service.Name(), cond))
	})
}

func pollError(err error) error {
	var perr *weather.ProviderError
	switch {
	case errors.As(err, &perr):
		return fiber.NewError(fiber.StatusBadGateway, "provider reported "+perr.Kind.String())
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.NewError(fiber.StatusGatewayTimeout, "refresh timed out")
	default:
		return fiber.NewError(fiber.StatusBadGateway, "refresh failed")
	}
}

// refreshQuery holds query parameters for the refresh endpoint.
type refreshQuery struct {
	TimeoutSeconds int `validate:"omitempty,min=1,max=120"`
}

func (r *refreshQuery) bind(c *fiber.Ctx) error {
	raw := c.Query("timeout")
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return errors.New("timeout must be a whole number of seconds")
	}
	r.TimeoutSeconds = n
	return nil
}

// conditionsView is the JSON form of weather.Conditions; missing
// measurements are null instead of NaN.
type conditionsView struct {
	Name         string             `json:"name"`
	Timestamp    time.Time          `json:"timestamp"`
	Place        weather.Place      `json:"place"`
	AQI          *float64           `json:"aqi"`
	AirQuality   string             `json:"airQuality"`
	Humidity     *float64           `json:"humidityPercent"`
	Temperature  *float64           `json:"temperatureC"`
	Pressure     *float64           `json:"pressureHpa"`
	Pollutants   map[string]float64 `json:"pollutants,omitempty"`
	SourceActive bool               `json:"sourceActive"`
}

func newConditionsView(name string, c weather.Conditions) conditionsView {
	v := conditionsView{
		Name:         name,
		Timestamp:    c.Timestamp,
		Place:        c.Place,
		AQI:          finite(c.AQI),
		AirQuality:   c.AirQuality.String(),
		Humidity:     finite(c.Humidity),
		Temperature:  finite(c.Temperature),
		Pressure:     finite(c.Pressure),
		SourceActive: c.SourceActive,
	}
	if len(c.Pollutants) > 0 {
		v.Pollutants = make(map[string]float64, len(c.Pollutants))
		for p, val := range c.Pollutants {
			if finite(val) != nil {
				v.Pollutants[string(p)] = val
			}
		}
	}
	return v
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
