package weather

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	pollKey             = "poll"
	defaultCycleTimeout = 30 * time.Second
)

// ServiceConfig holds the per-accessory settings of a Service.
type ServiceConfig struct {
	// Name is the accessory display name and the persistence key.
	Name   string
	Sensor SensorKind

	// RefreshOnGet makes getters fetch on every call instead of serving the
	// cache. Used when background polling is disabled.
	RefreshOnGet bool

	// CycleTimeout bounds a single fetch+normalize cycle.
	CycleTimeout time.Duration
}

// Service runs poll cycles against one provider, owns the ReadingCache and
// answers on-demand reads.
type Service struct {
	cfg        ServiceConfig
	provider   Provider
	normalizer *Normalizer
	store      Store
	sinks      []Sink
	project    Projector
	logger     *slog.Logger

	cache    ReadingCache
	inflight singleflight.Group
}

// NewService creates a new Service. store may be nil to disable persistence.
func NewService(cfg ServiceConfig, provider Provider, normalizer *Normalizer, store Store, sinks []Sink, logger *slog.Logger) *Service {
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = defaultCycleTimeout
	}
	return &Service{
		cfg:        cfg,
		provider:   provider,
		normalizer: normalizer,
		store:      store,
		sinks:      sinks,
		project:    ProjectorFor(cfg.Sensor),
		logger:     logger.With("accessory", cfg.Name),
	}
}

// Name returns the accessory display name.
func (s *Service) Name() string {
	return s.cfg.Name
}

// Sensor returns the sensor kind this service publishes.
func (s *Service) Sensor() SensorKind {
	return s.cfg.Sensor
}

// Poll runs one fetch+normalize cycle. Callers arriving while a cycle is in
// flight wait for that cycle instead of starting another one. Cancelling ctx
// stops the wait but never the cycle itself, which still updates the cache.
func (s *Service) Poll(ctx context.Context) error {
	ch := s.inflight.DoChan(pollKey, func() (interface{}, error) {
		cycleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CycleTimeout)
		defer cancel()
		return nil, s.runCycle(cycleCtx)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	s.logger.Debug("poll cycle started", "provider", s.provider.Name())

	raw, err := s.provider.Fetch(ctx)
	if err != nil {
		s.fail(ctx, err)
		return err
	}

	cond, err := s.normalizer.Normalize(raw)
	if err != nil {
		s.fail(ctx, err)
		return err
	}

	s.cache.replace(cond, raw)
	s.persist(ctx, raw)
	s.push(ctx, cond)

	s.logger.Debug("poll cycle completed",
		"aqi", cond.AQI,
		"air_quality", cond.AirQuality.String(),
		"pollutants", len(cond.Pollutants),
	)
	return nil
}

func (s *Service) fail(ctx context.Context, err error) {
	var perr *ProviderError
	if errors.As(err, &perr) {
		s.logger.Warn("provider reported failure", "status", perr.Status, "kind", perr.Kind.String())
	} else {
		s.logger.Error("poll cycle failed", "error", err)
	}

	s.cache.markStale()
	for _, sink := range s.sinks {
		if err := sink.SetActive(ctx, false); err != nil {
			s.logger.Warn("sink rejected active state", "error", err)
		}
	}
}

func (s *Service) persist(ctx context.Context, raw []byte) {
	if s.store == nil {
		return
	}
	if err := s.store.Set(ctx, s.cfg.Name, raw); err != nil {
		s.logger.Warn("failed to persist last payload", "error", err)
	}
}

func (s *Service) push(ctx context.Context, cond Conditions) {
	r := s.project(cond)
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, r); err != nil {
			s.logger.Warn("sink rejected reading", "error", err)
		}
	}
}

// Restore seeds the cache from the persisted last good payload, marked stale.
// It is a no-op when nothing was persisted or a cycle already completed.
func (s *Service) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	raw, ok, err := s.store.Get(ctx, s.cfg.Name)
	if err != nil || !ok {
		return err
	}

	cond, err := s.normalizer.Normalize(raw)
	if err != nil {
		s.logger.Warn("ignoring persisted payload", "error", err)
		return nil
	}
	cond = cond.Stale()
	if !s.cache.seed(cond, raw) {
		return nil
	}
	s.push(ctx, cond)
	s.logger.Info("restored last good reading", "timestamp", cond.Timestamp)
	return nil
}

// Current returns the cached Conditions, fetching first when nothing is
// cached yet (or on every call when RefreshOnGet is set). Degraded data is
// returned as Unknown/NaN values; the error is non-nil only when ctx ends
// before any value exists.
func (s *Service) Current(ctx context.Context) (Conditions, error) {
	if !s.cfg.RefreshOnGet {
		if c, ok := s.cache.Load(); ok {
			return c, nil
		}
	}

	if err := s.Poll(ctx); err != nil {
		s.logger.Debug("on-demand fetch failed", "error", err)
	}

	if c, ok := s.cache.Load(); ok {
		return c, nil
	}
	if err := ctx.Err(); err != nil {
		return UnknownConditions(), err
	}
	return UnknownConditions(), nil
}

// AirQuality returns the current air quality category.
func (s *Service) AirQuality(ctx context.Context) (AirQualityCategory, error) {
	c, err := s.Current(ctx)
	return c.AirQuality, err
}

// Humidity returns the current relative humidity in percent.
func (s *Service) Humidity(ctx context.Context) (float64, error) {
	c, err := s.Current(ctx)
	return c.Humidity, err
}

// Temperature returns the current temperature in °C.
func (s *Service) Temperature(ctx context.Context) (float64, error) {
	c, err := s.Current(ctx)
	return c.Temperature, err
}

// Reading returns the sensor projection of the current Conditions.
func (s *Service) Reading(ctx context.Context) (Reading, error) {
	c, err := s.Current(ctx)
	return s.project(c), err
}

// RawPayload returns the payload behind the cached Conditions, if any.
func (s *Service) RawPayload() []byte {
	return s.cache.Raw()
}
