package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/i474232898/airvisual-sensor/internal/api/http"
	"github.com/i474232898/airvisual-sensor/internal/config"
	"github.com/i474232898/airvisual-sensor/internal/logging"
	"github.com/i474232898/airvisual-sensor/internal/scheduler"
	"github.com/i474232898/airvisual-sensor/internal/sink/homekit"
	"github.com/i474232898/airvisual-sensor/internal/sink/influx"
	"github.com/i474232898/airvisual-sensor/internal/sink/mqtt"
	"github.com/i474232898/airvisual-sensor/internal/store"
	"github.com/i474232898/airvisual-sensor/internal/weather"
	"github.com/i474232898/airvisual-sensor/internal/weather/providers"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("airvisual-sensor stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(cfg.LogLevel, cfg.AppEnv, version)
	slog.SetDefault(log)
	for _, w := range cfg.Warnings {
		log.Warn("config", "warning", w)
	}
	log.Info("starting",
		"name", cfg.Name,
		"sensor", string(cfg.Sensor),
		"location", cfg.Location.Mode.String(),
		"polling", cfg.Polling,
		"interval", cfg.PollInterval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}
	provider := providers.NewAirVisualProvider(httpClient, cfg.BaseURL, cfg.APIKey, cfg.Location)

	kv, closeStore, err := openStore(cfg.StorePath)
	if err != nil {
		return err
	}
	defer closeStore()

	var sinks []weather.Sink
	var wg sync.WaitGroup

	var acc *homekit.Accessory
	if cfg.HomeKit.Enabled {
		acc = homekit.New(homekit.Info{
			Name:         cfg.Name,
			Manufacturer: "IQAir",
			Model:        "AirVisual " + string(cfg.Sensor),
			SerialNumber: cfg.Location.Key(),
			Firmware:     version,
		}, cfg.Sensor, log.With("component", "homekit"))
		sinks = append(sinks, acc)
	}

	if cfg.MQTT.Broker != "" {
		m := mqtt.NewSink(mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Accessory:   cfg.Name,
		}, log.With("component", "mqtt"))
		defer m.Disconnect()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Connect(ctx); err != nil {
				log.Warn("mqtt connect failed", "error", err)
			}
		}()
		sinks = append(sinks, m)
	}

	if cfg.Influx.URL != "" {
		in, err := influx.New(influx.Config{
			URL:       cfg.Influx.URL,
			Token:     cfg.Influx.Token,
			Org:       cfg.Influx.Org,
			Bucket:    cfg.Influx.Bucket,
			Accessory: cfg.Name,
		}, log.With("component", "influx"))
		if err != nil {
			log.Warn("influx sink disabled", "error", err)
		} else {
			defer in.Close()
			sinks = append(sinks, in)
		}
	}

	service := weather.NewService(weather.ServiceConfig{
		Name:         cfg.Name,
		Sensor:       cfg.Sensor,
		RefreshOnGet: !cfg.Polling,
	},
		provider,
		weather.NewNormalizer(cfg.AQIStandard, cfg.PPBConversion, log.With("component", "normalizer")),
		kv,
		sinks,
		log.With("component", "service"),
	)

	if err := service.Restore(ctx); err != nil {
		log.Warn("failed to restore last reading", "error", err)
	}

	if acc != nil {
		acc.Bind(service)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := acc.Serve(ctx, cfg.HomeKit.Pin, cfg.HomeKit.StoragePath); err != nil {
				log.Error("homekit transport failed", "error", err)
			}
		}()
	}

	if cfg.Polling {
		sched := scheduler.New(service, cfg.PollInterval, log.With("component", "scheduler"))
		if err := sched.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	app := newApp(service)
	go func() {
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			log.Error("fiber server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("error during shutdown", "error", err)
	}
	wg.Wait()
	return nil
}

func newApp(service *weather.Service) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "airvisual-sensor",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          45 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "airvisual-sensor",
			"name":    service.Name(),
			"sensor":  string(service.Sensor()),
		})
	})

	httpapi.RegisterRoutes(app, service)
	return app
}

// openStore opens the SQLite store at path, or an in-memory store when path
// is empty.
func openStore(path string) (weather.Store, func(), error) {
	if path == "" {
		return store.NewMemoryStore(), func() {}, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	s, err := store.OpenSQLite(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return s, func() { _ = s.Close() }, nil
}
