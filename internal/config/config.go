package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/i474232898/airvisual-sensor/internal/weather"
)

// ErrMissingAPIKey is the only fatal configuration error.
var ErrMissingAPIKey = errors.New("a config value for 'api_key' is required")

const (
	defaultPollInterval = 15 * time.Minute
	minPollInterval     = time.Minute

	// Bare integers at or above this are taken to be milliseconds.
	millisecondThreshold = 1000
)

var validate = validator.New()

type HomeKitConfig struct {
	Enabled     bool
	Pin         string
	StoragePath string
}

type MQTTConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string
}

type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

type AppConfig struct {
	// Name is the accessory display name; it also keys persisted payloads.
	Name   string
	APIKey string `validate:"required"`

	Sensor        weather.SensorKind
	AQIStandard   weather.AQIStandard
	Location      weather.Location
	PPBConversion []weather.Pollutant

	// Polling enables the background loop; without it getters fetch on demand.
	Polling      bool
	PollInterval time.Duration

	BaseURL     string
	HTTPTimeout time.Duration
	HTTPAddr    string

	// StorePath is the SQLite file for the last good payload; empty keeps it in memory.
	StorePath string

	AppEnv   string
	LogLevel slog.Level

	HomeKit HomeKitConfig
	MQTT    MQTTConfig
	Influx  InfluxConfig

	// Warnings lists invalid values that were replaced by defaults.
	Warnings []string
}

// Load reads configuration from an optional config file and the environment.
// Only a missing API key is fatal; other invalid values are defaulted and
// reported in Warnings.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("AIRVISUAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return FromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("name", "AirVisual")
	v.SetDefault("sensor", string(weather.SensorAirQuality))
	v.SetDefault("aqi_standard", string(weather.StandardUS))
	v.SetDefault("polling", true)
	v.SetDefault("polling_interval", defaultPollInterval.String())
	v.SetDefault("base_url", "https://api.airvisual.com")
	v.SetDefault("http_timeout", "10s")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("store_path", "./data/airvisual.db")
	v.SetDefault("app_env", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("homekit.enabled", false)
	v.SetDefault("homekit.pin", "00102003")
	v.SetDefault("homekit.storage_path", "./data/homekit")
	v.SetDefault("mqtt.client_id", "airvisual-sensor")
	v.SetDefault("mqtt.topic_prefix", "airvisual")
}

// FromViper builds an AppConfig from an already populated viper instance.
func FromViper(v *viper.Viper) (*AppConfig, error) {
	cfg := &AppConfig{
		Name:      strings.TrimSpace(v.GetString("name")),
		APIKey:    strings.TrimSpace(v.GetString("api_key")),
		Polling:   v.GetBool("polling"),
		BaseURL:   v.GetString("base_url"),
		HTTPAddr:  v.GetString("http_addr"),
		StorePath: v.GetString("store_path"),
		AppEnv:    strings.TrimSpace(v.GetString("app_env")),
		HomeKit: HomeKitConfig{
			Enabled:     v.GetBool("homekit.enabled"),
			Pin:         v.GetString("homekit.pin"),
			StoragePath: v.GetString("homekit.storage_path"),
		},
		MQTT: MQTTConfig{
			Broker:      v.GetString("mqtt.broker"),
			ClientID:    v.GetString("mqtt.client_id"),
			TopicPrefix: v.GetString("mqtt.topic_prefix"),
		},
		Influx: InfluxConfig{
			URL:    v.GetString("influx.url"),
			Token:  v.GetString("influx.token"),
			Org:    v.GetString("influx.org"),
			Bucket: v.GetString("influx.bucket"),
		},
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, ErrMissingAPIKey
	}
	if cfg.Name == "" {
		cfg.Name = "AirVisual"
	}

	sensor, err := weather.ParseSensorKind(v.GetString("sensor"))
	if err != nil {
		cfg.warnf("invalid sensor %q, using %s", v.GetString("sensor"), weather.SensorAirQuality)
		sensor = weather.SensorAirQuality
	}
	cfg.Sensor = sensor

	switch std := strings.ToLower(strings.TrimSpace(v.GetString("aqi_standard"))); std {
	case string(weather.StandardUS), string(weather.StandardCN):
		cfg.AQIStandard = weather.AQIStandard(std)
	default:
		cfg.warnf("invalid aqi_standard %q, using %s", std, weather.StandardUS)
		cfg.AQIStandard = weather.StandardUS
	}

	lat := cfg.parseCoordinate(v, "latitude")
	lon := cfg.parseCoordinate(v, "longitude")
	loc, warnings := ResolveLocation(lat, lon, v.GetString("city"), v.GetString("state"), v.GetString("country"))
	cfg.Location = loc
	cfg.Warnings = append(cfg.Warnings, warnings...)

	cfg.PPBConversion = cfg.parsePPB(v.GetStringSlice("ppb"))
	cfg.PollInterval = cfg.parseInterval(v.GetString("polling_interval"))

	timeout, err := time.ParseDuration(v.GetString("http_timeout"))
	if err != nil || timeout <= 0 {
		cfg.warnf("invalid http_timeout %q, using 10s", v.GetString("http_timeout"))
		timeout = 10 * time.Second
	}
	cfg.HTTPTimeout = timeout

	switch cfg.AppEnv {
	case "dev", "prod":
	default:
		cfg.warnf("invalid app_env %q, using dev", cfg.AppEnv)
		cfg.AppEnv = "dev"
	}

	level, err := parseLogLevel(v.GetString("log_level"))
	if err != nil {
		cfg.warnf("%v, using info", err)
	}
	cfg.LogLevel = level

	return cfg, nil
}

type gpsTuple struct {
	Latitude  float64 `validate:"latitude"`
	Longitude float64 `validate:"longitude"`
}

// ResolveLocation picks the request shape once. GPS wins when both
// coordinates are present and valid, then a complete city/state/country
// tuple; anything partial degrades to IP geolocation with a warning.
func ResolveLocation(lat, lon *float64, city, state, country string) (weather.Location, []string) {
	var warnings []string

	switch {
	case lat != nil && lon != nil:
		gps := gpsTuple{Latitude: *lat, Longitude: *lon}
		if err := validate.Struct(gps); err != nil {
			warnings = append(warnings, fmt.Sprintf("invalid coordinates %v,%v ignored", *lat, *lon))
			break
		}
		return weather.Location{Mode: weather.LocationGPS, Latitude: *lat, Longitude: *lon}, warnings
	case lat != nil || lon != nil:
		warnings = append(warnings, "latitude and longitude must be given together; ignoring partial coordinates")
	}

	city, state, country = strings.TrimSpace(city), strings.TrimSpace(state), strings.TrimSpace(country)
	present := 0
	for _, s := range []string{city, state, country} {
		if s != "" {
			present++
		}
	}
	switch present {
	case 3:
		return weather.Location{Mode: weather.LocationCity, City: city, State: state, Country: country}, warnings
	case 1, 2:
		warnings = append(warnings, "city, state and country must be given together; ignoring partial location")
	}

	if len(warnings) > 0 {
		warnings = append(warnings, "falling back to IP geolocation")
	}
	return weather.Location{Mode: weather.LocationIP}, warnings
}

// parseCoordinate returns nil for an unset coordinate and for one that is not
// a number, so a typo degrades the location mode instead of reading as 0.
func (c *AppConfig) parseCoordinate(v *viper.Viper, key string) *float64 {
	if !v.IsSet(key) {
		return nil
	}
	raw := v.Get(key)
	if s, ok := raw.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		raw = s
	}

	f, err := cast.ToFloat64E(raw)
	if err != nil {
		c.warnf("invalid %s %q ignored", key, v.GetString(key))
		return nil
	}
	return &f
}

func (c *AppConfig) parsePPB(raw []string) []weather.Pollutant {
	var out []weather.Pollutant
	seen := make(map[weather.Pollutant]bool)

	for _, item := range raw {
		for _, name := range strings.Split(item, ",") {
			if strings.TrimSpace(name) == "" {
				continue
			}
			p, err := weather.ParsePollutant(name)
			if err != nil || (p != weather.PollutantNO2 && p != weather.PollutantO3 && p != weather.PollutantSO2) {
				c.warnf("ppb conversion is only available for no2, o3 and so2; ignoring %q", name)
				continue
			}
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// parseInterval accepts a duration ("15m") or a bare integer of minutes.
// Bare integers that look like milliseconds are read as milliseconds.
// Anything shorter than a minute is raised to a minute to spare the call quota.
func (c *AppConfig) parseInterval(s string) time.Duration {
	d := c.parseRawInterval(s)
	if d < minPollInterval {
		c.warnf("polling_interval %s is below the %s minimum, using %s", d, minPollInterval, minPollInterval)
		return minPollInterval
	}
	return d
}

func (c *AppConfig) parseRawInterval(s string) time.Duration {
	s = strings.TrimSpace(s)

	if d, err := time.ParseDuration(s); err == nil {
		if d > 0 {
			return d
		}
	} else if n, err := strconv.Atoi(s); err == nil && n > 0 {
		if n >= millisecondThreshold {
			d := time.Duration(n) * time.Millisecond
			c.warnf("polling_interval %d looks like milliseconds, using %s", n, d)
			return d
		}
		return time.Duration(n) * time.Minute
	}

	c.warnf("invalid polling_interval %q, using %s", s, defaultPollInterval)
	return defaultPollInterval
}

func (c *AppConfig) warnf(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q", s)
	}
}
