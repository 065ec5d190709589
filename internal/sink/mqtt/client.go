package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/i474232898/airvisual-sensor/internal/weather"
)

const publishTimeout = 5 * time.Second

// Config selects the broker and topic layout.
type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	Accessory   string
}

// Sink publishes readings as retained JSON messages:
//
//	<prefix>/<accessory>/state   reading
//	<prefix>/<accessory>/active  "true" | "false"
type Sink struct {
	client    paho.Client
	cfg       Config
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// State is the JSON document published on the state topic. Measurements
// that are missing are omitted rather than sent as NaN.
type State struct {
	Accessory   string             `json:"accessory"`
	Sensor      string             `json:"sensor"`
	Timestamp   time.Time          `json:"timestamp"`
	AirQuality  string             `json:"air_quality,omitempty"`
	AirLevel    *int               `json:"air_quality_level,omitempty"`
	AQI         *float64           `json:"aqi,omitempty"`
	Humidity    *float64           `json:"humidity_pct,omitempty"`
	Temperature *float64           `json:"temperature_c,omitempty"`
	Pollutants  map[string]float64 `json:"pollutants,omitempty"`
	Active      bool               `json:"active"`
}

func NewSink(cfg Config, logger *slog.Logger) *Sink {
	s := &Sink{
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// Broker-side last will flips the accessory to inactive if we vanish.
	opts.SetWill(s.activeTopic(), "false", 1, true)

	opts.SetOnConnectHandler(func(_ paho.Client) {
		s.setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		s.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	s.client = paho.NewClient(opts)
	return s
}

// Connect waits for the initial connection, honouring ctx and Disconnect.
func (s *Sink) Connect(ctx context.Context) error {
	select {
	case <-s.stopCh:
		return fmt.Errorf("mqtt sink stopped")
	default:
	}

	if s.IsConnected() {
		return nil
	}

	token := s.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return fmt.Errorf("mqtt sink stopped")
		default:
		}
	}
}

// Publish implements weather.Sink.
func (s *Sink) Publish(_ context.Context, r weather.Reading) error {
	data, err := json.Marshal(NewState(s.cfg.Accessory, r))
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.publish(s.stateTopic(), data); err != nil {
		return err
	}
	return s.publish(s.activeTopic(), []byte(strconv.FormatBool(r.Active)))
}

// SetActive implements weather.Sink.
func (s *Sink) SetActive(_ context.Context, active bool) error {
	return s.publish(s.activeTopic(), []byte(strconv.FormatBool(active)))
}

func (s *Sink) publish(topic string, payload []byte) error {
	if !s.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}

	token := s.client.Publish(topic, 1, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	s.logger.Debug("published", "topic", topic)
	return nil
}

func (s *Sink) stateTopic() string {
	return fmt.Sprintf("%s/%s/state", s.cfg.TopicPrefix, s.cfg.Accessory)
}

func (s *Sink) activeTopic() string {
	return fmt.Sprintf("%s/%s/active", s.cfg.TopicPrefix, s.cfg.Accessory)
}

// IsConnected returns whether the client is connected.
func (s *Sink) IsConnected() bool {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	return connected && s.client.IsConnected()
}

// Disconnect stops the client. Safe to call more than once.
func (s *Sink) Disconnect() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	if s.client != nil {
		s.client.Disconnect(250)
	}
	s.setConnected(false)
	s.logger.Info("mqtt disconnected")
}

func (s *Sink) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

// NewState converts a reading into its wire form.
func NewState(accessory string, r weather.Reading) State {
	st := State{
		Accessory: accessory,
		Sensor:    string(r.Kind),
		Timestamp: r.Timestamp,
		Active:    r.Active,
	}

	switch r.Kind {
	case weather.SensorHumidity:
		st.Humidity = finite(r.Humidity)
	case weather.SensorTemperature:
		st.Temperature = finite(r.Temperature)
	default:
		level := int(r.AirQuality)
		st.AirQuality = r.AirQuality.String()
		st.AirLevel = &level
		st.AQI = finite(r.AQI)
		if len(r.Pollutants) > 0 {
			st.Pollutants = make(map[string]float64, len(r.Pollutants))
			for p, v := range r.Pollutants {
				if !math.IsNaN(v) && !math.IsInf(v, 0) {
					st.Pollutants[string(p)] = v
				}
			}
		}
	}
	return st
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
