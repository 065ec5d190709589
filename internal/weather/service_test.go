package weather

import (
	"context"
	"errors"
	"math"
	"strconv"
	"sync"
	"testing"
	"time"
)

// fakeProvider returns queued responses; a response with a non-nil release
// channel blocks Fetch until the channel is closed.
type fakeProvider struct {
	mu        sync.Mutex
	responses []fakeResponse
	calls     int
	started   chan int
}

type fakeResponse struct {
	body    string
	err     error
	release chan struct{}
}

func newFakeProvider(responses ...fakeResponse) *fakeProvider {
	return &fakeProvider{responses: responses, started: make(chan int, 16)}
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Fetch(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	idx := p.calls
	p.calls++
	var resp fakeResponse
	if idx < len(p.responses) {
		resp = p.responses[idx]
	} else {
		resp = fakeResponse{err: errors.New("no more responses")}
	}
	p.mu.Unlock()

	p.started <- idx
	if resp.release != nil {
		<-resp.release
	}
	if resp.err != nil {
		return nil, resp.err
	}
	return []byte(resp.body), nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeSink struct {
	mu       sync.Mutex
	readings []Reading
	active   []bool
}

func (s *fakeSink) Publish(_ context.Context, r Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, r)
	return nil
}

func (s *fakeSink) SetActive(_ context.Context, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = append(s.active, active)
	return nil
}

type fakeStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (s *fakeStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *fakeStore) Set(_ context.Context, key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = make(map[string][]byte)
	}
	s.data[key] = payload
	return nil
}

func newTestService(p Provider, store Store, sinks ...Sink) *Service {
	cfg := ServiceConfig{Name: "Outside", Sensor: SensorAirQuality}
	return NewService(cfg, p, NewNormalizer(StandardUS, nil, discardLogger()), store, sinks, discardLogger())
}

func aqiPayload(aqi int) string {
	return `{"status":"success","data":{"current":{"weather":{"tp":20,"pr":1010,"hu":50},"pollution":{"aqius":` +
		strconv.Itoa(aqi) + `}}}}`
}

func TestPollUpdatesCacheAndSinks(t *testing.T) {
	sink := &fakeSink{}
	store := &fakeStore{}
	svc := newTestService(newFakeProvider(fakeResponse{body: successPayload}), store, sink)

	if err := svc.Poll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, err := svc.Current(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.AQI != 75 || !c.SourceActive {
		t.Fatalf("unexpected conditions: %+v", c)
	}
	if len(sink.readings) != 1 || sink.readings[0].AirQuality != AirQualityGood {
		t.Fatalf("expected one good reading pushed, got %+v", sink.readings)
	}
	if string(store.data["Outside"]) != successPayload {
		t.Fatalf("expected raw payload persisted under accessory name")
	}
	if string(svc.RawPayload()) != successPayload {
		t.Fatalf("expected raw payload cached")
	}
}

func TestProviderStatusKeepsPreviousConditions(t *testing.T) {
	sink := &fakeSink{}
	p := newFakeProvider(
		fakeResponse{body: aqiPayload(120)},
		fakeResponse{body: `{"status":"call_limit_reached"}`},
	)
	svc := newTestService(p, nil, sink)

	if err := svc.Poll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before, _ := svc.cache.Load()

	err := svc.Poll(context.Background())
	var perr *ProviderError
	if !errors.As(err, &perr) || perr.Kind != CallLimitReached {
		t.Fatalf("expected call limit ProviderError, got %v", err)
	}

	after, ok := svc.cache.Load()
	if !ok {
		t.Fatalf("expected cached conditions to survive the failure")
	}
	if after.AQI != before.AQI || after.AirQuality != AirQualityFair {
		t.Fatalf("expected previous reading retained, got %+v", after)
	}
	if after.SourceActive {
		t.Fatalf("expected retained reading to be marked stale")
	}
	if !before.SourceActive {
		t.Fatalf("previously loaded copy must not be mutated")
	}
	if len(sink.active) != 1 || sink.active[0] {
		t.Fatalf("expected sinks to be marked inactive once, got %v", sink.active)
	}
}

func TestTransportFailureIsRecoverable(t *testing.T) {
	p := newFakeProvider(
		fakeResponse{err: ErrTransport},
		fakeResponse{body: aqiPayload(30)},
	)
	svc := newTestService(p, nil)

	if err := svc.Poll(context.Background()); !errors.Is(err, ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if _, ok := svc.cache.Load(); ok {
		t.Fatalf("expected empty cache after failed first cycle")
	}
	if err := svc.Poll(context.Background()); err != nil {
		t.Fatalf("expected recovery on next cycle, got %v", err)
	}
	if c, _ := svc.cache.Load(); c.AirQuality != AirQualityExcellent || !c.SourceActive {
		t.Fatalf("unexpected conditions after recovery: %+v", c)
	}
}

func TestConcurrentPollsShareOneCycle(t *testing.T) {
	release := make(chan struct{})
	p := newFakeProvider(
		fakeResponse{body: aqiPayload(60), release: release},
		fakeResponse{body: aqiPayload(160)},
	)
	svc := newTestService(p, nil)

	errs := make(chan error, 2)
	go func() { errs <- svc.Poll(context.Background()) }()
	<-p.started

	go func() { errs <- svc.Poll(context.Background()) }()

	// The second caller must not reach the provider while the first is in flight.
	select {
	case idx := <-p.started:
		t.Fatalf("cycle %d started while another was outstanding", idx)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := p.callCount(); got != 1 {
		t.Fatalf("expected one fetch, got %d", got)
	}

	if err := svc.Poll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, _ := svc.cache.Load()
	if c.AQI != 160 {
		t.Fatalf("expected cache to reflect the latest completed cycle, got AQI %v", c.AQI)
	}
}

func TestCancelledPollStillUpdatesCache(t *testing.T) {
	release := make(chan struct{})
	p := newFakeProvider(fakeResponse{body: aqiPayload(80), release: release})
	svc := newTestService(p, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- svc.Poll(ctx) }()
	<-p.started

	cancel()
	if err := <-errs; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	close(release)

	deadline := time.After(2 * time.Second)
	for {
		if c, ok := svc.cache.Load(); ok {
			if c.AQI != 80 {
				t.Fatalf("unexpected AQI %v", c.AQI)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("in-flight cycle never updated the cache")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestGettersFetchWhenCacheEmpty(t *testing.T) {
	p := newFakeProvider(fakeResponse{body: successPayload})
	svc := newTestService(p, nil)

	aq, err := svc.AirQuality(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if aq != AirQualityGood {
		t.Fatalf("expected good, got %s", aq)
	}

	hum, _ := svc.Humidity(context.Background())
	temp, _ := svc.Temperature(context.Background())
	if hum != 60 || temp != 25 {
		t.Fatalf("unexpected humidity/temperature %v/%v", hum, temp)
	}
	if got := p.callCount(); got != 1 {
		t.Fatalf("expected getters to reuse the cache, got %d fetches", got)
	}
}

func TestGettersDegradeWithoutData(t *testing.T) {
	p := newFakeProvider(fakeResponse{body: `{"status":"incorrect_api_key"}`})
	svc := newTestService(p, nil)

	aq, err := svc.AirQuality(context.Background())
	if err != nil {
		t.Fatalf("expected no error for degraded data, got %v", err)
	}
	if aq != AirQualityUnknown {
		t.Fatalf("expected unknown, got %s", aq)
	}

	temp, err := svc.Temperature(context.Background())
	if err != nil || !math.IsNaN(temp) {
		t.Fatalf("expected NaN temperature without error, got %v (%v)", temp, err)
	}
}

func TestRefreshOnGetFetchesEveryCall(t *testing.T) {
	p := newFakeProvider(fakeResponse{body: aqiPayload(40)}, fakeResponse{body: aqiPayload(210)})
	cfg := ServiceConfig{Name: "Outside", Sensor: SensorAirQuality, RefreshOnGet: true}
	svc := NewService(cfg, p, NewNormalizer(StandardUS, nil, discardLogger()), nil, nil, discardLogger())

	first, _ := svc.AirQuality(context.Background())
	second, _ := svc.AirQuality(context.Background())
	if first != AirQualityExcellent || second != AirQualityPoor {
		t.Fatalf("expected excellent then poor, got %s then %s", first, second)
	}
}

func TestRestoreSeedsStaleConditions(t *testing.T) {
	store := &fakeStore{data: map[string][]byte{"Outside": []byte(successPayload)}}
	sink := &fakeSink{}
	p := newFakeProvider()
	svc := newTestService(p, store, sink)

	if err := svc.Restore(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, err := svc.Current(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.AQI != 75 || c.SourceActive {
		t.Fatalf("expected stale restored conditions, got %+v", c)
	}
	if p.callCount() != 0 {
		t.Fatalf("restored cache should satisfy getters without fetching")
	}
	if len(sink.readings) != 1 || sink.readings[0].Active {
		t.Fatalf("expected one inactive reading pushed on restore, got %+v", sink.readings)
	}
}

func TestProjectorFollowsSensorKind(t *testing.T) {
	c := Conditions{AQI: 42, AirQuality: AirQualityExcellent, Humidity: 55, Temperature: 21, SourceActive: true,
		Pollutants: map[Pollutant]float64{PollutantPM25: 10}}

	hum := ProjectorFor(SensorHumidity)(c)
	if hum.Kind != SensorHumidity || hum.Humidity != 55 || hum.Pollutants != nil {
		t.Fatalf("unexpected humidity reading: %+v", hum)
	}

	temp := ProjectorFor(SensorTemperature)(c)
	if temp.Kind != SensorTemperature || temp.Temperature != 21 {
		t.Fatalf("unexpected temperature reading: %+v", temp)
	}

	aq := ProjectorFor(SensorAirQuality)(c)
	aq.Pollutants[PollutantPM25] = 99
	if c.Pollutants[PollutantPM25] != 10 {
		t.Fatalf("projection must not share the pollutant map")
	}
}

func TestRestoreNeverOverwritesCompletedCycle(t *testing.T) {
	store := &fakeStore{data: map[string][]byte{"Outside": []byte(aqiPayload(180))}}
	sink := &fakeSink{}
	svc := newTestService(newFakeProvider(fakeResponse{body: aqiPayload(40)}), store, sink)

	if err := svc.Poll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Restore(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, _ := svc.cache.Load()
	if c.AQI != 40 || !c.SourceActive {
		t.Fatalf("expected the polled reading to survive restore, got %+v", c)
	}
	if len(sink.readings) != 1 {
		t.Fatalf("restore must not push when it stored nothing, got %d readings", len(sink.readings))
	}
}

func TestCacheSeedOnlyFillsEmptyCache(t *testing.T) {
	var cache ReadingCache

	if !cache.seed(Conditions{AQI: 10}, []byte("a")) {
		t.Fatalf("expected seed to fill an empty cache")
	}
	if cache.seed(Conditions{AQI: 20}, []byte("b")) {
		t.Fatalf("seed must not replace a cached value")
	}
	if c, _ := cache.Load(); c.AQI != 10 || string(cache.Raw()) != "a" {
		t.Fatalf("unexpected cache contents %+v %q", c, cache.Raw())
	}
}
