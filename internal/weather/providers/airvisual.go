package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/i474232898/airvisual-sensor/internal/weather"
)

// DefaultAirVisualURL is the scheme and host of the public AirVisual API.
const DefaultAirVisualURL = "https://api.airvisual.com"

// AirVisualProvider implements the weather.Provider interface for the
// AirVisual (IQAir) v2 API. The request shape follows the Location it was
// built with and never changes afterwards.
type AirVisualProvider struct {
	name    string
	apiKey  string
	baseURL string
	loc     weather.Location
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

// NewAirVisualProvider creates a provider. An empty baseURL selects the public API.
func NewAirVisualProvider(client *http.Client, baseURL, apiKey string, loc weather.Location) *AirVisualProvider {
	if baseURL == "" {
		baseURL = DefaultAirVisualURL
	}
	return &AirVisualProvider{
		name:    "airvisual",
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		loc:     loc,
		httpCfg: HTTPClientConfig{
			Client:  client,
			Backoff: DefaultBackoff,
		},
		circuit: newCircuitBreaker("airvisual"),
	}
}

// WithBackoff overrides the retry policy.
func (p *AirVisualProvider) WithBackoff(b BackoffConfig) *AirVisualProvider {
	p.httpCfg.Backoff = b
	return p
}

func (p *AirVisualProvider) Name() string {
	return p.name
}

// Fetch performs one GET and returns the JSON body.
func (p *AirVisualProvider) Fetch(ctx context.Context) ([]byte, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("airvisual api key is not configured")
	}

	u, err := p.requestURL()
	if err != nil {
		return nil, err
	}

	buildRequest := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	body, err := getWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		// AirVisual answers key and quota problems with a 4xx carrying a
		// status document; hand that to the normalizer to classify.
		var se *statusError
		if errors.As(err, &se) && se.Code < 500 && hasStatusField(se.Body) {
			return se.Body, nil
		}
		return nil, err
	}
	return body, nil
}

func hasStatusField(body []byte) bool {
	var doc struct {
		Status string `json:"status"`
	}
	return json.Unmarshal(body, &doc) == nil && doc.Status != ""
}

// requestURL builds the endpoint for the configured location mode. Query
// values are percent-escaped, with spaces as %20.
func (p *AirVisualProvider) requestURL() (string, error) {
	base, err := url.Parse(p.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid airvisual base url %q: %w", p.baseURL, err)
	}

	values := url.Values{}
	endpoint := "/v2/nearest_city"

	switch p.loc.Mode {
	case weather.LocationGPS:
		values.Set("lat", strconv.FormatFloat(p.loc.Latitude, 'f', -1, 64))
		values.Set("lon", strconv.FormatFloat(p.loc.Longitude, 'f', -1, 64))
	case weather.LocationCity:
		endpoint = "/v2/city"
		values.Set("city", p.loc.City)
		values.Set("state", p.loc.State)
		values.Set("country", p.loc.Country)
	}
	values.Set("key", p.apiKey)

	base.Path = strings.TrimRight(base.Path, "/") + endpoint
	base.RawQuery = strings.ReplaceAll(values.Encode(), "+", "%20")
	return base.String(), nil
}
