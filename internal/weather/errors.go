package weather

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport wraps network failures, non-2xx responses and an open circuit.
	ErrTransport = errors.New("provider transport failure")

	// ErrMalformedPayload is returned when a provider body is not the JSON we expect.
	ErrMalformedPayload = errors.New("malformed provider payload")

	ErrUnsupportedPollutant = errors.New("unsupported pollutant")
	ErrInvalidMeasurement   = errors.New("invalid measurement")
)

// ProviderErrorKind enumerates the non-success statuses the provider reports.
type ProviderErrorKind int

const (
	UnknownStatus ProviderErrorKind = iota
	CallLimitReached
	APIKeyExpired
	IncorrectAPIKey
	IPLocationFailed
	NoNearestStation
	FeatureNotAvailable
	TooManyRequests
)

var providerStatuses = map[string]ProviderErrorKind{
	"call_limit_reached":    CallLimitReached,
	"api_key_expired":       APIKeyExpired,
	"incorrect_api_key":     IncorrectAPIKey,
	"ip_location_failed":    IPLocationFailed,
	"no_nearest_station":    NoNearestStation,
	"feature_not_available": FeatureNotAvailable,
	"too_many_requests":     TooManyRequests,
}

func (k ProviderErrorKind) String() string {
	switch k {
	case CallLimitReached:
		return "call limit reached"
	case APIKeyExpired:
		return "API key expired"
	case IncorrectAPIKey:
		return "incorrect API key"
	case IPLocationFailed:
		return "IP location failed"
	case NoNearestStation:
		return "no nearest station"
	case FeatureNotAvailable:
		return "feature not available"
	case TooManyRequests:
		return "too many requests"
	default:
		return "unknown status"
	}
}

// ProviderErrorKindFor maps a provider status string to its error kind.
func ProviderErrorKindFor(status string) ProviderErrorKind {
	if k, ok := providerStatuses[status]; ok {
		return k
	}
	return UnknownStatus
}

// ProviderError is a non-success status reported in an otherwise valid payload.
type ProviderError struct {
	Kind   ProviderErrorKind
	Status string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider status %q: %s", e.Status, e.Kind)
}
