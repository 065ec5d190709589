package weather

import (
	"context"
)

// Provider abstracts the air quality data source. Fetch returns the raw
// JSON body of one successful HTTP exchange; the request shape is fixed when
// the provider is constructed.
type Provider interface {
	Name() string
	Fetch(ctx context.Context) ([]byte, error)
}

// Store persists the last good raw payload keyed by accessory name.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte) error
}

// Sink receives readings pushed after each poll cycle.
type Sink interface {
	Publish(ctx context.Context, r Reading) error
	SetActive(ctx context.Context, active bool) error
}
