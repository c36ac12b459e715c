package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/linuzri/polymarket-bot/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

// Forecast is a raw model reading as fetched, before any calibration.
type Forecast struct {
	Value     float64     `json:"value"`
	Unit      domain.Unit `json:"unit"`
	FetchedAt time.Time   `json:"fetched_at"`
}

// ForecastCache stores raw forecasts keyed by location, date and model so
// repeated evaluations within the TTL do not refetch.
type ForecastCache struct {
	client redis.Cmdable
	ttl    time.Duration
	tracer trace.Tracer
}

func NewForecastCache(client redis.Cmdable, ttl time.Duration, tracer trace.Tracer) *ForecastCache {
	return &ForecastCache{client: client, ttl: ttl, tracer: tracer}
}

func ForecastKey(location, date, model string) string {
	return fmt.Sprintf("forecast:%s:%s:%s", location, date, model)
}

// Get returns (nil, nil) on a miss.
func (c *ForecastCache) Get(ctx context.Context, location, date, model string) (*Forecast, error) {
	ctx, span := c.tracer.Start(ctx, "forecast-cache.get")
	defer span.End()

	raw, err := c.client.Get(ctx, ForecastKey(location, date, model)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var f Forecast
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode cached forecast: %w", err)
	}
	return &f, nil
}

func (c *ForecastCache) Set(ctx context.Context, location, date, model string, f Forecast) error {
	ctx, span := c.tracer.Start(ctx, "forecast-cache.set")
	defer span.End()

	raw, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, ForecastKey(location, date, model), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
