package providers

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/i474232898/irrigation-scheduler/internal/weather"
)

// RateLimitedSource wraps a weather.Source with a token bucket so that the
// scheduled passes and event bursts stay within the provider's quota.
type RateLimitedSource struct {
	source  weather.Source
	limiter *rate.Limiter
}

// NewRateLimitedSource allows rps requests per second (fractional values are
// fine) with the given burst.
func NewRateLimitedSource(source weather.Source, rps float64, burst int) *RateLimitedSource {
	return &RateLimitedSource{
		source:  source,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Name keeps the wrapped provider's name so stations can keep referring to it.
func (r *RateLimitedSource) Name() string {
	return r.source.Name()
}

func (r *RateLimitedSource) FetchHourly(ctx context.Context, at weather.Coordinates, days int) (weather.HourlySeries, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return weather.HourlySeries{}, fmt.Errorf("rate limit wait canceled: %w", err)
	}
	return r.source.FetchHourly(ctx, at, days)
}
