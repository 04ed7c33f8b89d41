package weather

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNoForecast is returned when no provider produced a usable forecast.
	ErrNoForecast = errors.New("no forecast data available")
	// ErrNoCoordinates is returned for stations that were never resolved.
	ErrNoCoordinates = errors.New("station has no coordinates")
)

type cachedForecast struct {
	forecasts []DailyForecast
	fetchedAt time.Time
}

// Service fetches hourly samples for stations, aggregates them into daily
// forecasts and keeps the latest result per station for one validity window.
type Service struct {
	sources map[string]Source
	order   []string
	archive Archive
	days    int
	ttl     time.Duration
	now     func() time.Time

	mu    sync.RWMutex
	cache map[int64]cachedForecast
}

// NewService creates a new Service. days is the provider forward window and
// ttl the validity of a cached aggregation.
func NewService(sources []Source, days int, ttl time.Duration) *Service {
	s := &Service{
		sources: make(map[string]Source, len(sources)),
		days:    days,
		ttl:     ttl,
		now:     time.Now,
		cache:   make(map[int64]cachedForecast),
	}
	for _, src := range sources {
		s.sources[src.Name()] = src
		s.order = append(s.order, src.Name())
	}
	sort.Strings(s.order)
	return s
}

// SetArchive registers an optional sink for fresh aggregations.
func (s *Service) SetArchive(a Archive) {
	s.archive = a
}

// Forecasts returns the cached forecasts for a station while they are valid,
// and refreshes them otherwise.
func (s *Service) Forecasts(ctx context.Context, st Station) ([]DailyForecast, error) {
	if fs, fetchedAt, ok := s.Cached(st.ID); ok && s.now().Sub(fetchedAt) < s.ttl {
		return fs, nil
	}
	return s.Refresh(ctx, st)
}

// Cached returns the last good aggregation for a station regardless of age.
func (s *Service) Cached(stationID int64) ([]DailyForecast, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cache[stationID]
	if !ok {
		return nil, time.Time{}, false
	}
	return slices.Clone(c.forecasts), c.fetchedAt, true
}

// Refresh bypasses the cache: it fetches from the station's provider (falling
// back to the other configured providers), aggregates, caches and archives.
// On failure the last good aggregation is kept.
func (s *Service) Refresh(ctx context.Context, st Station) ([]DailyForecast, error) {
	if st.Coordinates == nil {
		return nil, fmt.Errorf("%s: %w", st.Key(), ErrNoCoordinates)
	}

	var errs []error
	for _, name := range s.candidates(st.Provider) {
		src := s.sources[name]

		series, err := src.FetchHourly(ctx, *st.Coordinates, s.days)
		if err != nil {
			log.Printf("weather: provider %s fetch failed for %s: %v", name, st.Key(), err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}

		forecasts := slices.Collect(AggregateHourly(st.ID, series))
		if len(forecasts) == 0 {
			log.Printf("weather: provider %s returned no usable samples for %s", name, st.Key())
			errs = append(errs, fmt.Errorf("%s: %w", name, ErrNoForecast))
			continue
		}

		s.mu.Lock()
		s.cache[st.ID] = cachedForecast{forecasts: forecasts, fetchedAt: s.now()}
		s.mu.Unlock()

		if s.archive != nil {
			if err := s.archive.WriteForecasts(ctx, st, forecasts); err != nil {
				log.Printf("weather: archive write failed for %s: %v", st.Key(), err)
			}
		}
		return slices.Clone(forecasts), nil
	}

	if len(errs) == 0 {
		return nil, fmt.Errorf("%s: no weather providers configured: %w", st.Key(), ErrNoForecast)
	}
	return nil, fmt.Errorf("%s: %w", st.Key(), errors.Join(append(errs, ErrNoForecast)...))
}

// candidates lists the preferred provider first, then the others by name.
func (s *Service) candidates(preferred string) []string {
	out := make([]string, 0, len(s.order))
	if _, ok := s.sources[preferred]; ok {
		out = append(out, preferred)
	}
	for _, name := range s.order {
		if name != preferred {
			out = append(out, name)
		}
	}
	return out
}
