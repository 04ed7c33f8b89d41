package weather

import (
	"context"
)

// Source abstracts a provider of hourly forecast samples (e.g. Open-Meteo,
// OpenWeatherMap, WeatherAPI).
type Source interface {
	Name() string
	FetchHourly(ctx context.Context, at Coordinates, days int) (HourlySeries, error)
}

// Archive receives every freshly aggregated set of daily forecasts.
type Archive interface {
	WriteForecasts(ctx context.Context, station Station, forecasts []DailyForecast) error
}
