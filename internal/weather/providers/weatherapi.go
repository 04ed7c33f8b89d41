package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/i474232898/irrigation-scheduler/internal/weather"
	"github.com/sony/gobreaker"
)

// WeatherAPIProvider implements weather.Source for WeatherAPI.com forecast.json.
type WeatherAPIProvider struct {
	name    string
	apiKey  string
	baseURL string
	loc     *time.Location
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewWeatherAPIProvider(client *http.Client, apiKey string, loc *time.Location) *WeatherAPIProvider {
	if loc == nil {
		loc = time.UTC
	}
	return &WeatherAPIProvider{
		name:    "weatherapi",
		apiKey:  apiKey,
		baseURL: "https://api.weatherapi.com/v1/forecast.json",
		loc:     loc,
		httpCfg: defaultHTTPConfig(client),
		circuit: newCircuitBreaker("weatherapi"),
	}
}

func (p *WeatherAPIProvider) Name() string {
	return p.name
}

func (p *WeatherAPIProvider) FetchHourly(ctx context.Context, at weather.Coordinates, days int) (weather.HourlySeries, error) {
	if p.apiKey == "" {
		return weather.HourlySeries{}, fmt.Errorf("weatherapi api key is not configured")
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("key", p.apiKey)
		// WeatherAPI uses "q" for location; it accepts "lat,lon".
		values.Set("q", fmt.Sprintf("%f,%f", at.Lat, at.Lon))
		values.Set("days", strconv.Itoa(days))
		values.Set("aqi", "no")
		values.Set("alerts", "no")

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	var payload struct {
		Forecast struct {
			ForecastDay []struct {
				Hour []struct {
					// time is in the station's zone; time_epoch is used instead.
					TimeEpoch int64    `json:"time_epoch"`
					TempC     *float64 `json:"temp_c"`
					PrecipMm  *float64 `json:"precip_mm"`
					WindKph   *float64 `json:"wind_kph"`
				} `json:"hour"`
			} `json:"forecastday"`
		} `json:"forecast"`
	}

	if err := getJSON(ctx, p.httpCfg, p.circuit, buildRequest, &payload); err != nil {
		return weather.HourlySeries{}, fmt.Errorf("%s: %w", p.name, err)
	}

	var series weather.HourlySeries
	for _, day := range payload.Forecast.ForecastDay {
		for _, h := range day.Hour {
			series.Times = append(series.Times, sampleTime(h.TimeEpoch, p.loc))
			series.Temperature = append(series.Temperature, h.TempC)
			series.Precipitation = append(series.Precipitation, h.PrecipMm)
			series.Wind = append(series.Wind, h.WindKph)
		}
	}
	return series, nil
}
