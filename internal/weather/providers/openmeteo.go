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

// OpenMeteoProvider implements weather.Source for Open-Meteo. It needs no API key.
type OpenMeteoProvider struct {
	name    string
	baseURL string
	loc     *time.Location
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

// NewOpenMeteoProvider creates the provider. Samples are bucketed into days
// in loc; nil means UTC.
func NewOpenMeteoProvider(client *http.Client, loc *time.Location) *OpenMeteoProvider {
	if loc == nil {
		loc = time.UTC
	}
	return &OpenMeteoProvider{
		name:    "openmeteo",
		baseURL: "https://api.open-meteo.com/v1/forecast",
		loc:     loc,
		httpCfg: defaultHTTPConfig(client),
		circuit: newCircuitBreaker("openmeteo"),
	}
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

// FetchHourly requests temperature, precipitation and wind (km/h) for the next days.
func (p *OpenMeteoProvider) FetchHourly(ctx context.Context, at weather.Coordinates, days int) (weather.HourlySeries, error) {
	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", strconv.FormatFloat(at.Lat, 'f', 4, 64))
		values.Set("longitude", strconv.FormatFloat(at.Lon, 'f', 4, 64))
		values.Set("hourly", "temperature_2m,precipitation,wind_speed_10m")
		values.Set("forecast_days", strconv.Itoa(days))
		values.Set("timeformat", "unixtime")
		values.Set("timezone", p.timezone())

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	var payload struct {
		Hourly struct {
			Time          []int64    `json:"time"`
			Temperature   []*float64 `json:"temperature_2m"`
			Precipitation []*float64 `json:"precipitation"`
			WindSpeed     []*float64 `json:"wind_speed_10m"`
		} `json:"hourly"`
	}

	if err := getJSON(ctx, p.httpCfg, p.circuit, buildRequest, &payload); err != nil {
		return weather.HourlySeries{}, fmt.Errorf("%s: %w", p.name, err)
	}

	times := make([]string, len(payload.Hourly.Time))
	for i, epoch := range payload.Hourly.Time {
		times[i] = sampleTime(epoch, p.loc)
	}
	return weather.HourlySeries{
		Times:         times,
		Temperature:   payload.Hourly.Temperature,
		Precipitation: payload.Hourly.Precipitation,
		Wind:          payload.Hourly.WindSpeed,
	}, nil
}

// timezone is the zone the forecast window starts in. Times come back as
// epochs either way.
func (p *OpenMeteoProvider) timezone() string {
	if name := p.loc.String(); name != "Local" {
		return name
	}
	return "auto"
}
