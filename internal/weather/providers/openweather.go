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

// OpenWeatherProvider implements weather.Source for the OpenWeatherMap
// 5 day / 3 hour forecast. Each 3-hour slot is treated as one sample.
type OpenWeatherProvider struct {
	name    string
	apiKey  string
	baseURL string
	loc     *time.Location
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewOpenWeatherProvider(client *http.Client, apiKey string, loc *time.Location) *OpenWeatherProvider {
	if loc == nil {
		loc = time.UTC
	}
	return &OpenWeatherProvider{
		name:    "openweathermap",
		apiKey:  apiKey,
		baseURL: "https://api.openweathermap.org/data/2.5/forecast",
		loc:     loc,
		httpCfg: defaultHTTPConfig(client),
		circuit: newCircuitBreaker("openweather"),
	}
}

func (p *OpenWeatherProvider) Name() string {
	return p.name
}

func (p *OpenWeatherProvider) FetchHourly(ctx context.Context, at weather.Coordinates, days int) (weather.HourlySeries, error) {
	if p.apiKey == "" {
		return weather.HourlySeries{}, fmt.Errorf("openweather api key is not configured")
	}

	// 8 slots per day, the endpoint serves at most 40.
	slots := min(days*8, 40)

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("appid", p.apiKey)
		values.Set("units", "metric")
		values.Set("lat", strconv.FormatFloat(at.Lat, 'f', 4, 64))
		values.Set("lon", strconv.FormatFloat(at.Lon, 'f', 4, 64))
		values.Set("cnt", strconv.Itoa(slots))

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	var payload struct {
		List []struct {
			// dt_txt is UTC; dt is converted to the configured zone instead.
			Dt   int64 `json:"dt"`
			Main struct {
				Temp *float64 `json:"temp"`
			} `json:"main"`
			Wind struct {
				Speed *float64 `json:"speed"`
			} `json:"wind"`
			Rain struct {
				ThreeH *float64 `json:"3h"`
			} `json:"rain"`
		} `json:"list"`
	}

	if err := getJSON(ctx, p.httpCfg, p.circuit, buildRequest, &payload); err != nil {
		return weather.HourlySeries{}, fmt.Errorf("%s: %w", p.name, err)
	}

	var series weather.HourlySeries
	for _, item := range payload.List {
		rain := item.Rain.ThreeH
		if rain == nil {
			// OpenWeatherMap omits the rain block on dry slots.
			rain = weather.Float(0)
		}
		series.Times = append(series.Times, sampleTime(item.Dt, p.loc))
		series.Temperature = append(series.Temperature, item.Main.Temp)
		series.Precipitation = append(series.Precipitation, rain)
		series.Wind = append(series.Wind, mpsToKph(item.Wind.Speed))
	}
	return series, nil
}
