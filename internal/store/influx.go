package store

import (
	"context"
	"fmt"
	"strconv"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/i474232898/irrigation-scheduler/internal/weather"
)

const forecastMeasurement = "daily_forecast"

// ForecastArchive writes daily aggregations to InfluxDB.
type ForecastArchive struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// NewForecastArchive connects to the given bucket. All arguments are required.
func NewForecastArchive(url, token, org, bucket string) (*ForecastArchive, error) {
	if url == "" || token == "" || org == "" || bucket == "" {
		return nil, fmt.Errorf("influx config incomplete")
	}
	client := influxdb2.NewClient(url, token)
	return &ForecastArchive{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
	}, nil
}

// WriteForecasts stores one point per daily forecast, keyed by station and date.
func (a *ForecastArchive) WriteForecasts(ctx context.Context, st weather.Station, forecasts []weather.DailyForecast) error {
	if len(forecasts) == 0 {
		return nil
	}
	points := make([]*write.Point, 0, len(forecasts))
	for _, f := range forecasts {
		points = append(points, forecastPoint(st, f))
	}
	if err := a.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("influx write %s: %w", st.Key(), err)
	}
	return nil
}

// Close flushes and releases the client.
func (a *ForecastArchive) Close() {
	a.client.Close()
}

func forecastPoint(st weather.Station, f weather.DailyForecast) *write.Point {
	tags := map[string]string{
		"station_id": strconv.FormatInt(st.ID, 10),
	}
	if st.Provider != "" {
		tags["provider"] = st.Provider
	}
	fields := map[string]any{}
	if f.TemperatureMax != nil {
		fields["temperature_max"] = *f.TemperatureMax
	}
	if f.TemperatureMin != nil {
		fields["temperature_min"] = *f.TemperatureMin
	}
	if f.Precipitation != nil {
		fields["precipitation"] = *f.Precipitation
	}
	if f.Wind != nil {
		fields["wind"] = *f.Wind
	}
	return influxdb2.NewPoint(forecastMeasurement, tags, fields, f.Date)
}
