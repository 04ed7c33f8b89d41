package store

import (
	"testing"
	"time"

	"github.com/i474232898/irrigation-scheduler/internal/weather"
)

func TestForecastPoint(t *testing.T) {
	date := time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)
	st := weather.Station{ID: 7, Provider: "openmeteo"}
	f := weather.DailyForecast{
		StationID:      7,
		Date:           date,
		TemperatureMax: weather.Float(31.2),
		Precipitation:  weather.Float(0),
	}

	p := forecastPoint(st, f)
	if p.Name() != forecastMeasurement {
		t.Fatalf("unexpected measurement %q", p.Name())
	}
	if !p.Time().Equal(date) {
		t.Fatalf("unexpected time %v", p.Time())
	}

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["station_id"] != "7" || tags["provider"] != "openmeteo" {
		t.Fatalf("unexpected tags %v", tags)
	}

	fields := map[string]any{}
	for _, field := range p.FieldList() {
		fields[field.Key] = field.Value
	}
	if len(fields) != 2 {
		t.Fatalf("expected only present components as fields, got %v", fields)
	}
	if fields["temperature_max"] != 31.2 || fields["precipitation"] != 0.0 {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestNewForecastArchive_RequiresConfig(t *testing.T) {
	if _, err := NewForecastArchive("http://localhost:8086", "", "org", "bucket"); err == nil {
		t.Fatal("expected error for missing token")
	}
}
