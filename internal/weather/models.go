package weather

import (
	"fmt"
	"time"
)

// Coordinates locate a weather station.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Station is a weather station polled for forecasts.
// Either Coordinates or City/Country must be provided; the latter is
// resolved to coordinates at startup.
type Station struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name,omitempty"`
	Provider    string       `json:"provider"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	City        string       `json:"city,omitempty"`
	Country     string       `json:"country,omitempty"`
}

// Key returns a canonical string key for logs and metric labels.
func (s Station) Key() string {
	return fmt.Sprintf("station-%d", s.ID)
}

// HourlySeries is one provider response in parallel-array form. The four
// slices must have the same length; missing values are nil.
type HourlySeries struct {
	Times         []string
	Temperature   []*float64 // °C
	Precipitation []*float64 // mm
	Wind          []*float64 // km/h
}

// Len returns the number of samples, or -1 if the arrays disagree.
func (h HourlySeries) Len() int {
	n := len(h.Times)
	if len(h.Temperature) != n || len(h.Precipitation) != n || len(h.Wind) != n {
		return -1
	}
	return n
}

// DailyForecast is the per-date summary derived from hourly samples.
// Date is the calendar date encoded as midnight UTC. A nil value means no
// sample contributed to that component.
type DailyForecast struct {
	StationID      int64     `json:"stationId"`
	Date           time.Time `json:"date"`
	TemperatureMax *float64  `json:"temperatureMax,omitempty"`
	TemperatureMin *float64  `json:"temperatureMin,omitempty"`
	Precipitation  *float64  `json:"precipitation,omitempty"`
	Wind           *float64  `json:"wind,omitempty"`
}

// ChangeEvent is an inbound weather-change notification. When Date is set
// the remaining fields describe a pre-computed forecast for that date.
type ChangeEvent struct {
	StationID      int64    `json:"stationId" validate:"required,gt=0"`
	Date           *string  `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	TemperatureMax *float64 `json:"temperatureMax,omitempty"`
	TemperatureMin *float64 `json:"temperatureMin,omitempty"`
	Precipitation  *float64 `json:"precipitation,omitempty" validate:"omitempty,gte=0"`
	Wind           *float64 `json:"wind,omitempty" validate:"omitempty,gte=0"`
}

// Forecast returns the embedded forecast, if the event carries one. A date
// without any value is only a notification and embeds nothing.
func (e ChangeEvent) Forecast() (DailyForecast, bool) {
	if e.Date == nil {
		return DailyForecast{}, false
	}
	if e.TemperatureMax == nil && e.TemperatureMin == nil && e.Precipitation == nil && e.Wind == nil {
		return DailyForecast{}, false
	}
	d, err := time.Parse(time.DateOnly, *e.Date)
	if err != nil {
		return DailyForecast{}, false
	}
	return DailyForecast{
		StationID:      e.StationID,
		Date:           d,
		TemperatureMax: e.TemperatureMax,
		TemperatureMin: e.TemperatureMin,
		Precipitation:  e.Precipitation,
		Wind:           e.Wind,
	}, true
}

// Float returns a pointer to v; handy for literals and tests.
func Float(v float64) *float64 {
	return &v
}
