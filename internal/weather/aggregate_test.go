package weather

import (
	"fmt"
	"slices"
	"testing"
	"time"
)

func hourlyDay(date string, temp, rain, wind func(h int) *float64) HourlySeries {
	var s HourlySeries
	for h := 0; h < 24; h++ {
		s.Times = append(s.Times, fmt.Sprintf("%sT%02d:00", date, h))
		s.Temperature = append(s.Temperature, temp(h))
		s.Precipitation = append(s.Precipitation, rain(h))
		s.Wind = append(s.Wind, wind(h))
	}
	return s
}

func assertValue(t *testing.T, name string, got *float64, want float64) {
	t.Helper()
	if got == nil {
		t.Fatalf("%s: got nil, want %v", name, want)
	}
	if *got != want {
		t.Fatalf("%s: got %v, want %v", name, *got, want)
	}
}

func TestAggregateHourlySingleDay(t *testing.T) {
	// temp 10.0 .. 33.0, rain 0.25 every hour (6.0 total), wind 0..23 (avg 11.5)
	s := hourlyDay("2024-06-01",
		func(h int) *float64 { return Float(10 + float64(h)) },
		func(h int) *float64 { return Float(0.25) },
		func(h int) *float64 { return Float(float64(h)) },
	)

	got := slices.Collect(AggregateHourly(7, s))
	if len(got) != 1 {
		t.Fatalf("expected 1 daily forecast, got %d", len(got))
	}
	f := got[0]
	if f.StationID != 7 {
		t.Fatalf("unexpected station %d", f.StationID)
	}
	if !f.Date.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date %v", f.Date)
	}
	assertValue(t, "tmax", f.TemperatureMax, 33)
	assertValue(t, "tmin", f.TemperatureMin, 10)
	assertValue(t, "rain", f.Precipitation, 6)
	assertValue(t, "wind", f.Wind, 11.5)
}

func TestAggregateHourlyRounding(t *testing.T) {
	s := HourlySeries{
		Times:         []string{"2024-06-01T00:00", "2024-06-01T01:00", "2024-06-01T02:00"},
		Temperature:   []*float64{Float(21.26), Float(18.04), nil},
		Precipitation: []*float64{Float(0.13), Float(0.11), Float(0.12)},
		Wind:          []*float64{Float(10), Float(11), Float(11)},
	}
	f := slices.Collect(AggregateHourly(1, s))[0]
	assertValue(t, "tmax", f.TemperatureMax, 21.3)
	assertValue(t, "tmin", f.TemperatureMin, 18)
	assertValue(t, "rain", f.Precipitation, 0.4)
	assertValue(t, "wind", f.Wind, 10.7)
}

func TestAggregateHourlyMismatchedLengths(t *testing.T) {
	s := hourlyDay("2024-06-01",
		func(int) *float64 { return Float(20) },
		func(int) *float64 { return Float(0) },
		func(int) *float64 { return Float(5) },
	)
	s.Temperature = s.Temperature[:23]

	if got := slices.Collect(AggregateHourly(1, s)); len(got) != 0 {
		t.Fatalf("expected empty result, got %d entries", len(got))
	}
}

func TestAggregateHourlySkipsBadTimestampsAndKeepsOrder(t *testing.T) {
	s := HourlySeries{
		Times:         []string{"2024-06-02T00:00", "garbage", "2024-06-01T00:00", "2024-06-02T01:00"},
		Temperature:   []*float64{Float(15), Float(99), Float(12), Float(17)},
		Precipitation: []*float64{Float(1), Float(99), Float(0), Float(2)},
		Wind:          []*float64{Float(4), Float(99), Float(3), Float(6)},
	}

	got := slices.Collect(AggregateHourly(1, s))
	if len(got) != 2 {
		t.Fatalf("expected 2 dates, got %d", len(got))
	}
	if got[0].Date.Day() != 2 || got[1].Date.Day() != 1 {
		t.Fatalf("expected first-encounter order, got %v then %v", got[0].Date, got[1].Date)
	}
	assertValue(t, "tmax", got[0].TemperatureMax, 17)
	assertValue(t, "rain", got[0].Precipitation, 3)
	assertValue(t, "wind", got[0].Wind, 5)
}

func TestAggregateHourlyMissingComponents(t *testing.T) {
	s := HourlySeries{
		Times:         []string{"2024-06-01T00:00", "2024-06-01T01:00", "2024-06-02T00:00"},
		Temperature:   []*float64{nil, nil, nil},
		Precipitation: []*float64{Float(1.5), nil, nil},
		Wind:          []*float64{nil, Float(12), nil},
	}

	got := slices.Collect(AggregateHourly(1, s))
	if len(got) != 1 {
		t.Fatalf("date without samples should be dropped, got %d entries", len(got))
	}
	f := got[0]
	if f.TemperatureMax != nil || f.TemperatureMin != nil {
		t.Fatalf("expected no temperature, got %v/%v", f.TemperatureMax, f.TemperatureMin)
	}
	assertValue(t, "rain", f.Precipitation, 1.5)
	assertValue(t, "wind", f.Wind, 12)
}

func TestAggregateHourlyStopsEarly(t *testing.T) {
	s := HourlySeries{
		Times:         []string{"2024-06-01T00:00", "2024-06-02T00:00", "2024-06-03T00:00"},
		Temperature:   []*float64{Float(1), Float(2), Float(3)},
		Precipitation: []*float64{nil, nil, nil},
		Wind:          []*float64{nil, nil, nil},
	}
	n := 0
	for range AggregateHourly(1, s) {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Fatalf("expected to consume 2 entries, got %d", n)
	}
}

func TestChangeEventForecast(t *testing.T) {
	date := "2024-06-03"
	ev := ChangeEvent{StationID: 3, Date: &date, Precipitation: Float(18)}
	f, ok := ev.Forecast()
	if !ok {
		t.Fatal("expected embedded forecast")
	}
	if f.StationID != 3 || f.Date.Day() != 3 || *f.Precipitation != 18 || f.Wind != nil {
		t.Fatalf("unexpected forecast %+v", f)
	}

	if _, ok := (ChangeEvent{StationID: 3}).Forecast(); ok {
		t.Fatal("event without date carries no forecast")
	}
	if _, ok := (ChangeEvent{StationID: 3, Date: &date}).Forecast(); ok {
		t.Fatal("event with a date but no values carries no forecast")
	}
}
