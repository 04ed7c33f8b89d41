package config

import (
	"strings"
	"testing"
	"time"

	"github.com/i474232898/irrigation-scheduler/internal/irrigation"
)

func lookup(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(lookup(map[string]string{
		"STATIONS": "1=36.8:10.2,2=35.83:10.64@weatherapi",
	}))
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Port != "8080" || cfg.Location != time.UTC {
		t.Fatalf("unexpected basics: port=%s loc=%v", cfg.Port, cfg.Location)
	}
	if len(cfg.Stations) != 2 || cfg.DefaultStationID != 1 {
		t.Fatalf("unexpected stations %+v default=%d", cfg.Stations, cfg.DefaultStationID)
	}
	if st := cfg.Stations[1]; st.Provider != "weatherapi" || st.Coordinates == nil || st.Coordinates.Lon != 10.64 {
		t.Fatalf("unexpected second station %+v", st)
	}
	if cfg.Stations[0].Provider != "openmeteo" {
		t.Fatalf("expected openmeteo default provider, got %q", cfg.Stations[0].Provider)
	}
	if cfg.NarrowWindow != 72*time.Hour || cfg.BroadWindow != 168*time.Hour || cfg.PostponeShift != 48*time.Hour {
		t.Fatalf("unexpected windows %v %v %v", cfg.NarrowWindow, cfg.BroadWindow, cfg.PostponeShift)
	}
	if len(cfg.ExecutionStatuses) != 1 || cfg.ExecutionStatuses[0] != irrigation.StatusPlanned {
		t.Fatalf("unexpected execution statuses %v", cfg.ExecutionStatuses)
	}
	if cfg.ConflictRetries != 3 || cfg.ExecutionInterval != 5*time.Minute {
		t.Fatalf("unexpected retries/interval %d %v", cfg.ConflictRetries, cfg.ExecutionInterval)
	}
	if cfg.MQTT.Enabled() || cfg.Influx.Enabled() {
		t.Fatal("MQTT and Influx must be disabled by default")
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(lookup(map[string]string{
		"STATIONS":           "3=Tunis/Tunisia@openweathermap, 4=36.4:10.6",
		"GEOCODER_API_KEY":   "key",
		"PARCEL_STATIONS":    "10=4, 11=3",
		"DEFAULT_STATION_ID": "4",
		"TZ_NAME":            "Africa/Tunis",
		"EXECUTION_STATUSES": "planned, adjusted",
		"NARROW_CRON":        "*/30 * * * *",
		"MQTT_HOST":          "broker",
	}))
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if st := cfg.Stations[0]; st.City != "Tunis" || st.Country != "Tunisia" || st.Coordinates != nil || st.Provider != "openweathermap" {
		t.Fatalf("unexpected city station %+v", st)
	}
	if cfg.ParcelStations[10] != 4 || cfg.ParcelStations[11] != 3 || cfg.DefaultStationID != 4 {
		t.Fatalf("unexpected parcel mapping %v default=%d", cfg.ParcelStations, cfg.DefaultStationID)
	}
	if cfg.Location.String() != "Africa/Tunis" {
		t.Fatalf("unexpected location %v", cfg.Location)
	}
	if len(cfg.ExecutionStatuses) != 2 || cfg.ExecutionStatuses[1] != irrigation.StatusAdjusted {
		t.Fatalf("unexpected statuses %v", cfg.ExecutionStatuses)
	}
	if !cfg.MQTT.Enabled() || cfg.MQTT.Port != 1883 || cfg.MQTT.WeatherTopic != "weather/changes" {
		t.Fatalf("unexpected MQTT config %+v", cfg.MQTT)
	}
}

func TestFromEnv_RejectsInvalidEntries(t *testing.T) {
	cases := map[string]struct {
		vars map[string]string
		want string
	}{
		"no stations":         {map[string]string{}, "Stations"},
		"garbage station":     {map[string]string{"STATIONS": "1=36.8:10.2,abc"}, `"abc"`},
		"latitude range":      {map[string]string{"STATIONS": "1=95:10"}, "latitude"},
		"duplicate id":        {map[string]string{"STATIONS": "1=1:1,1=2:2"}, "duplicate"},
		"city without key":    {map[string]string{"STATIONS": "1=Tunis/Tunisia"}, "GEOCODER_API_KEY"},
		"unknown parcel ref":  {map[string]string{"STATIONS": "1=1:1", "PARCEL_STATIONS": "5=9"}, "unknown station 9"},
		"bad parcel entry":    {map[string]string{"STATIONS": "1=1:1", "PARCEL_STATIONS": "5"}, "parcel=station"},
		"bad default station": {map[string]string{"STATIONS": "1=1:1", "DEFAULT_STATION_ID": "2"}, "DEFAULT_STATION_ID"},
		"bad cron":            {map[string]string{"STATIONS": "1=1:1", "BROAD_CRON": "every night"}, "BROAD_CRON"},
		"bad duration":        {map[string]string{"STATIONS": "1=1:1", "NARROW_WINDOW": "3 days"}, "NARROW_WINDOW"},
		"terminal status":     {map[string]string{"STATIONS": "1=1:1", "EXECUTION_STATUSES": "EXECUTED"}, "terminal"},
		"unknown status":      {map[string]string{"STATIONS": "1=1:1", "EXECUTION_STATUSES": "RUNNING"}, "RUNNING"},
		"bad timezone":        {map[string]string{"STATIONS": "1=1:1", "TZ_NAME": "Mars/Olympus"}, "TZ_NAME"},
		"zero forecast days":  {map[string]string{"STATIONS": "1=1:1", "FORECAST_DAYS": "0"}, "ForecastDays"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromEnv(lookup(tc.vars))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}
