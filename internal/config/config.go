package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/i474232898/irrigation-scheduler/internal/irrigation"
	"github.com/i474232898/irrigation-scheduler/internal/weather"
)

type MQTTConfig struct {
	Host         string
	Port         int `validate:"omitempty,gt=0,lte=65535"`
	User         string
	Password     string
	ClientID     string
	WeatherTopic string `validate:"required"`
	CommandTopic string `validate:"required"`
	ResultTopic  string `validate:"required"`
}

// Enabled reports whether a broker is configured.
func (m MQTTConfig) Enabled() bool { return m.Host != "" }

type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Enabled reports whether the forecast archive is configured.
func (i InfluxConfig) Enabled() bool { return i.URL != "" }

type AppConfig struct {
	Port     string `validate:"required,numeric"`
	Location *time.Location
	DBPath   string

	Stations         []weather.Station `validate:"required,min=1"`
	ParcelStations   map[int64]int64
	DefaultStationID int64 `validate:"gt=0"`

	ForecastDays int           `validate:"gte=1,lte=16"`
	ForecastTTL  time.Duration `validate:"gt=0"`

	ExecutionInterval time.Duration `validate:"gt=0"`
	ExecutionStatuses []irrigation.Status

	NarrowCron    string
	NarrowWindow  time.Duration `validate:"gt=0"`
	BroadCron     string
	BroadWindow   time.Duration `validate:"gt=0"`
	EventWindow   time.Duration `validate:"gt=0"`
	PostponeShift time.Duration `validate:"gt=0"`

	ConflictRetries  int           `validate:"gte=1,lte=20"`
	PassTimeout      time.Duration `validate:"gt=0"`
	FetchTimeout     time.Duration `validate:"gt=0"`
	ActuationTimeout time.Duration `validate:"gt=0"`
	HTTPTimeout      time.Duration `validate:"gt=0"`

	ProviderRPS   float64 `validate:"gt=0"`
	ProviderBurst int     `validate:"gte=1"`

	OpenWeatherAPIKey string
	WeatherAPIKey     string
	GeocoderAPIKey    string

	MQTT   MQTTConfig
	Influx InfluxConfig
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds and validates the configuration from a lookup function.
// Every problem found is reported, not just the first.
func FromEnv(getenv func(string) string) (*AppConfig, error) {
	e := env{get: getenv}
	cfg := &AppConfig{}

	cfg.Port = e.str("PORT", "8080")
	cfg.DBPath = e.str("DB_PATH", "")

	tz := e.str("TZ_NAME", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		e.fail(fmt.Errorf("invalid TZ_NAME %q: %w", tz, err))
		loc = time.UTC
	}
	cfg.Location = loc

	cfg.Stations = e.stations("STATIONS")
	cfg.ParcelStations = e.parcelStations("PARCEL_STATIONS")
	if len(cfg.Stations) > 0 {
		cfg.DefaultStationID = cfg.Stations[0].ID
	}
	cfg.DefaultStationID = e.int64Val("DEFAULT_STATION_ID", cfg.DefaultStationID)

	cfg.ForecastDays = e.intVal("FORECAST_DAYS", 7)
	cfg.ForecastTTL = e.duration("FORECAST_TTL", time.Hour)

	cfg.ExecutionInterval = e.duration("EXECUTION_INTERVAL", 5*time.Minute)
	cfg.ExecutionStatuses = e.statuses("EXECUTION_STATUSES", "PLANNED")

	cfg.NarrowCron = e.cron("NARROW_CRON", "0 */6 * * *")
	cfg.NarrowWindow = e.duration("NARROW_WINDOW", 72*time.Hour)
	cfg.BroadCron = e.cron("BROAD_CRON", "0 2 * * *")
	cfg.BroadWindow = e.duration("BROAD_WINDOW", 168*time.Hour)
	cfg.EventWindow = e.duration("EVENT_WINDOW", 168*time.Hour)
	cfg.PostponeShift = e.duration("POSTPONE_SHIFT", irrigation.DefaultPostponeShift)

	cfg.ConflictRetries = e.intVal("CONFLICT_RETRIES", 3)
	cfg.PassTimeout = e.duration("PASS_TIMEOUT", 5*time.Minute)
	cfg.FetchTimeout = e.duration("FETCH_TIMEOUT", 30*time.Second)
	cfg.ActuationTimeout = e.duration("ACTUATION_TIMEOUT", 2*time.Minute)
	cfg.HTTPTimeout = e.duration("HTTP_TIMEOUT", 10*time.Second)

	cfg.ProviderRPS = e.floatVal("PROVIDER_RPS", 1)
	cfg.ProviderBurst = e.intVal("PROVIDER_BURST", 3)

	cfg.OpenWeatherAPIKey = e.str("OPENWEATHER_API_KEY", "")
	cfg.WeatherAPIKey = e.str("WEATHERAPI_API_KEY", "")
	cfg.GeocoderAPIKey = e.str("GEOCODER_API_KEY", "")

	cfg.MQTT = MQTTConfig{
		Host:         e.str("MQTT_HOST", ""),
		Port:         e.intVal("MQTT_PORT", 1883),
		User:         e.str("MQTT_USER", ""),
		Password:     e.str("MQTT_PASSWORD", ""),
		ClientID:     e.str("MQTT_CLIENT_ID", "irrigation-scheduler"),
		WeatherTopic: e.str("MQTT_WEATHER_TOPIC", "weather/changes"),
		CommandTopic: e.str("MQTT_COMMAND_TOPIC", "irrigation/commands"),
		ResultTopic:  e.str("MQTT_RESULT_TOPIC", "irrigation/results"),
	}
	cfg.Influx = InfluxConfig{
		URL:    e.str("INFLUX_URL", ""),
		Token:  e.str("INFLUX_TOKEN", ""),
		Org:    e.str("INFLUX_ORG", ""),
		Bucket: e.str("INFLUX_BUCKET", ""),
	}

	if err := validator.New().Struct(cfg); err != nil {
		e.fail(err)
	}
	e.crossCheck(cfg)

	if len(e.errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(e.errs...))
	}
	return cfg, nil
}

type env struct {
	get  func(string) string
	errs []error
}

func (e *env) fail(err error) {
	e.errs = append(e.errs, err)
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return def
}

func (e *env) intVal(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return n
}

func (e *env) int64Val(key string, def int64) int64 {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.fail(fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return n
}

func (e *env) floatVal(key string, def float64) float64 {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return n
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return d
}

func (e *env) cron(key, def string) string {
	expr := e.str(key, def)
	if _, err := cron.ParseStandard(expr); err != nil {
		e.fail(fmt.Errorf("invalid %s %q: %w", key, expr, err))
	}
	return expr
}

func (e *env) statuses(key, def string) []irrigation.Status {
	var out []irrigation.Status
	for _, raw := range strings.Split(e.str(key, def), ",") {
		st, err := irrigation.ParseStatus(raw)
		if err != nil {
			e.fail(fmt.Errorf("invalid %s: %w", key, err))
			continue
		}
		if st.Terminal() {
			e.fail(fmt.Errorf("invalid %s: %s is terminal", key, st))
			continue
		}
		out = append(out, st)
	}
	return out
}

// stations parses "id=lat:lon[@provider]" or "id=City/Country[@provider]"
// entries separated by commas.
func (e *env) stations(key string) []weather.Station {
	raw := e.str(key, "")
	if raw == "" {
		return nil
	}
	var out []weather.Station
	seen := make(map[int64]bool)
	for _, entry := range strings.Split(raw, ",") {
		st, err := parseStation(strings.TrimSpace(entry))
		if err != nil {
			e.fail(fmt.Errorf("invalid %s entry %q: %w", key, entry, err))
			continue
		}
		if seen[st.ID] {
			e.fail(fmt.Errorf("invalid %s: duplicate station id %d", key, st.ID))
			continue
		}
		seen[st.ID] = true
		out = append(out, st)
	}
	return out
}

func parseStation(entry string) (weather.Station, error) {
	idPart, rest, ok := strings.Cut(entry, "=")
	if !ok {
		return weather.Station{}, errors.New("expected id=location")
	}
	id, err := strconv.ParseInt(strings.TrimSpace(idPart), 10, 64)
	if err != nil || id <= 0 {
		return weather.Station{}, errors.New("station id must be a positive integer")
	}
	st := weather.Station{ID: id, Provider: "openmeteo"}

	if loc, provider, ok := strings.Cut(rest, "@"); ok {
		rest = loc
		st.Provider = strings.ToLower(strings.TrimSpace(provider))
		if st.Provider == "" {
			return weather.Station{}, errors.New("empty provider")
		}
	}
	rest = strings.TrimSpace(rest)

	if latS, lonS, ok := strings.Cut(rest, ":"); ok {
		lat, err := strconv.ParseFloat(strings.TrimSpace(latS), 64)
		if err != nil || lat < -90 || lat > 90 {
			return weather.Station{}, errors.New("latitude must be within [-90, 90]")
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(lonS), 64)
		if err != nil || lon < -180 || lon > 180 {
			return weather.Station{}, errors.New("longitude must be within [-180, 180]")
		}
		st.Coordinates = &weather.Coordinates{Lat: lat, Lon: lon}
		return st, nil
	}
	if city, country, ok := strings.Cut(rest, "/"); ok {
		st.City, st.Country = strings.TrimSpace(city), strings.TrimSpace(country)
		if st.City == "" || st.Country == "" {
			return weather.Station{}, errors.New("city and country are required")
		}
		st.Name = st.City
		return st, nil
	}
	return weather.Station{}, errors.New("expected lat:lon or City/Country")
}

func (e *env) parcelStations(key string) map[int64]int64 {
	out := make(map[int64]int64)
	raw := e.str(key, "")
	if raw == "" {
		return out
	}
	for _, entry := range strings.Split(raw, ",") {
		p, s, ok := strings.Cut(strings.TrimSpace(entry), "=")
		parcel, perr := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		station, serr := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if !ok || perr != nil || serr != nil {
			e.fail(fmt.Errorf("invalid %s entry %q: expected parcel=station", key, entry))
			continue
		}
		out[parcel] = station
	}
	return out
}

// crossCheck validates references between fields.
func (e *env) crossCheck(cfg *AppConfig) {
	known := make(map[int64]bool, len(cfg.Stations))
	for _, st := range cfg.Stations {
		known[st.ID] = true
		if st.Coordinates == nil && cfg.GeocoderAPIKey == "" {
			e.fail(fmt.Errorf("station %d is configured by city but GEOCODER_API_KEY is empty", st.ID))
		}
	}
	if len(cfg.Stations) > 0 && !known[cfg.DefaultStationID] {
		e.fail(fmt.Errorf("DEFAULT_STATION_ID %d is not a configured station", cfg.DefaultStationID))
	}
	for parcel, station := range cfg.ParcelStations {
		if !known[station] {
			e.fail(fmt.Errorf("PARCEL_STATIONS maps parcel %d to unknown station %d", parcel, station))
		}
	}
}
