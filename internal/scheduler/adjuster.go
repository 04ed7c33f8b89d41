package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/i474232898/irrigation-scheduler/internal/irrigation"
	"github.com/i474232898/irrigation-scheduler/internal/weather"
)

// ErrUnknownStation is returned for weather-change events naming a station
// that is not configured.
var ErrUnknownStation = errors.New("unknown weather station")

const (
	PassNarrow = "narrow"
	PassBroad  = "broad"
	PassEvent  = "event"
)

// Forecaster supplies daily forecasts per station. *weather.Service
// implements it.
type Forecaster interface {
	// Forecasts may serve a cached aggregation.
	Forecasts(ctx context.Context, st weather.Station) ([]weather.DailyForecast, error)
	// Refresh always fetches.
	Refresh(ctx context.Context, st weather.Station) ([]weather.DailyForecast, error)
}

// AdjusterConfig carries the station topology and pass bounds.
type AdjusterConfig struct {
	Stations         []weather.Station
	ParcelStations   map[int64]int64
	DefaultStationID int64
	EventWindow      time.Duration
	EventTimeout     time.Duration
	FetchTimeout     time.Duration
	ConflictRetries  int
}

// PassSummary reports one adjustment pass.
type PassSummary struct {
	Pass          string `json:"pass"`
	Programmes    int    `json:"programmes"`
	Adjusted      int    `json:"adjusted"`
	Postponed     int    `json:"postponed"`
	Unchanged     int    `json:"unchanged"`
	Skipped       int    `json:"skipped"`
	Errors        int    `json:"errors"`
	FetchFailures int    `json:"fetchFailures"`
	// Coalesced is set when an event was queued behind a running pass for
	// the same station.
	Coalesced bool `json:"coalesced,omitempty"`
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeAdjusted
	outcomePostponed
	outcomeSkipped
	outcomeError
)

func (s *PassSummary) add(o outcome) {
	s.Programmes++
	switch o {
	case outcomeAdjusted:
		s.Adjusted++
	case outcomePostponed:
		s.Postponed++
	case outcomeSkipped:
		s.Skipped++
	case outcomeError:
		s.Errors++
	default:
		s.Unchanged++
	}
}

// Adjuster runs the adjustment passes: it pulls pending programmes, matches
// them with their station's daily forecast and applies the engine.
type Adjuster struct {
	store     irrigation.Store
	forecasts Forecaster
	engine    irrigation.Engine
	locks     *irrigation.KeyedMutex

	stations       map[int64]weather.Station
	parcelStations map[int64]int64
	defaultStation int64
	eventWindow    time.Duration
	eventTimeout   time.Duration
	fetchTimeout   time.Duration
	retries        int

	metrics *Metrics
	stats   *Stats
	now     func() time.Time

	evMu    sync.Mutex
	running map[int64]bool
	pending map[int64]weather.ChangeEvent
}

// NewAdjuster creates an Adjuster. metrics may be nil.
func NewAdjuster(store irrigation.Store, forecasts Forecaster, engine irrigation.Engine, locks *irrigation.KeyedMutex,
	cfg AdjusterConfig, metrics *Metrics, stats *Stats) *Adjuster {
	stations := make(map[int64]weather.Station, len(cfg.Stations))
	for _, st := range cfg.Stations {
		stations[st.ID] = st
	}
	if cfg.DefaultStationID == 0 && len(cfg.Stations) > 0 {
		cfg.DefaultStationID = cfg.Stations[0].ID
	}
	if cfg.EventWindow <= 0 {
		cfg.EventWindow = 7 * 24 * time.Hour
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = 5 * time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.ConflictRetries == 0 {
		cfg.ConflictRetries = defaultConflictRetries
	}
	if locks == nil {
		locks = irrigation.NewKeyedMutex()
	}
	if stats == nil {
		stats = &Stats{}
	}
	return &Adjuster{
		store:          store,
		forecasts:      forecasts,
		engine:         engine,
		locks:          locks,
		stations:       stations,
		parcelStations: cfg.ParcelStations,
		defaultStation: cfg.DefaultStationID,
		eventWindow:    cfg.EventWindow,
		eventTimeout:   cfg.EventTimeout,
		fetchTimeout:   cfg.FetchTimeout,
		retries:        cfg.ConflictRetries,
		metrics:        metrics,
		stats:          stats,
		now:            time.Now,
		running:        make(map[int64]bool),
		pending:        make(map[int64]weather.ChangeEvent),
	}
}

// StationFor resolves the weather station serving a parcel.
func (a *Adjuster) StationFor(parcelID int64) (weather.Station, bool) {
	id, ok := a.parcelStations[parcelID]
	if !ok {
		id = a.defaultStation
	}
	st, ok := a.stations[id]
	return st, ok
}

// RunPass re-evaluates every pending programme planned within window from
// now. Forecasts are fetched once per station, concurrently.
func (a *Adjuster) RunPass(ctx context.Context, pass string, window time.Duration) PassSummary {
	started := a.now()
	defer a.metrics.observePass(pass, time.Now())
	a.stats.AdjustmentRuns.Inc()
	a.stats.LastAdjustment.Store(time.Now().UnixMilli())

	summary := PassSummary{Pass: pass}
	programmes, err := a.store.ListInWindow(ctx, started, started.Add(window))
	if err != nil {
		log.Printf("ERROR: adjuster: %s pass: list programmes: %v", pass, err)
		return summary
	}
	if len(programmes) == 0 {
		return summary
	}

	byStation := make(map[int64][]irrigation.Programme)
	for _, p := range programmes {
		st, ok := a.StationFor(p.ParcelID)
		if !ok {
			log.Printf("WARN: adjuster: no station for parcel %d; skipping programme %s", p.ParcelID, p.ID)
			summary.add(outcomeSkipped)
			continue
		}
		byStation[st.ID] = append(byStation[st.ID], p)
	}

	type fetched struct {
		byDate map[string]weather.DailyForecast
		err    error
	}
	results := make(map[int64]fetched, len(byStation))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for id := range byStation {
		st := a.stations[id]
		wg.Add(1)
		go func() {
			defer wg.Done()
			fctx, cancel := context.WithTimeout(ctx, a.fetchTimeout)
			defer cancel()

			fs, err := a.forecasts.Forecasts(fctx, st)
			mu.Lock()
			results[st.ID] = fetched{byDate: indexByDate(fs), err: err}
			mu.Unlock()
		}()
	}
	wg.Wait()

	for id, ps := range byStation {
		res := results[id]
		if res.err != nil {
			log.Printf("WARN: adjuster: %s pass: forecast for %s unavailable, %d programme(s) left unchanged: %v",
				pass, a.stations[id].Key(), len(ps), res.err)
			a.metrics.fetchFailure(a.stations[id].Key())
			summary.FetchFailures++
			for range ps {
				summary.add(outcomeSkipped)
			}
			continue
		}
		a.adjustAll(ctx, pass, started, ps, res.byDate, &summary)
	}

	log.Printf("adjuster: %s pass done: programmes=%d adjusted=%d postponed=%d unchanged=%d skipped=%d errors=%d",
		pass, summary.Programmes, summary.Adjusted, summary.Postponed, summary.Unchanged, summary.Skipped, summary.Errors)
	return summary
}

// HandleWeatherChange runs the event-triggered pass for the event's station.
// While a pass for that station is running, newer events are coalesced and
// the latest one runs once the current pass ends. Every pass gets its own
// EventTimeout; cancelling ctx drops the queued event.
func (a *Adjuster) HandleWeatherChange(ctx context.Context, ev weather.ChangeEvent) (PassSummary, error) {
	st, ok := a.stations[ev.StationID]
	if !ok {
		return PassSummary{Pass: PassEvent}, fmt.Errorf("%w: %d", ErrUnknownStation, ev.StationID)
	}

	a.evMu.Lock()
	if a.running[st.ID] {
		a.pending[st.ID] = ev
		a.evMu.Unlock()
		log.Printf("adjuster: event for %s queued behind running pass", st.Key())
		return PassSummary{Pass: PassEvent, Coalesced: true}, nil
	}
	a.running[st.ID] = true
	a.evMu.Unlock()

	for {
		passCtx, cancel := context.WithTimeout(ctx, a.eventTimeout)
		summary := a.runEvent(passCtx, st, ev)
		cancel()

		a.evMu.Lock()
		next, queued := a.pending[st.ID]
		if !queued || ctx.Err() != nil {
			delete(a.pending, st.ID)
			delete(a.running, st.ID)
			a.evMu.Unlock()
			if queued {
				log.Printf("WARN: adjuster: queued event for %s dropped: %v", st.Key(), ctx.Err())
			}
			return summary, nil
		}
		delete(a.pending, st.ID)
		a.evMu.Unlock()
		ev = next
	}
}

func (a *Adjuster) runEvent(ctx context.Context, st weather.Station, ev weather.ChangeEvent) PassSummary {
	started := a.now()
	defer a.metrics.observePass(PassEvent, time.Now())
	a.stats.AdjustmentRuns.Inc()
	a.stats.LastAdjustment.Store(time.Now().UnixMilli())

	summary := PassSummary{Pass: PassEvent}

	fctx, cancel := context.WithTimeout(ctx, a.fetchTimeout)
	fs, err := a.forecasts.Refresh(fctx, st)
	cancel()

	byDate := indexByDate(fs)
	embedded, hasEmbedded := ev.Forecast()
	if hasEmbedded {
		embedded.StationID = st.ID
		byDate[embedded.Date.Format(time.DateOnly)] = embedded
	}
	if err != nil {
		a.metrics.fetchFailure(st.Key())
		summary.FetchFailures++
		if !hasEmbedded {
			log.Printf("WARN: adjuster: event pass for %s: forecast unavailable: %v", st.Key(), err)
			return summary
		}
		log.Printf("WARN: adjuster: event pass for %s: refresh failed, using embedded forecast only: %v", st.Key(), err)
	}

	programmes, err := a.store.ListInWindow(ctx, started, started.Add(a.eventWindow))
	if err != nil {
		log.Printf("ERROR: adjuster: event pass: list programmes: %v", err)
		return summary
	}
	var mine []irrigation.Programme
	for _, p := range programmes {
		if ps, ok := a.StationFor(p.ParcelID); ok && ps.ID == st.ID {
			mine = append(mine, p)
		}
	}
	a.adjustAll(ctx, PassEvent, started, mine, byDate, &summary)

	log.Printf("adjuster: event pass for %s done: programmes=%d adjusted=%d postponed=%d",
		st.Key(), summary.Programmes, summary.Adjusted, summary.Postponed)
	return summary
}

func (a *Adjuster) adjustAll(ctx context.Context, pass string, started time.Time, ps []irrigation.Programme,
	byDate map[string]weather.DailyForecast, summary *PassSummary) {
	for _, p := range ps {
		if ctx.Err() != nil {
			log.Printf("WARN: adjuster: %s pass canceled: %v", pass, ctx.Err())
			return
		}
		summary.add(a.adjustOne(ctx, pass, started, p.ID, byDate))
	}
}

// adjustOne is the locked read-decide-write cycle for one programme. A
// programme written after the pass started was already decided by a
// concurrent pass and is left alone.
func (a *Adjuster) adjustOne(ctx context.Context, pass string, started time.Time, id string,
	byDate map[string]weather.DailyForecast) (result outcome) {
	unlock := a.locks.Lock(id)
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: adjuster: panic adjusting programme %s: %v\n%s", id, r, debug.Stack())
			result = outcomeError
		}
	}()

	var (
		decision irrigation.Decision
		decided  bool
		original float64
	)
	err := retryConflicts(ctx, a.retries, func() error {
		result, decided = outcomeSkipped, false

		p, err := a.store.Get(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		if p.UpdatedAt.After(started) || !p.Status.Pending() {
			return nil
		}

		var f *weather.DailyForecast
		if fc, ok := byDate[a.engine.DateOf(p).Format(time.DateOnly)]; ok {
			f = &fc
		}
		decision, decided, original = a.engine.Decide(p, f), true, p.VolumeLiters
		switch decision.Action {
		case irrigation.ActionSkip:
			return nil
		case irrigation.ActionNone:
			result = outcomeUnchanged
			return nil
		}

		if _, err := a.store.Save(ctx, decision.Programme); err != nil {
			if errors.Is(err, irrigation.ErrConflict) {
				a.metrics.conflict()
				return err
			}
			return backoff.Permanent(err)
		}
		if decision.Action == irrigation.ActionPostpone {
			result = outcomePostponed
		} else {
			result = outcomeAdjusted
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, irrigation.ErrNotFound) {
			return outcomeSkipped
		}
		if errors.Is(err, irrigation.ErrConflict) {
			log.Printf("WARN: adjuster: %s pass: programme %s still conflicting after %d retries; skipping", pass, id, a.retries)
			return outcomeSkipped
		}
		log.Printf("ERROR: adjuster: %s pass: programme %s: %v", pass, id, err)
		return outcomeError
	}

	if decided {
		a.metrics.decision(pass, decision.Action.String())
	}
	switch result {
	case outcomeAdjusted:
		a.stats.Adjusted.Inc()
		log.Printf("adjuster: %s pass: programme %s adjusted %.1f L -> %.1f L (x%.3f: %s)", pass, id,
			original, decision.Programme.VolumeLiters, decision.Multiplier, decision.Reason)
	case outcomePostponed:
		a.stats.Postponed.Inc()
		log.Printf("adjuster: %s pass: programme %s postponed to %s (%s; multiplier x%.3f discarded)", pass, id,
			decision.Programme.PlannedAt.Format(time.RFC3339), decision.Reason, decision.Multiplier)
	}
	return result
}

func indexByDate(fs []weather.DailyForecast) map[string]weather.DailyForecast {
	out := make(map[string]weather.DailyForecast, len(fs))
	for _, f := range fs {
		out[f.Date.Format(time.DateOnly)] = f
	}
	return out
}
