package irrigation

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/i474232898/irrigation-scheduler/internal/common"
	"github.com/i474232898/irrigation-scheduler/internal/weather"
)

const (
	// DefaultPostponeShift is how far a postponed programme moves.
	DefaultPostponeShift = 48 * time.Hour

	rainPostponeAbove = 15.0 // mm
	windPostponeAbove = 30.0 // km/h

	minVolumeRatio = 0.2
	maxVolumeRatio = 2.0
	noChangeBand   = 0.01
)

// tier maps values strictly above a threshold to a factor. Tiers are listed
// from the highest threshold down.
type tier struct {
	above  float64
	factor float64
}

var (
	rainTiers = []tier{{25, 0.20}, {15, 0.40}, {5, 0.70}}
	windTiers = []tier{{40, 1.40}, {30, 1.30}, {20, 1.15}}
	tempTiers = []tier{{40, 1.50}, {35, 1.35}, {30, 1.20}}
)

func factorFor(v *float64, tiers []tier) float64 {
	if v == nil {
		return 1.0
	}
	for _, t := range tiers {
		if *v > t.above {
			return t.factor
		}
	}
	return 1.0
}

// Action is what the engine decided for one programme.
type Action int

const (
	ActionNone Action = iota
	ActionSkip
	ActionAdjust
	ActionPostpone
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionSkip:
		return "skip"
	case ActionAdjust:
		return "adjust"
	case ActionPostpone:
		return "postpone"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Factors are the per-rule multipliers.
type Factors struct {
	Rain        float64 `json:"rain"`
	Wind        float64 `json:"wind"`
	Temperature float64 `json:"temperature"`
}

// Decision is the outcome of evaluating a programme against a forecast.
// Programme holds the resulting state; it equals the input unless Action is
// ActionAdjust or ActionPostpone.
type Decision struct {
	Action     Action
	Factors    Factors
	Multiplier float64
	Postpone   bool
	Reason     string
	Programme  Programme
}

// Changed reports whether the programme must be written back.
func (d Decision) Changed() bool {
	return d.Action == ActionAdjust || d.Action == ActionPostpone
}

// Engine applies the weather rules to programmes.
type Engine struct {
	postponeShift time.Duration
	loc           *time.Location
}

// NewEngine creates an Engine. loc maps planned timestamps to calendar dates;
// nil means UTC. A non-positive shift falls back to DefaultPostponeShift.
func NewEngine(postponeShift time.Duration, loc *time.Location) Engine {
	if postponeShift <= 0 {
		postponeShift = DefaultPostponeShift
	}
	if loc == nil {
		loc = time.UTC
	}
	return Engine{postponeShift: postponeShift, loc: loc}
}

// DateOf returns the calendar date a programme is planned for.
func (e Engine) DateOf(p Programme) time.Time {
	return common.DateOf(p.PlannedAt, e.loc)
}

// postpone moves t by the postpone shift. Whole-day shifts move by calendar
// days in the engine's zone so the wall-clock time survives DST changes.
func (e Engine) postpone(t time.Time) time.Time {
	const day = 24 * time.Hour
	if e.postponeShift%day != 0 {
		return t.Add(e.postponeShift)
	}
	days := int(e.postponeShift / day)
	return t.In(e.loc).AddDate(0, 0, days).In(t.Location())
}

// Decide evaluates p against f. f may be nil or for another date, in which
// case nothing changes.
func (e Engine) Decide(p Programme, f *weather.DailyForecast) Decision {
	d := Decision{Action: ActionNone, Multiplier: 1, Factors: Factors{1, 1, 1}, Programme: p}

	if p.Status.Terminal() {
		d.Action = ActionSkip
		d.Reason = fmt.Sprintf("status %s is terminal", p.Status)
		return d
	}
	if p.VolumeLiters <= 0 {
		d.Action = ActionSkip
		d.Reason = fmt.Sprintf("invalid planned volume %.2f", p.VolumeLiters)
		return d
	}
	if f == nil || !f.Date.Equal(e.DateOf(p)) {
		d.Reason = "no forecast for planned date"
		return d
	}

	var reasons []string

	// Multipliers are computed even when postponement discards them so the
	// decision log stays complete.
	d.Factors.Rain = factorFor(f.Precipitation, rainTiers)
	if d.Factors.Rain != 1 {
		reasons = append(reasons, fmt.Sprintf("rain %.1f mm (x%.2f)", *f.Precipitation, d.Factors.Rain))
	}
	if f.Precipitation != nil && *f.Precipitation > rainPostponeAbove {
		d.Postpone = true
		reasons = append(reasons, "heavy rain")
	}

	d.Factors.Wind = factorFor(f.Wind, windTiers)
	if d.Factors.Wind != 1 {
		reasons = append(reasons, fmt.Sprintf("wind %.1f km/h (x%.2f)", *f.Wind, d.Factors.Wind))
	}
	if f.Wind != nil && *f.Wind > windPostponeAbove {
		d.Postpone = true
		reasons = append(reasons, "strong wind")
	}

	d.Factors.Temperature = factorFor(f.TemperatureMax, tempTiers)
	if d.Factors.Temperature != 1 {
		reasons = append(reasons, fmt.Sprintf("temperature %.1f °C (x%.2f)", *f.TemperatureMax, d.Factors.Temperature))
	}

	d.Multiplier = d.Factors.Rain * d.Factors.Wind * d.Factors.Temperature
	d.Reason = strings.Join(reasons, ", ")

	switch {
	case d.Postpone:
		d.Action = ActionPostpone
		d.Programme.PlannedAt = e.postpone(p.PlannedAt)
		d.Programme.Status = StatusReplanned
	case math.Abs(d.Multiplier-1) > noChangeBand:
		original := p.VolumeLiters
		volume := original * d.Multiplier
		volume = math.Max(original*minVolumeRatio, math.Min(volume, original*maxVolumeRatio))

		d.Action = ActionAdjust
		d.Programme.VolumeLiters = volume
		d.Programme.Status = StatusAdjusted
	default:
		if d.Reason == "" {
			d.Reason = "within tolerance"
		}
	}
	return d
}
