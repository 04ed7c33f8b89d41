package irrigation

import (
	"math"

	"github.com/i474232898/irrigation-scheduler/internal/weather"
)

// Advice is an operator hint attached to a daily forecast.
type Advice struct {
	Favourable      bool    `json:"favourable"`
	SuggestedLiters float64 `json:"suggestedLiters"`
}

// Advise reports whether a day is favourable for irrigation (little rain,
// moderate wind, safe temperature) and suggests a base volume for new
// programmes on that day. Missing values do not count against the day.
func Advise(f weather.DailyForecast) Advice {
	noHeavyRain := f.Precipitation == nil || *f.Precipitation < 10
	notTooWindy := f.Wind == nil || *f.Wind < 25
	tempOK := f.TemperatureMax == nil || (*f.TemperatureMax > 10 && *f.TemperatureMax < 40)

	volume := 50.0
	if f.Precipitation != nil && *f.Precipitation > 0 {
		volume -= *f.Precipitation * 2
	}
	if f.TemperatureMax != nil && *f.TemperatureMax > 25 {
		volume += volume * ((*f.TemperatureMax - 25) / 10 * 0.1)
	}

	return Advice{
		Favourable:      noHeavyRain && notTooWindy && tempOK,
		SuggestedLiters: math.Max(20, math.Min(volume, 150)),
	}
}
