package weather

import (
	"iter"
	"log"
	"math"
	"time"

	"github.com/i474232898/irrigation-scheduler/internal/common"
)

type dailyAccumulator struct {
	date       time.Time
	maxTemp    float64
	minTemp    float64
	tempCount  int
	rainSum    float64
	rainCount  int
	windSum    float64
	windCount  int
	contribute int
}

func (a *dailyAccumulator) add(temp, rain, wind *float64) {
	had := false
	if temp != nil {
		if a.tempCount == 0 {
			a.maxTemp, a.minTemp = *temp, *temp
		} else {
			a.maxTemp = math.Max(a.maxTemp, *temp)
			a.minTemp = math.Min(a.minTemp, *temp)
		}
		a.tempCount++
		had = true
	}
	if rain != nil {
		a.rainSum += *rain
		a.rainCount++
		had = true
	}
	if wind != nil {
		a.windSum += *wind
		a.windCount++
		had = true
	}
	if had {
		a.contribute++
	}
}

func (a *dailyAccumulator) forecast(stationID int64) DailyForecast {
	f := DailyForecast{StationID: stationID, Date: a.date}
	if a.tempCount > 0 {
		f.TemperatureMax = Float(common.Round1(a.maxTemp))
		f.TemperatureMin = Float(common.Round1(a.minTemp))
	}
	if a.rainCount > 0 {
		f.Precipitation = Float(common.Round1(a.rainSum))
	}
	if a.windCount > 0 {
		f.Wind = Float(common.Round1(a.windSum / float64(a.windCount)))
	}
	return f
}

// AggregateHourly turns an hourly series into one DailyForecast per calendar
// date, in first-encounter order. Mismatched array lengths yield an empty
// sequence; samples with an unparsable timestamp are skipped. Dates without
// any contributing value are dropped. Values are rounded to one decimal.
func AggregateHourly(stationID int64, series HourlySeries) iter.Seq[DailyForecast] {
	return func(yield func(DailyForecast) bool) {
		n := series.Len()
		if n < 0 {
			log.Printf("WARN: aggregate: station %d size mismatch: time=%d temp=%d rain=%d wind=%d",
				stationID, len(series.Times), len(series.Temperature), len(series.Precipitation), len(series.Wind))
			return
		}

		var order []*dailyAccumulator
		byDate := make(map[time.Time]*dailyAccumulator)
		for i := 0; i < n; i++ {
			date, err := common.ParseDate(series.Times[i])
			if err != nil {
				log.Printf("WARN: aggregate: cannot parse time value %q: %v", series.Times[i], err)
				continue
			}
			acc, ok := byDate[date]
			if !ok {
				acc = &dailyAccumulator{date: date}
				byDate[date] = acc
				order = append(order, acc)
			}
			acc.add(series.Temperature[i], series.Precipitation[i], series.Wind[i])
		}

		for _, acc := range order {
			if acc.contribute == 0 {
				continue
			}
			if !yield(acc.forecast(stationID)) {
				return
			}
		}
	}
}
