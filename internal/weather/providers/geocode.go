package providers

import (
	"fmt"
	"log"
	"sync"

	"github.com/kelvins/geocoder"

	"github.com/i474232898/irrigation-scheduler/internal/weather"
)

var geocodeMu sync.Mutex

// geocodeFunc is swapped in tests.
var geocodeFunc = geocoder.Geocoding

// ResolveStations fills in coordinates for stations configured by city.
// Stations that already carry coordinates are returned unchanged.
func ResolveStations(apiKey string, stations []weather.Station) ([]weather.Station, error) {
	out := make([]weather.Station, 0, len(stations))
	for _, st := range stations {
		if st.Coordinates != nil {
			out = append(out, st)
			continue
		}
		if apiKey == "" {
			return nil, fmt.Errorf("%s is configured by city but GEOCODER_API_KEY is empty", st.Key())
		}

		loc, err := geocode(apiKey, geocoder.Address{City: st.City, Country: st.Country})
		if err != nil {
			return nil, fmt.Errorf("geocode %s (%s, %s): %w", st.Key(), st.City, st.Country, err)
		}
		st.Coordinates = &weather.Coordinates{Lat: loc.Latitude, Lon: loc.Longitude}
		log.Printf("INFO: geocoded %s (%s, %s) to %.4f,%.4f", st.Key(), st.City, st.Country, loc.Latitude, loc.Longitude)
		out = append(out, st)
	}
	return out, nil
}

// geocode serialises access to the package-level API key of the geocoder library.
func geocode(apiKey string, addr geocoder.Address) (geocoder.Location, error) {
	geocodeMu.Lock()
	defer geocodeMu.Unlock()

	geocoder.ApiKey = apiKey
	return geocodeFunc(addr)
}
