package geo

import (
	"sync"

	"github.com/kelvins/geocoder"
)

// Coordinate is a WGS84 map position.
type Coordinate struct {
	Latitude  float64
	Longitude float64
}

// stationCoords holds approximate coordinates for the regional stations the
// CWA county forecast reports on. The dataset itself carries no positions,
// so markers are placed from this table.
var stationCoords = map[string]Coordinate{
	"宜蘭": {Latitude: 24.746, Longitude: 121.745},
	"花蓮": {Latitude: 23.971, Longitude: 121.605},
	"臺東": {Latitude: 22.758, Longitude: 121.144},
	"臺北": {Latitude: 25.033, Longitude: 121.565},
	"新竹": {Latitude: 24.813, Longitude: 120.966},
	"臺中": {Latitude: 24.147, Longitude: 120.673},
	"嘉義": {Latitude: 23.480, Longitude: 120.449},
	"高雄": {Latitude: 22.627, Longitude: 120.301},
	"恆春": {Latitude: 22.004, Longitude: 120.744},
}

// Lookup returns the static coordinate for a station name.
func Lookup(name string) (Coordinate, bool) {
	c, ok := stationCoords[name]
	return c, ok
}

// Resolver resolves station names to coordinates: the static table first,
// then an optional Google geocoder fallback for names the table misses.
// Geocoder results are memoized, including misses, so each unknown name
// costs at most one outbound call per process.
type Resolver struct {
	mu       sync.Mutex
	resolved map[string]Coordinate
	misses   map[string]struct{}
	geocode  bool
}

// NewResolver returns a Resolver. When apiKey is empty the geocoder fallback
// is disabled and only the static table is consulted.
func NewResolver(apiKey string) *Resolver {
	if apiKey != "" {
		geocoder.ApiKey = apiKey
	}
	return &Resolver{
		resolved: make(map[string]Coordinate),
		misses:   make(map[string]struct{}),
		geocode:  apiKey != "",
	}
}

// Resolve returns coordinates for a station name, or ok=false when neither
// the table nor the geocoder knows it. Unresolved stations keep (0, 0).
func (r *Resolver) Resolve(name string) (Coordinate, bool) {
	if c, ok := Lookup(name); ok {
		return c, true
	}
	if !r.geocode {
		return Coordinate{}, false
	}

	r.mu.Lock()
	if c, ok := r.resolved[name]; ok {
		r.mu.Unlock()
		return c, true
	}
	if _, missed := r.misses[name]; missed {
		r.mu.Unlock()
		return Coordinate{}, false
	}
	r.mu.Unlock()

	addr := geocoder.Address{City: name, Country: "Taiwan"}
	loc, err := geocoder.Geocoding(addr)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.misses[name] = struct{}{}
		return Coordinate{}, false
	}
	c := Coordinate{Latitude: loc.Latitude, Longitude: loc.Longitude}
	r.resolved[name] = c
	return c, true
}
