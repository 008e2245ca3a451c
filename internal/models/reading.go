package models

import "time"

// TemperatureReading is one extracted temperature observation for a region.
// A station usually reports several element types (e.g. daily min, max,
// average), so (Location, ElementType) identifies a reading within a refresh.
type TemperatureReading struct {
	Location    string    `json:"location" csv:"location" validate:"required"`
	ElementType string    `json:"elementType" csv:"element_type" validate:"required"`
	Temperature float64   `json:"temperature" csv:"temperature" validate:"gte=-90,lte=60"`
	Latitude    float64   `json:"latitude" csv:"latitude" validate:"gte=-90,lte=90"`
	Longitude   float64   `json:"longitude" csv:"longitude" validate:"gte=-180,lte=180"`
	ObservedAt  time.Time `json:"observedAt" csv:"observed_at"`
}

// HasCoordinates reports whether the reading carries a usable map position.
// Readings for locations missing from the coordinate table keep (0, 0) and
// are listed in tables but not plotted.
func (r TemperatureReading) HasCoordinates() bool {
	return r.Latitude != 0 || r.Longitude != 0
}

// LocationSummary is the pivoted view of one location: every temperature
// element type keyed by name, plus coordinates for the map marker.
type LocationSummary struct {
	Location     string             `json:"location"`
	Latitude     float64            `json:"latitude"`
	Longitude    float64            `json:"longitude"`
	Temperatures map[string]float64 `json:"temperatures"`
	ObservedAt   time.Time          `json:"observedAt"`
}
