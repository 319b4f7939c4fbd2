package models

import (
	"fmt"
	"strconv"
	"strings"
)

// GeoCandidate is one geocoding search result as returned by the upstream.
type GeoCandidate struct {
	Name        string  `json:"name"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	Admin1      string  `json:"admin1"`
}

// ResolvedLocation is a GeoCandidate known to be in the United States.
type ResolvedLocation struct {
	GeoCandidate
}

// Reading is a single measurement that may be missing from the upstream response.
type Reading struct {
	Value float64
	Valid bool
}

// NewReading returns a Reading for v, invalid when v is nil.
func NewReading(v *float64) Reading {
	if v == nil {
		return Reading{}
	}
	return Reading{Value: *v, Valid: true}
}

// String renders the shortest decimal form of the value with at least one fractional
// digit (20 renders as "20.0"), or "N/A" when missing.
func (r Reading) String() string {
	if !r.Valid {
		return "N/A"
	}
	s := strconv.FormatFloat(r.Value, 'f', -1, 64)
	if !strings.ContainsAny(s, ".IN") {
		s += ".0"
	}
	return s
}

// CurrentConditions holds current weather for a coordinate pair. Never cached.
type CurrentConditions struct {
	Temperature Reading // Celsius
	Humidity    Reading // percent
	WindSpeed   Reading // km/h
	WeatherCode *int
}

// WeatherReport is the final lookup result for a city.
type WeatherReport struct {
	City        string
	State       string
	Country     string
	Conditions  CurrentConditions
	Description string
}

// String formats the report in the multi-line form shown to users and tool runtimes.
func (r WeatherReport) String() string {
	return fmt.Sprintf("Weather Information for %s, %s, %s:\n- Temperature: %s°C\n- Condition: %s\n- Humidity: %s%%\n- Wind Speed: %s km/h",
		r.City, r.State, r.Country,
		r.Conditions.Temperature,
		r.Description,
		r.Conditions.Humidity,
		r.Conditions.WindSpeed,
	)
}
