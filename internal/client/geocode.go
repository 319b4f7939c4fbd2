package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/kjstillabower/us-weather-agent/internal/models"
)

type geocodingResponse struct {
	Results []geocodingResult `json:"results"`
}

// Coordinates are pointers so a candidate without them can be told apart from (0, 0).
type geocodingResult struct {
	Name        string   `json:"name"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Country     string   `json:"country"`
	CountryCode string   `json:"country_code"`
	Admin1      string   `json:"admin1"`
}

// Resolve geocodes city and returns the first US candidate in upstream order.
func (c *OpenMeteoClient) Resolve(ctx context.Context, city string) (models.ResolvedLocation, error) {
	params := url.Values{}
	params.Set("name", city)
	params.Set("count", "10")
	params.Set("language", "en")
	params.Set("format", "json")
	params.Set("admin_divisions", "true")

	body, err := c.get(ctx, EndpointGeocoding, c.geocodingURL, params, c.geocodingTimeout, c.geocodingBreaker)
	if err != nil {
		return models.ResolvedLocation{}, err
	}

	var resp geocodingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.ResolvedLocation{}, fmt.Errorf("%w: parse geocoding response: %w", ErrMalformedResponse, err)
	}
	if len(resp.Results) == 0 {
		return models.ResolvedLocation{}, fmt.Errorf("%w: %q", ErrNotFound, city)
	}

	for _, r := range resp.Results {
		candidate := models.GeoCandidate{
			Name:        r.Name,
			Country:     r.Country,
			CountryCode: r.CountryCode,
			Admin1:      r.Admin1,
		}
		if !IsUnitedStates(candidate) {
			continue
		}
		if r.Latitude == nil || r.Longitude == nil {
			return models.ResolvedLocation{}, fmt.Errorf("%w: candidate %q has no coordinates", ErrMalformedResponse, r.Name)
		}
		candidate.Latitude = *r.Latitude
		candidate.Longitude = *r.Longitude
		return models.ResolvedLocation{GeoCandidate: candidate}, nil
	}

	return models.ResolvedLocation{}, fmt.Errorf("%w: %q", ErrNotUnitedStates, city)
}

// IsUnitedStates reports whether a candidate is in the US: country code "US", or a
// country name containing "UNITED STATES" or "USA" (case-insensitive).
func IsUnitedStates(c models.GeoCandidate) bool {
	if strings.ToUpper(strings.TrimSpace(c.CountryCode)) == "US" {
		return true
	}
	country := strings.ToUpper(c.Country)
	return strings.Contains(country, "UNITED STATES") || strings.Contains(country, "USA")
}
