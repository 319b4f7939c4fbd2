package client

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"

	"github.com/kjstillabower/us-weather-agent/internal/models"
)

const currentFields = "temperature_2m,relative_humidity_2m,weather_code,wind_speed_10m"

type forecastResponse struct {
	Current *struct {
		Temperature *float64 `json:"temperature_2m"`
		Humidity    *float64 `json:"relative_humidity_2m"`
		WeatherCode *float64 `json:"weather_code"`
		WindSpeed   *float64 `json:"wind_speed_10m"`
	} `json:"current"`
}

// Fetch returns current conditions at the given coordinates. Temperature is Celsius,
// wind speed km/h (the upstream default). Missing fields become invalid readings.
func (c *OpenMeteoClient) Fetch(ctx context.Context, latitude, longitude float64) (models.CurrentConditions, error) {
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(latitude, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(longitude, 'f', -1, 64))
	params.Set("current", currentFields)
	params.Set("temperature_unit", "celsius")

	body, err := c.get(ctx, EndpointForecast, c.forecastURL, params, c.forecastTimeout, c.forecastBreaker)
	if err != nil {
		return models.CurrentConditions{}, err
	}

	var resp forecastResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.CurrentConditions{}, fmt.Errorf("%w: parse forecast response: %w", ErrMalformedResponse, err)
	}
	if resp.Current == nil {
		return models.CurrentConditions{}, fmt.Errorf("%w: forecast response has no current conditions", ErrMalformedResponse)
	}

	cur := resp.Current
	return models.CurrentConditions{
		Temperature: models.NewReading(cur.Temperature),
		Humidity:    models.NewReading(cur.Humidity),
		WindSpeed:   models.NewReading(cur.WindSpeed),
		WeatherCode: weatherCode(cur.WeatherCode),
	}, nil
}

// weatherCode accepts integral JSON numbers only; anything else is treated as missing.
func weatherCode(v *float64) *int {
	if v == nil || *v != math.Trunc(*v) {
		return nil
	}
	code := int(*v)
	return &code
}
