package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/kjstillabower/us-weather-agent/internal/observability"
	"github.com/kjstillabower/us-weather-agent/internal/validation"
)

const (
	WeatherToolName       = "weather_tool"
	ValidateQueryToolName = "validate_weather_query"
)

// WeatherGetter returns the user-facing weather text for a city.
type WeatherGetter interface {
	GetWeather(ctx context.Context, city string) string
}

// WeatherRequest is the weather_tool input.
type WeatherRequest struct {
	City string `json:"city" jsonschema:"Name of a US city, e.g. Denver or San Francisco. Do not include the state."`
}

// WeatherTool looks up current weather for a US city.
type WeatherTool struct {
	weather        WeatherGetter
	minLen, maxLen int
}

// NewWeatherTool returns weather_tool backed by weather. City arguments are bounded to
// [minLen, maxLen] runes.
func NewWeatherTool(weather WeatherGetter, minLen, maxLen int) *WeatherTool {
	return &WeatherTool{weather: weather, minLen: minLen, maxLen: maxLen}
}

func (*WeatherTool) Name() string { return WeatherToolName }

func (*WeatherTool) Description() string {
	return "Get current weather information for a US city. " +
		"Returns temperature, conditions, humidity and wind speed, or an explanation " +
		"when the city cannot be found or is not in the United States."
}

func (*WeatherTool) Schema() (*jsonschema.Schema, error) {
	return jsonschema.For[WeatherRequest](nil)
}

func (t *WeatherTool) Run(ctx context.Context, input json.RawMessage) (string, error) {
	var req WeatherRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	city, err := validation.ValidateCity(req.City, t.minLen, t.maxLen)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return t.weather.GetWeather(ctx, city), nil
}

// ValidateQueryRequest is the validate_weather_query input.
type ValidateQueryRequest struct {
	UserQuery string `json:"user_query" jsonschema:"The user's question, verbatim."`
}

// ValidateQueryTool checks that a question asks about weather in a US city.
type ValidateQueryTool struct {
	classifier *validation.Classifier
}

// NewValidateQueryTool returns validate_weather_query using classifier.
func NewValidateQueryTool(classifier *validation.Classifier) *ValidateQueryTool {
	return &ValidateQueryTool{classifier: classifier}
}

func (*ValidateQueryTool) Name() string { return ValidateQueryToolName }

func (*ValidateQueryTool) Description() string {
	return "Validate that the user query is about weather in a US city. " +
		"Returns 'valid', or 'invalid: <reason>'. Call this before weather_tool."
}

func (*ValidateQueryTool) Schema() (*jsonschema.Schema, error) {
	return jsonschema.For[ValidateQueryRequest](nil)
}

func (t *ValidateQueryTool) Run(_ context.Context, input json.RawMessage) (string, error) {
	var req ValidateQueryRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	res := t.classifier.Classify(req.UserQuery)
	observability.QueryClassificationsTotal.WithLabelValues(string(res.Reason)).Inc()
	return verdict(res.Reason), nil
}

func verdict(r validation.Reason) string {
	switch r {
	case validation.ReasonOk:
		return "valid"
	case validation.ReasonMathExpression:
		return "invalid: Query is a math expression"
	case validation.ReasonNoWeatherKeyword:
		return "invalid: Query doesn't mention weather"
	default:
		return "invalid: No US city mentioned in query"
	}
}

// Defaults returns the standard weather toolkit.
func Defaults(weather WeatherGetter, minCityLen, maxCityLen int) (*Toolkit, error) {
	return NewToolkit(
		NewValidateQueryTool(validation.NewClassifier(validation.LenientPolicy())),
		NewWeatherTool(weather, minCityLen, maxCityLen),
	)
}
