package chat

import (
	"context"
	"errors"

	"github.com/kjstillabower/us-weather-agent/internal/validation"
)

// ErrNoCity is returned when an accepted query carries no usable city phrase.
var ErrNoCity = errors.New("could not find a city in the question")

// WeatherGetter returns the user-facing weather text for a city.
type WeatherGetter interface {
	GetWeather(ctx context.Context, city string) string
}

// Direct answers without a language model: it takes the city phrase the classifier
// found and looks the weather up directly.
type Direct struct {
	Weather WeatherGetter
	// Classifier is used only by Respond, when no classification is supplied.
	Classifier *validation.Classifier
}

// Respond classifies text itself. Callers that already classified should use Answer.
func (d *Direct) Respond(ctx context.Context, text string) (string, error) {
	c := d.Classifier
	if c == nil {
		c = validation.NewClassifier(validation.DefaultPolicy())
	}
	return d.RespondClassified(ctx, text, c.Classify(text))
}

// RespondClassified answers from an existing classification without re-running it.
func (d *Direct) RespondClassified(ctx context.Context, _ string, res validation.ClassificationResult) (string, error) {
	if !res.Accepted {
		return Refusal, nil
	}
	if res.CityHint == "" {
		return "", ErrNoCity
	}
	return d.Weather.GetWeather(ctx, res.CityHint), nil
}
