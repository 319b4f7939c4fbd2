package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/us-weather-agent/internal/client"
	"github.com/kjstillabower/us-weather-agent/internal/models"
	"github.com/kjstillabower/us-weather-agent/internal/observability"
	"github.com/kjstillabower/us-weather-agent/internal/traffic"
)

// Lookup outcomes used as metric labels (weatherLookupsTotal).
const (
	OutcomeSuccess        = "success"
	OutcomeNotFound       = "not_found"
	OutcomeNotUS          = "not_us"
	OutcomeNetworkFailure = "network_failure"
	OutcomeMalformed      = "malformed"
	OutcomeCanceled       = "canceled"
	OutcomePanic          = "panic"
)

// LookupError records which lookup step failed for which city.
type LookupError struct {
	City string
	Op   string
	Err  error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.City, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// WeatherLookupService composes location resolution and the conditions fetch into a
// report. It keeps no state between calls; each lookup hits the upstream afresh.
type WeatherLookupService struct {
	resolver client.LocationResolver
	fetcher  client.ConditionsFetcher
	tracker  *traffic.Tracker
}

// NewWeatherLookupService creates a WeatherLookupService. tracker may be nil; when set it
// receives one outcome per lookup for the health check.
func NewWeatherLookupService(resolver client.LocationResolver, fetcher client.ConditionsFetcher, tracker *traffic.Tracker) *WeatherLookupService {
	return &WeatherLookupService{
		resolver: resolver,
		fetcher:  fetcher,
		tracker:  tracker,
	}
}

// Lookup resolves city and fetches its current conditions. Errors wrap the client
// sentinels (ErrNotFound, ErrNotUnitedStates, ErrNetworkFailure, ErrMalformedResponse).
func (s *WeatherLookupService) Lookup(ctx context.Context, city string) (models.WeatherReport, error) {
	city = strings.TrimSpace(city)
	start := time.Now()
	logger := observability.LoggerFromContext(ctx)

	loc, err := s.resolver.Resolve(ctx, city)
	if err != nil {
		s.record(err)
		logger.Debug("location lookup failed", zap.String("city", city), zap.Error(err))
		return models.WeatherReport{}, &LookupError{City: city, Op: "resolve", Err: err}
	}
	logger.Debug("location resolved",
		zap.String("city", city),
		zap.String("name", loc.Name),
		zap.String("admin1", loc.Admin1),
		zap.Float64("latitude", loc.Latitude),
		zap.Float64("longitude", loc.Longitude),
	)

	cond, err := s.fetcher.Fetch(ctx, loc.Latitude, loc.Longitude)
	if err != nil {
		s.record(err)
		logger.Debug("conditions fetch failed", zap.String("city", city), zap.Error(err))
		return models.WeatherReport{}, &LookupError{City: city, Op: "fetch conditions", Err: err}
	}

	s.record(nil)
	logger.Debug("weather served", zap.String("city", city), zap.Duration("duration", time.Since(start)))
	return models.WeatherReport{
		City:        city,
		State:       loc.Admin1,
		Country:     loc.Country,
		Conditions:  cond,
		Description: client.DescribeWeatherCode(cond.WeatherCode),
	}, nil
}

// GetWeather returns the formatted report for city, or the user-facing message for
// whatever went wrong. It never panics and never returns an error.
func (s *WeatherLookupService) GetWeather(ctx context.Context, city string) (text string) {
	city = strings.TrimSpace(city)
	defer func() {
		if r := recover(); r != nil {
			observability.WeatherLookupsTotal.WithLabelValues(OutcomePanic).Inc()
			s.tracker.RecordError()
			observability.LoggerFromContext(ctx).Error("weather lookup panicked",
				zap.String("city", city), zap.Any("panic", r))
			text = fmt.Sprintf("Error processing weather data: %v", r)
		}
	}()

	report, err := s.Lookup(ctx, city)
	if err != nil {
		return Message(city, err)
	}
	return report.String()
}

// Message renders a lookup error as the text shown to users.
func Message(city string, err error) string {
	switch {
	case errors.Is(err, client.ErrNotFound):
		return fmt.Sprintf("City '%s' not found. Please check the spelling and try again.", city)
	case errors.Is(err, client.ErrNotUnitedStates):
		return fmt.Sprintf("Sorry, '%s' is not a US city. This weather agent only provides weather information for US cities. Please enter a US city name.", city)
	case errors.Is(err, client.ErrNetworkFailure):
		return fmt.Sprintf("Error fetching weather data: %v", rootCause(err))
	default:
		return fmt.Sprintf("Error processing weather data: %v", rootCause(err))
	}
}

// rootCause drops the LookupError framing so the message carries the client's error text only.
func rootCause(err error) error {
	var lookupErr *LookupError
	if errors.As(err, &lookupErr) {
		return lookupErr.Err
	}
	return err
}

func (s *WeatherLookupService) record(err error) {
	outcome := outcomeLabel(err)
	observability.WeatherLookupsTotal.WithLabelValues(outcome).Inc()
	switch outcome {
	case OutcomeCanceled:
		// caller abandoned the lookup; not an upstream outcome
	case OutcomeNetworkFailure, OutcomeMalformed:
		s.tracker.RecordError()
	default:
		s.tracker.RecordSuccess()
	}
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, context.Canceled):
		return OutcomeCanceled
	case errors.Is(err, client.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, client.ErrNotUnitedStates):
		return OutcomeNotUS
	case errors.Is(err, client.ErrMalformedResponse):
		return OutcomeMalformed
	default:
		return OutcomeNetworkFailure
	}
}
