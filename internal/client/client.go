package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kjstillabower/us-weather-agent/internal/circuitbreaker"
	"github.com/kjstillabower/us-weather-agent/internal/models"
	"github.com/kjstillabower/us-weather-agent/internal/observability"
)

// LocationResolver turns a free-form city name into a US location.
type LocationResolver interface {
	Resolve(ctx context.Context, city string) (models.ResolvedLocation, error)
}

// ConditionsFetcher returns current conditions for a coordinate pair.
type ConditionsFetcher interface {
	Fetch(ctx context.Context, latitude, longitude float64) (models.CurrentConditions, error)
}

var (
	ErrNotFound          = errors.New("location not found")
	ErrNotUnitedStates   = errors.New("location is not in the United States")
	ErrNetworkFailure    = errors.New("network failure")
	ErrMalformedResponse = errors.New("malformed upstream response")
)

const (
	EndpointGeocoding = "geocoding"
	EndpointForecast  = "forecast"

	DefaultGeocodingURL     = "https://geocoding-api.open-meteo.com/v1/search"
	DefaultForecastURL      = "https://api.open-meteo.com/v1/forecast"
	DefaultGeocodingTimeout = 10 * time.Second
	DefaultForecastTimeout  = 5 * time.Second
)

// StatusError reports a non-2xx upstream response. It unwraps to ErrNetworkFailure.
type StatusError struct {
	Endpoint   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s returned HTTP %d", ErrNetworkFailure, e.Endpoint, e.StatusCode)
}

func (e *StatusError) Unwrap() error { return ErrNetworkFailure }

// Options configures an OpenMeteoClient. Zero values fall back to the public endpoints
// and default timeouts.
type Options struct {
	GeocodingURL     string
	ForecastURL      string
	GeocodingTimeout time.Duration
	ForecastTimeout  time.Duration
	HTTPClient       *http.Client

	// Optional fail-fast guards. A nil breaker lets every call through.
	GeocodingBreaker *circuitbreaker.CircuitBreaker
	ForecastBreaker  *circuitbreaker.CircuitBreaker
}

// OpenMeteoClient implements LocationResolver and ConditionsFetcher against Open-Meteo.
// It holds no per-request state and is safe for concurrent use. Calls are never retried.
type OpenMeteoClient struct {
	geocodingURL     *url.URL
	forecastURL      *url.URL
	geocodingTimeout time.Duration
	forecastTimeout  time.Duration
	client           *http.Client
	geocodingBreaker *circuitbreaker.CircuitBreaker
	forecastBreaker  *circuitbreaker.CircuitBreaker
}

var (
	_ LocationResolver  = (*OpenMeteoClient)(nil)
	_ ConditionsFetcher = (*OpenMeteoClient)(nil)
)

func NewOpenMeteoClient(opts Options) (*OpenMeteoClient, error) {
	if opts.GeocodingURL == "" {
		opts.GeocodingURL = DefaultGeocodingURL
	}
	if opts.ForecastURL == "" {
		opts.ForecastURL = DefaultForecastURL
	}
	if opts.GeocodingTimeout <= 0 {
		opts.GeocodingTimeout = DefaultGeocodingTimeout
	}
	if opts.ForecastTimeout <= 0 {
		opts.ForecastTimeout = DefaultForecastTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}

	geoURL, err := parseEndpoint(opts.GeocodingURL)
	if err != nil {
		return nil, fmt.Errorf("geocoding URL: %w", err)
	}
	forecastURL, err := parseEndpoint(opts.ForecastURL)
	if err != nil {
		return nil, fmt.Errorf("forecast URL: %w", err)
	}

	return &OpenMeteoClient{
		geocodingURL:     geoURL,
		forecastURL:      forecastURL,
		geocodingTimeout: opts.GeocodingTimeout,
		forecastTimeout:  opts.ForecastTimeout,
		client:           opts.HTTPClient,
		geocodingBreaker: opts.GeocodingBreaker,
		forecastBreaker:  opts.ForecastBreaker,
	}, nil
}

func parseEndpoint(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u, nil
}

// get performs a single GET through the endpoint's breaker and returns the body of a 2xx response.
// Every failure it returns wraps ErrNetworkFailure.
func (c *OpenMeteoClient) get(ctx context.Context, endpoint string, base *url.URL, params url.Values,
	timeout time.Duration, breaker *circuitbreaker.CircuitBreaker) ([]byte, error) {
	var body []byte
	err := breaker.Execute(func() error {
		var callErr error
		body, callErr = c.do(ctx, endpoint, base, params, timeout)
		return callErr
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		observability.UpstreamErrorsTotal.WithLabelValues(endpoint, string(ErrorCategoryCircuitOpen)).Inc()
		return nil, fmt.Errorf("%w: %s: %w", ErrNetworkFailure, endpoint, err)
	}
	return body, err
}

func (c *OpenMeteoClient) do(ctx context.Context, endpoint string, base *url.URL, params url.Values,
	timeout time.Duration) ([]byte, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u := *base
	u.RawQuery = params.Encode()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, c.fail(endpoint, start, "error", fmt.Errorf("%w: build %s request: %w", ErrNetworkFailure, endpoint, err))
	}
	req.Header.Set("Accept", "application/json")
	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, c.fail(endpoint, start, "timeout", fmt.Errorf("%w: %s request timed out after %s: %w", ErrNetworkFailure, endpoint, timeout, err))
		}
		return nil, c.fail(endpoint, start, "error", fmt.Errorf("%w: %s request: %w", ErrNetworkFailure, endpoint, err))
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, c.fail(endpoint, start, status, &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode})
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.fail(endpoint, start, "error", fmt.Errorf("%w: read %s response: %w", ErrNetworkFailure, endpoint, err))
	}

	observability.UpstreamCallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.UpstreamDuration.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())
	return body, nil
}

func (c *OpenMeteoClient) fail(endpoint string, start time.Time, status string, err error) error {
	observability.UpstreamCallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.UpstreamDuration.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())
	observability.UpstreamErrorsTotal.WithLabelValues(endpoint, string(CategorizeError(err))).Inc()
	return err
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
