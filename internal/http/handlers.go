package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/us-weather-agent/internal/chat"
	"github.com/kjstillabower/us-weather-agent/internal/client"
	"github.com/kjstillabower/us-weather-agent/internal/models"
	"github.com/kjstillabower/us-weather-agent/internal/observability"
	"github.com/kjstillabower/us-weather-agent/internal/service"
	"github.com/kjstillabower/us-weather-agent/internal/traffic"
	"github.com/kjstillabower/us-weather-agent/internal/validation"
)

const serviceName = "us-weather-agent"

// maxAskBodyBytes bounds POST /ask bodies.
const maxAskBodyBytes = 8 << 10

// WeatherLookup resolves a city and returns its current report.
type WeatherLookup interface {
	Lookup(ctx context.Context, city string) (models.WeatherReport, error)
}

// HealthConfig holds the thresholds for the degraded check.
type HealthConfig struct {
	DegradedWindow     time.Duration
	DegradedErrorPct   int
	DegradedMinSamples int
	Version            string
}

// Deps are the collaborators a Handler serves from.
type Deps struct {
	Weather    WeatherLookup
	Asker      chat.Responder
	Classifier *validation.Classifier
	Tracker    *traffic.Tracker
	Logger     *zap.Logger

	CityMinLength int
	CityMaxLength int
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	deps         Deps
	healthConfig *HealthConfig
	shuttingDown atomic.Bool
	inFlight     *InFlightTracker

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. healthConfig may be nil, which disables the degraded check.
func NewHandler(deps Deps, healthConfig *HealthConfig) *Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Classifier == nil {
		deps.Classifier = validation.NewClassifier(validation.DefaultPolicy())
	}
	return &Handler{
		deps:         deps,
		healthConfig: healthConfig,
		inFlight:     &InFlightTracker{},
	}
}

// SetShuttingDown flips /health to shutting-down. Called once the shutdown signal arrives.
func (h *Handler) SetShuttingDown(v bool) {
	h.shuttingDown.Store(v)
}

// InFlight returns the tracker counting requests that passed the metrics middleware.
func (h *Handler) InFlight() *InFlightTracker {
	return h.inFlight
}

type weatherResponse struct {
	City            string   `json:"city"`
	State           string   `json:"state"`
	Country         string   `json:"country"`
	TemperatureC    *float64 `json:"temperatureC"`
	HumidityPercent *float64 `json:"humidityPercent"`
	WindSpeedKph    *float64 `json:"windSpeedKph"`
	WeatherCode     *int     `json:"weatherCode"`
	Condition       string   `json:"condition"`
	Report          string   `json:"report"`
}

func newWeatherResponse(report models.WeatherReport) weatherResponse {
	return weatherResponse{
		City:            report.City,
		State:           report.State,
		Country:         report.Country,
		TemperatureC:    readingPtr(report.Conditions.Temperature),
		HumidityPercent: readingPtr(report.Conditions.Humidity),
		WindSpeedKph:    readingPtr(report.Conditions.WindSpeed),
		WeatherCode:     report.Conditions.WeatherCode,
		Condition:       report.Description,
		Report:          report.String(),
	}
}

func readingPtr(r models.Reading) *float64 {
	if !r.Valid {
		return nil
	}
	v := r.Value
	return &v
}

// GetWeather handles GET /weather/{city}.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	city, err := validation.ValidateCity(mux.Vars(r)["city"], h.deps.CityMinLength, h.deps.CityMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}

	report, err := h.deps.Weather.Lookup(r.Context(), city)
	if err != nil {
		writeLookupError(w, r, city, err)
		return
	}
	writeJSON(w, http.StatusOK, newWeatherResponse(report))
}

// GetClassify handles GET /classify?q=.
func (h *Handler) GetClassify(w http.ResponseWriter, r *http.Request) {
	if !r.URL.Query().Has("q") {
		writeError(w, r, http.StatusBadRequest, "MISSING_QUERY", "query parameter q is required")
		return
	}
	res := h.deps.Classifier.Classify(r.URL.Query().Get("q"))
	observability.QueryClassificationsTotal.WithLabelValues(string(res.Reason)).Inc()
	writeJSON(w, http.StatusOK, res)
}

type askRequest struct {
	Query string `json:"query"`
}

type askResponse struct {
	Answer   string            `json:"answer"`
	Accepted bool              `json:"accepted"`
	Reason   validation.Reason `json:"reason"`
}

// PostAsk handles POST /ask. Rejected queries get the refusal text with 200.
func (h *Handler) PostAsk(w http.ResponseWriter, r *http.Request) {
	var body askRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAskBodyBytes)).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "body must be a JSON object with a query field")
		return
	}
	query := strings.TrimSpace(body.Query)
	if query == "" {
		writeError(w, r, http.StatusBadRequest, "MISSING_QUERY", "query is required")
		return
	}

	res := h.deps.Classifier.Classify(query)
	observability.QueryClassificationsTotal.WithLabelValues(string(res.Reason)).Inc()
	if !res.Accepted {
		writeJSON(w, http.StatusOK, askResponse{Answer: chat.Refusal, Reason: res.Reason})
		return
	}

	answer, err := chat.Answer(r.Context(), h.deps.Asker, query, res)
	if err != nil {
		observability.LoggerFromContext(r.Context()).Debug("ask failed", zap.Error(err))
		if errors.Is(err, chat.ErrNoCity) {
			writeError(w, r, http.StatusUnprocessableEntity, "NO_CITY", err.Error())
			return
		}
		writeError(w, r, http.StatusBadGateway, "ASK_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, askResponse{Answer: answer, Accepted: true, Reason: res.Reason})
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.deps.Logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"openMeteo": "healthy"}
	if result.reason == "error_rate_breach" {
		checks["openMeteo"] = "unhealthy"
	}
	version := "dev"
	if h.healthConfig != nil && h.healthConfig.Version != "" {
		version = h.healthConfig.Version
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   serviceName,
		"version":   version,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates shutting-down, then degraded, then healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if h.shuttingDown.Load() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		threshold := float64(h.healthConfig.DegradedErrorPct) / 100
		if h.deps.Tracker.Degraded(h.healthConfig.DegradedWindow, threshold, h.healthConfig.DegradedMinSamples) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"error":{code,message,requestId}}; requestId is the correlation ID when present.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": correlationID(r.Context()),
		},
	})
}

// writeLookupError maps lookup failures onto status codes. The message is the same text
// the chat loop prints for the failure.
func writeLookupError(w http.ResponseWriter, r *http.Request, city string, err error) {
	observability.LoggerFromContext(r.Context()).Debug("weather lookup failed",
		zap.String("city", city), zap.Error(err))

	msg := service.Message(city, err)
	switch {
	case errors.Is(err, client.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "CITY_NOT_FOUND", msg)
	case errors.Is(err, client.ErrNotUnitedStates):
		writeError(w, r, http.StatusUnprocessableEntity, "NOT_US_CITY", msg)
	case errors.Is(err, client.ErrMalformedResponse):
		writeError(w, r, http.StatusBadGateway, "UPSTREAM_MALFORMED", msg)
	default:
		writeError(w, r, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", msg)
	}
}

func correlationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationIDKey).(string); ok {
		return v
	}
	return ""
}
