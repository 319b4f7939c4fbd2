package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/us-weather-agent/internal/chat"
	"github.com/kjstillabower/us-weather-agent/internal/client"
	"github.com/kjstillabower/us-weather-agent/internal/models"
	"github.com/kjstillabower/us-weather-agent/internal/service"
	"github.com/kjstillabower/us-weather-agent/internal/traffic"
	"github.com/kjstillabower/us-weather-agent/internal/validation"
)

type fakeLookup struct {
	mu      sync.Mutex
	report  models.WeatherReport
	err     error
	gotCity string
	calls   int
}

func (f *fakeLookup) Lookup(ctx context.Context, city string) (models.WeatherReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.gotCity = city
	return f.report, f.err
}

type fakeAsker struct {
	answer string
	err    error
	got    string
}

func (f *fakeAsker) Respond(ctx context.Context, text string) (string, error) {
	f.got = text
	return f.answer, f.err
}

type classifiedAsker struct {
	fakeAsker
	res *validation.ClassificationResult
}

func (f *classifiedAsker) RespondClassified(ctx context.Context, text string, res validation.ClassificationResult) (string, error) {
	f.res = &res
	return "answer for " + res.CityHint, nil
}

func ptr[T any](v T) *T { return &v }

func denverReport() models.WeatherReport {
	return models.WeatherReport{
		City:    "Denver",
		State:   "Colorado",
		Country: "United States",
		Conditions: models.CurrentConditions{
			Temperature: models.NewReading(ptr(21.5)),
			Humidity:    models.NewReading(ptr(30.0)),
			WindSpeed:   models.NewReading(ptr(12.2)),
			WeatherCode: ptr(1),
		},
		Description: "Mainly clear",
	}
}

func newTestHandler(lookup WeatherLookup, asker chat.Responder) *Handler {
	return NewHandler(Deps{
		Weather:       lookup,
		Asker:         asker,
		Tracker:       traffic.New(),
		Logger:        zap.NewNop(),
		CityMinLength: 1,
		CityMaxLength: 100,
	}, nil)
}

func decodeError(t *testing.T, body []byte) (code, message string) {
	t.Helper()
	var resp struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode error body %q: %v", body, err)
	}
	return resp.Error.Code, resp.Error.Message
}

func TestGetWeather_Success(t *testing.T) {
	lookup := &fakeLookup{report: denverReport()}
	h := newTestHandler(lookup, nil)

	req := httptest.NewRequest(http.MethodGet, "/weather/Denver", nil)
	req = mux.SetURLVars(req, map[string]string{"city": "  Denver "})
	w := httptest.NewRecorder()
	h.GetWeather(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}
	if lookup.gotCity != "Denver" {
		t.Errorf("lookup city = %q, want trimmed %q", lookup.gotCity, "Denver")
	}
	var resp weatherResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.City != "Denver" || resp.State != "Colorado" || resp.Country != "United States" {
		t.Errorf("location = %q/%q/%q", resp.City, resp.State, resp.Country)
	}
	if resp.TemperatureC == nil || *resp.TemperatureC != 21.5 {
		t.Errorf("temperatureC = %v, want 21.5", resp.TemperatureC)
	}
	if resp.WeatherCode == nil || *resp.WeatherCode != 1 {
		t.Errorf("weatherCode = %v, want 1", resp.WeatherCode)
	}
	if resp.Condition != "Mainly clear" {
		t.Errorf("condition = %q", resp.Condition)
	}
	if resp.Report != denverReport().String() {
		t.Errorf("report = %q, want %q", resp.Report, denverReport().String())
	}
}

func TestGetWeather_MissingReadingsAreNull(t *testing.T) {
	report := denverReport()
	report.Conditions = models.CurrentConditions{}
	report.Description = "Unknown"
	h := newTestHandler(&fakeLookup{report: report}, nil)

	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/weather/Denver", nil), map[string]string{"city": "Denver"})
	w := httptest.NewRecorder()
	h.GetWeather(w, req)

	var raw map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"temperatureC", "humidityPercent", "windSpeedKph", "weatherCode"} {
		v, ok := raw[key]
		if !ok {
			t.Errorf("%s missing from body", key)
			continue
		}
		if v != nil {
			t.Errorf("%s = %v, want null", key, v)
		}
	}
	if !strings.Contains(raw["report"].(string), "Temperature: N/A°C") {
		t.Errorf("report = %q, want N/A temperature", raw["report"])
	}
}

func TestGetWeather_InvalidCity(t *testing.T) {
	tests := []string{"", "   ", "Bad<City>", strings.Repeat("a", 101)}
	for _, city := range tests {
		t.Run(fmt.Sprintf("%q", city), func(t *testing.T) {
			lookup := &fakeLookup{}
			h := newTestHandler(lookup, nil)
			req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/weather/x", nil), map[string]string{"city": city})
			w := httptest.NewRecorder()
			h.GetWeather(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if code, _ := decodeError(t, w.Body.Bytes()); code != "INVALID_CITY" {
				t.Errorf("code = %q, want INVALID_CITY", code)
			}
			if lookup.calls != 0 {
				t.Errorf("lookup called %d times for invalid city", lookup.calls)
			}
		})
	}
}

func TestGetWeather_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		city       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{
			name:       "not found",
			city:       "Atlantis",
			err:        &service.LookupError{City: "Atlantis", Op: "resolve", Err: client.ErrNotFound},
			wantStatus: http.StatusNotFound,
			wantCode:   "CITY_NOT_FOUND",
			wantMsg:    "City 'Atlantis' not found. Please check the spelling and try again.",
		},
		{
			name:       "not us",
			city:       "Paris",
			err:        &service.LookupError{City: "Paris", Op: "resolve", Err: client.ErrNotUnitedStates},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "NOT_US_CITY",
			wantMsg:    "Sorry, 'Paris' is not a US city. This weather agent only provides weather information for US cities. Please enter a US city name.",
		},
		{
			name:       "network",
			city:       "Denver",
			err:        &service.LookupError{City: "Denver", Op: "fetch", Err: fmt.Errorf("%w: connection refused", client.ErrNetworkFailure)},
			wantStatus: http.StatusBadGateway,
			wantCode:   "UPSTREAM_UNAVAILABLE",
			wantMsg:    "Error fetching weather data: network failure: connection refused",
		},
		{
			name:       "malformed",
			city:       "Denver",
			err:        &service.LookupError{City: "Denver", Op: "fetch", Err: fmt.Errorf("%w: missing current", client.ErrMalformedResponse)},
			wantStatus: http.StatusBadGateway,
			wantCode:   "UPSTREAM_MALFORMED",
			wantMsg:    "Error processing weather data: malformed upstream response: missing current",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(&fakeLookup{err: tc.err}, nil)
			req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/weather/x", nil), map[string]string{"city": tc.city})
			w := httptest.NewRecorder()
			h.GetWeather(w, req)

			if w.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tc.wantStatus)
			}
			code, msg := decodeError(t, w.Body.Bytes())
			if code != tc.wantCode {
				t.Errorf("code = %q, want %q", code, tc.wantCode)
			}
			if msg != tc.wantMsg {
				t.Errorf("message = %q, want %q", msg, tc.wantMsg)
			}
		})
	}
}

func TestGetClassify(t *testing.T) {
	h := newTestHandler(&fakeLookup{}, nil)

	tests := []struct {
		query        string
		wantAccepted bool
		wantReason   string
	}{
		{"What's the weather like in New York?", true, "ok"},
		{"2 + 2", false, "math_expression"},
		{"tell me a joke", false, "no_weather_keyword"},
		{"is it going to rain", false, "no_city_mention"},
	}
	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/classify", nil)
			q := req.URL.Query()
			q.Set("q", tc.query)
			req.URL.RawQuery = q.Encode()
			w := httptest.NewRecorder()
			h.GetClassify(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			var resp struct {
				Accepted bool   `json:"accepted"`
				Reason   string `json:"reason"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Accepted != tc.wantAccepted || resp.Reason != tc.wantReason {
				t.Errorf("got accepted=%v reason=%q, want %v %q", resp.Accepted, resp.Reason, tc.wantAccepted, tc.wantReason)
			}
		})
	}
}

func TestGetClassify_MissingQuery(t *testing.T) {
	h := newTestHandler(&fakeLookup{}, nil)
	w := httptest.NewRecorder()
	h.GetClassify(w, httptest.NewRequest(http.MethodGet, "/classify", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestPostAsk(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		asker := &fakeAsker{answer: "Weather Information for Chicago, Illinois, United States:"}
		h := newTestHandler(&fakeLookup{}, asker)
		w := httptest.NewRecorder()
		h.PostAsk(w, httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(`{"query":"How's the weather in Chicago today?"}`)))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
		}
		var resp askResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !resp.Accepted || resp.Answer != asker.answer {
			t.Errorf("resp = %+v", resp)
		}
		if asker.got != "How's the weather in Chicago today?" {
			t.Errorf("asker got %q", asker.got)
		}
	})

	t.Run("rejected gets refusal without asking", func(t *testing.T) {
		asker := &fakeAsker{answer: "should not be used"}
		h := newTestHandler(&fakeLookup{}, asker)
		w := httptest.NewRecorder()
		h.PostAsk(w, httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(`{"query":"2+2?"}`)))

		var resp askResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Accepted || resp.Answer != chat.Refusal || resp.Reason != "math_expression" {
			t.Errorf("resp = %+v", resp)
		}
		if asker.got != "" {
			t.Errorf("asker called with %q", asker.got)
		}
	})

	t.Run("bad body", func(t *testing.T) {
		h := newTestHandler(&fakeLookup{}, &fakeAsker{})
		for _, body := range []string{`not json`, `{"query":"   "}`} {
			w := httptest.NewRecorder()
			h.PostAsk(w, httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(body)))
			if w.Code != http.StatusBadRequest {
				t.Errorf("body %q: status = %d, want 400", body, w.Code)
			}
		}
	})

	t.Run("no city", func(t *testing.T) {
		h := newTestHandler(&fakeLookup{}, &fakeAsker{err: chat.ErrNoCity})
		w := httptest.NewRecorder()
		h.PostAsk(w, httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(`{"query":"weather in Denver"}`)))
		if w.Code != http.StatusUnprocessableEntity {
			t.Errorf("status = %d, want 422", w.Code)
		}
	})

	t.Run("classification handed to responder", func(t *testing.T) {
		asker := &classifiedAsker{}
		h := newTestHandler(&fakeLookup{}, asker)
		w := httptest.NewRecorder()
		h.PostAsk(w, httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(`{"query":"How windy is it in the Bay Area?"}`)))

		var resp askResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Answer != "answer for Bay Area" {
			t.Errorf("answer = %q", resp.Answer)
		}
		if asker.got != "" {
			t.Errorf("Respond called with %q, want RespondClassified only", asker.got)
		}
		if asker.res == nil || asker.res.CityHint != "Bay Area" {
			t.Errorf("classification = %+v", asker.res)
		}
	})

	t.Run("responder failure", func(t *testing.T) {
		h := newTestHandler(&fakeLookup{}, &fakeAsker{err: errors.New("model unavailable")})
		w := httptest.NewRecorder()
		h.PostAsk(w, httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(`{"query":"weather in Denver"}`)))
		if w.Code != http.StatusBadGateway {
			t.Errorf("status = %d, want 502", w.Code)
		}
	})
}

func TestGetHealth(t *testing.T) {
	healthCfg := &HealthConfig{DegradedWindow: time.Minute, DegradedErrorPct: 50, DegradedMinSamples: 2}

	t.Run("healthy", func(t *testing.T) {
		h := NewHandler(Deps{Weather: &fakeLookup{}, Tracker: traffic.New()}, healthCfg)
		w := httptest.NewRecorder()
		h.GetHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
		var resp map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp["status"] != "healthy" || resp["service"] != serviceName {
			t.Errorf("resp = %v", resp)
		}
	})

	t.Run("degraded", func(t *testing.T) {
		tracker := traffic.New()
		tracker.RecordError()
		tracker.RecordError()
		tracker.RecordSuccess()
		h := NewHandler(Deps{Weather: &fakeLookup{}, Tracker: tracker}, healthCfg)
		w := httptest.NewRecorder()
		h.GetHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", w.Code)
		}
		if !strings.Contains(w.Body.String(), `"status":"degraded"`) {
			t.Errorf("body = %s", w.Body.String())
		}
		if !strings.Contains(w.Body.String(), `"openMeteo":"unhealthy"`) {
			t.Errorf("body = %s, want unhealthy openMeteo check", w.Body.String())
		}
	})

	t.Run("below min samples stays healthy", func(t *testing.T) {
		tracker := traffic.New()
		tracker.RecordError()
		h := NewHandler(Deps{Weather: &fakeLookup{}, Tracker: tracker}, healthCfg)
		w := httptest.NewRecorder()
		h.GetHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})

	t.Run("shutting down wins", func(t *testing.T) {
		tracker := traffic.New()
		tracker.RecordError()
		tracker.RecordError()
		h := NewHandler(Deps{Weather: &fakeLookup{}, Tracker: tracker}, healthCfg)
		h.SetShuttingDown(true)
		w := httptest.NewRecorder()
		h.GetHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		if !strings.Contains(w.Body.String(), `"status":"shutting-down"`) {
			t.Errorf("body = %s", w.Body.String())
		}
	})
}

func TestGetHealth_LogsTransition(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := NewHandler(Deps{Weather: &fakeLookup{}, Tracker: traffic.New(), Logger: zap.New(core)}, nil)

	h.GetHealth(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	h.SetShuttingDown(true)
	h.GetHealth(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	entries := logs.FilterMessage("health status transition").All()
	if len(entries) != 1 {
		t.Fatalf("transition logs = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["previous_status"] != "healthy" || fields["current_status"] != "shutting-down" {
		t.Errorf("fields = %v", fields)
	}
}
