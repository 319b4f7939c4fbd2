package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalEnvYAML = `
server:
  port: "9090"
geocoding:
  url: "http://geo.test/v1/search"
  timeout: "3s"
forecast:
  url: "http://forecast.test/v1/forecast"
  timeout: "2s"
reliability:
  rate_limit_rps: 5
  rate_limit_burst: 10
`

// isolateEnv clears the variables Load reads and restores them when the test ends.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"ENV_NAME", "GEOCODING_API_URL", "FORECAST_API_URL", "PORT"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func writeEnvFile(t *testing.T, dir, name, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, name+".yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func TestLoad_DefaultsWithoutConfigFile(t *testing.T) {
	isolateEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want 8080", cfg.ServerPort)
	}
	if cfg.GeocodingAPIURL != "https://geocoding-api.open-meteo.com/v1/search" {
		t.Errorf("GeocodingAPIURL = %q", cfg.GeocodingAPIURL)
	}
	if cfg.ForecastAPIURL != "https://api.open-meteo.com/v1/forecast" {
		t.Errorf("ForecastAPIURL = %q", cfg.ForecastAPIURL)
	}
	if cfg.GeocodingTimeout != 10*time.Second || cfg.ForecastTimeout != 5*time.Second {
		t.Errorf("timeouts = %v / %v, want 10s / 5s", cfg.GeocodingTimeout, cfg.ForecastTimeout)
	}
	if cfg.RequestTimeout <= cfg.GeocodingTimeout+cfg.ForecastTimeout {
		t.Errorf("RequestTimeout = %v, want more than the upstream sum", cfg.RequestTimeout)
	}
	if cfg.RateLimitRPS != 20 || cfg.RateLimitBurst != 40 {
		t.Errorf("rate limit = %d/%d, want 20/40", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	if cfg.CircuitBreakerEnabled {
		t.Error("CircuitBreakerEnabled = true, want disabled by default")
	}
	if cfg.CityMinLength != 1 || cfg.CityMaxLength != 100 {
		t.Errorf("city length = %d..%d, want 1..100", cfg.CityMinLength, cfg.CityMaxLength)
	}
	if cfg.LLMMaxToolRounds != 5 {
		t.Errorf("LLMMaxToolRounds = %d, want 5", cfg.LLMMaxToolRounds)
	}
}

func TestLoad_ReadsConfigFile(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, "dev", minimalEnvYAML)
	t.Chdir(dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Errorf("ServerPort = %q, want 9090", cfg.ServerPort)
	}
	if cfg.GeocodingAPIURL != "http://geo.test/v1/search" {
		t.Errorf("GeocodingAPIURL = %q", cfg.GeocodingAPIURL)
	}
	if cfg.GeocodingTimeout != 3*time.Second || cfg.ForecastTimeout != 2*time.Second {
		t.Errorf("timeouts = %v / %v, want 3s / 2s", cfg.GeocodingTimeout, cfg.ForecastTimeout)
	}
	if cfg.RequestTimeout != 16*time.Second {
		t.Errorf("RequestTimeout = %v, want 16s default", cfg.RequestTimeout)
	}
	if cfg.RateLimitRPS != 5 || cfg.RateLimitBurst != 10 {
		t.Errorf("rate limit = %d/%d, want 5/10", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, "dev", minimalEnvYAML)
	t.Chdir(dir)
	t.Setenv("GEOCODING_API_URL", "http://override-geo/")
	t.Setenv("FORECAST_API_URL", "http://override-forecast/")
	t.Setenv("PORT", "7070")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GeocodingAPIURL != "http://override-geo/" || cfg.ForecastAPIURL != "http://override-forecast/" {
		t.Errorf("URLs = %q / %q, want env overrides", cfg.GeocodingAPIURL, cfg.ForecastAPIURL)
	}
	if cfg.ServerPort != "7070" {
		t.Errorf("ServerPort = %q, want 7070", cfg.ServerPort)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("PORT=6060\n"), 0644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Chdir(dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != "6060" {
		t.Errorf("ServerPort = %q, want 6060 from .env", cfg.ServerPort)
	}
}

func TestLoad_ExplicitEnvFileNotFound(t *testing.T) {
	isolateEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("ENV_NAME", "nonexistent")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for missing env file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("Load() error = %v, want message about config file not found", err)
	}
}

func TestLoad_InvalidConfigYAML(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, "dev", "server: [unclosed\n")
	t.Chdir(dir)

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "parse config file") {
		t.Errorf("Load() error = %v, want parse error", err)
	}
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, "dev", "geocoding:\n  timeout: \"soon\"\nshutdown:\n  timeout: \"-1s\"\n")
	t.Chdir(dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GeocodingTimeout != 10*time.Second {
		t.Errorf("GeocodingTimeout = %v, want 10s default", cfg.GeocodingTimeout)
	}
	if cfg.ShutdownTimeout != 15*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 15s default", cfg.ShutdownTimeout)
	}
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"zero forecast timeout", "forecast:\n  timeout: \"0s\"\n", "forecast.timeout"},
		{"negative geocoding timeout", "geocoding:\n  timeout: \"-2s\"\n", "geocoding.timeout"},
		{"inverted city bounds", "validation:\n  city_min_length: 50\n  city_max_length: 10\n", "city_min_length"},
		{"error pct above 100", "health:\n  degraded_error_pct: 150\n", "degraded_error_pct"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateEnv(t)
			dir := t.TempDir()
			writeEnvFile(t, dir, "dev", tt.yaml)
			t.Chdir(dir)

			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoad_RequestTimeoutRaisedAboveUpstreamSum(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, "dev", "request:\n  timeout: \"4s\"\n")
	t.Chdir(dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if want := 16 * time.Second; cfg.RequestTimeout != want {
		t.Errorf("RequestTimeout = %v, want %v", cfg.RequestTimeout, want)
	}
}

func TestLoad_ProjectDevConfig(t *testing.T) {
	isolateEnv(t)
	t.Chdir(findProjectRoot(t))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DegradedErrorPct != 50 || cfg.DegradedWindow != time.Minute {
		t.Errorf("degraded = %d%% over %v, want 50%% over 1m", cfg.DegradedErrorPct, cfg.DegradedWindow)
	}
}

func findProjectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "config", "dev.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("config/dev.yaml not found (run tests from project root)")
		}
		dir = parent
	}
}

func TestResolveBackend(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		wantName  string
		wantModel string
		wantErr   error
	}{
		{
			name:      "github token wins",
			env:       map[string]string{"GITHUB_TOKEN": "gh", "OPENAI_API_KEY": "sk"},
			wantName:  "github",
			wantModel: "gpt-4o-mini",
		},
		{
			name:      "openai key",
			env:       map[string]string{"OPENAI_API_KEY": "sk-real"},
			wantName:  "openai",
			wantModel: "gpt-3.5-turbo",
		},
		{
			name:    "placeholder key ignored",
			env:     map[string]string{"OPENAI_API_KEY": "your-api-key-here"},
			wantErr: ErrNoCredentials,
		},
		{
			name:    "nothing set",
			env:     map[string]string{},
			wantErr: ErrNoCredentials,
		},
		{
			name:      "model override",
			env:       map[string]string{"OPENAI_API_KEY": "sk-real", "LLM_MODEL": "gpt-4o"},
			wantName:  "openai",
			wantModel: "gpt-4o",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := ResolveBackend(func(k string) string { return tt.env[k] })
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ResolveBackend() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveBackend() unexpected error: %v", err)
			}
			if b.Name != tt.wantName || b.Model != tt.wantModel {
				t.Errorf("ResolveBackend() = %s/%s, want %s/%s", b.Name, b.Model, tt.wantName, tt.wantModel)
			}
		})
	}
}

func TestConfigBackend_FileModelOverride(t *testing.T) {
	cfg := &Config{LLMModel: "from-file"}
	env := map[string]string{"GITHUB_TOKEN": "gh"}

	b, err := cfg.Backend(func(k string) string { return env[k] })
	if err != nil {
		t.Fatalf("Backend() error = %v", err)
	}
	if b.Model != "from-file" {
		t.Errorf("Model = %q, want from-file", b.Model)
	}

	env["LLM_MODEL"] = "from-env"
	b, _ = cfg.Backend(func(k string) string { return env[k] })
	if b.Model != "from-env" {
		t.Errorf("Model = %q, want LLM_MODEL to win", b.Model)
	}
}
