package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration loaded from .env, YAML and env.
type Config struct {
	ServerPort string

	GeocodingAPIURL  string
	GeocodingTimeout time.Duration
	ForecastAPIURL   string
	ForecastTimeout  time.Duration

	RequestTimeout time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	ShutdownTimeout time.Duration

	DegradedWindow     time.Duration
	DegradedErrorPct   int
	DegradedMinSamples int

	CityMinLength int
	CityMaxLength int

	LLMModel         string
	LLMMaxToolRounds int
	LLMTimeout       time.Duration
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Geocoding struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"geocoding"`

	Forecast struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"forecast"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
		CircuitBreaker struct {
			Enabled          bool   `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Health struct {
		DegradedWindow     string `yaml:"degraded_window"`
		DegradedErrorPct   int    `yaml:"degraded_error_pct"`
		DegradedMinSamples int    `yaml:"degraded_min_samples"`
	} `yaml:"health"`

	Validation struct {
		CityMinLength int `yaml:"city_min_length"`
		CityMaxLength int `yaml:"city_max_length"`
	} `yaml:"validation"`

	LLM struct {
		Model         string `yaml:"model"`
		MaxToolRounds int    `yaml:"max_tool_rounds"`
		Timeout       string `yaml:"timeout"`
	} `yaml:"llm"`
}

// Load reads .env (if present), then config/{ENV_NAME}.yaml (default dev), then env
// overrides. A missing YAML file is only an error when ENV_NAME names it explicitly.
// Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}

	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env, explicit := os.LookupEnv("ENV_NAME")
	if env == "" {
		env, explicit = "dev", false
	}

	var fc fileConfig
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	case os.IsNotExist(err):
		if explicit {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := fromFile(fc)
	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromFile(fc fileConfig) *Config {
	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.GeocodingAPIURL = fc.Geocoding.URL
	if cfg.GeocodingAPIURL == "" {
		cfg.GeocodingAPIURL = "https://geocoding-api.open-meteo.com/v1/search"
	}
	cfg.GeocodingTimeout = parseDurationOrZero(fc.Geocoding.Timeout, 10*time.Second)
	cfg.ForecastAPIURL = fc.Forecast.URL
	if cfg.ForecastAPIURL == "" {
		cfg.ForecastAPIURL = "https://api.open-meteo.com/v1/forecast"
	}
	cfg.ForecastTimeout = parseDurationOrZero(fc.Forecast.Timeout, 5*time.Second)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 16*time.Second)

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}

	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = cb.Enabled
	cfg.CircuitBreakerFailureThreshold = cb.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = cb.SuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 2
	}
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 15*time.Second)

	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}
	cfg.DegradedMinSamples = fc.Health.DegradedMinSamples
	if cfg.DegradedMinSamples <= 0 {
		cfg.DegradedMinSamples = 5
	}

	cfg.CityMinLength = fc.Validation.CityMinLength
	if cfg.CityMinLength <= 0 {
		cfg.CityMinLength = 1
	}
	cfg.CityMaxLength = fc.Validation.CityMaxLength
	if cfg.CityMaxLength <= 0 {
		cfg.CityMaxLength = 100
	}

	cfg.LLMModel = strings.TrimSpace(fc.LLM.Model)
	cfg.LLMMaxToolRounds = fc.LLM.MaxToolRounds
	if cfg.LLMMaxToolRounds <= 0 {
		cfg.LLMMaxToolRounds = 5
	}
	cfg.LLMTimeout = parseDuration(fc.LLM.Timeout, 60*time.Second)

	return cfg
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("GEOCODING_API_URL")); v != "" {
		cfg.GeocodingAPIURL = v
	}
	if v := strings.TrimSpace(os.Getenv("FORECAST_API_URL")); v != "" {
		cfg.ForecastAPIURL = v
	}
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		cfg.ServerPort = v
	}
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero or negative durations are returned as-is so validate can reject them.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate rejects non-positive upstream timeouts and inconsistent bounds, and raises
// RequestTimeout above the sum of both upstream timeouts.
func validate(cfg *Config) error {
	if cfg.GeocodingTimeout <= 0 {
		return fmt.Errorf("geocoding.timeout must be positive")
	}
	if cfg.ForecastTimeout <= 0 {
		return fmt.Errorf("forecast.timeout must be positive")
	}
	if upstream := cfg.GeocodingTimeout + cfg.ForecastTimeout; cfg.RequestTimeout <= upstream {
		cfg.RequestTimeout = upstream + time.Second
	}
	if cfg.CityMinLength > cfg.CityMaxLength {
		return fmt.Errorf("validation.city_min_length (%d) exceeds city_max_length (%d)", cfg.CityMinLength, cfg.CityMaxLength)
	}
	if cfg.DegradedErrorPct > 100 {
		return fmt.Errorf("health.degraded_error_pct must be at most 100, got %d", cfg.DegradedErrorPct)
	}
	return nil
}
