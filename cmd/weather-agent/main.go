package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/kjstillabower/us-weather-agent/internal/agent"
	"github.com/kjstillabower/us-weather-agent/internal/chat"
	"github.com/kjstillabower/us-weather-agent/internal/circuitbreaker"
	"github.com/kjstillabower/us-weather-agent/internal/client"
	"github.com/kjstillabower/us-weather-agent/internal/config"
	"github.com/kjstillabower/us-weather-agent/internal/observability"
	"github.com/kjstillabower/us-weather-agent/internal/service"
	"github.com/kjstillabower/us-weather-agent/internal/tools"
	"github.com/kjstillabower/us-weather-agent/internal/traffic"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

type Globals struct {
	Debug bool `name:"debug" help:"Enable debug logging"`

	ctx    context.Context
	logger *zap.Logger
	cfg    *config.Config
}

type CLI struct {
	Globals

	Chat     ChatCmd     `cmd:"" default:"1" help:"Interactive weather chat (default)"`
	Ask      AskCmd      `cmd:"" help:"Answer a single question and exit"`
	Weather  WeatherCmd  `cmd:"" help:"Look up current weather for a US city"`
	Classify ClassifyCmd `cmd:"" help:"Show how a query would be classified"`
	Serve    ServeCmd    `cmd:"" help:"Run the HTTP API"`
}

////////////////////////////////////////////////////////////////////////////////
// MAIN

func main() {
	cli := CLI{}
	cmd := kong.Parse(&cli,
		kong.Name("weather-agent"),
		kong.Description("Current weather for US cities, answered by a tool-calling assistant"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)

	logger, err := observability.NewLogger(cli.Debug)
	cmd.FatalIfErrorf(err)

	cfg, err := config.Load()
	cmd.FatalIfErrorf(err)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	cli.Globals.ctx = observability.WithLogger(ctx, logger)
	cli.Globals.logger = logger
	cli.Globals.cfg = cfg

	err = cmd.Run(&cli.Globals)
	cancel()
	if flushErr := observability.FlushTelemetry(logger); flushErr != nil {
		fmt.Fprintf(os.Stderr, "telemetry flush: %v\n", flushErr)
	}
	cmd.FatalIfErrorf(err)
}

////////////////////////////////////////////////////////////////////////////////
// WIRING

// lookupService builds the Open-Meteo client and the lookup service on top of it.
func (g *Globals) lookupService(tracker *traffic.Tracker) (*service.WeatherLookupService, error) {
	opts := client.Options{
		GeocodingURL:     g.cfg.GeocodingAPIURL,
		ForecastURL:      g.cfg.ForecastAPIURL,
		GeocodingTimeout: g.cfg.GeocodingTimeout,
		ForecastTimeout:  g.cfg.ForecastTimeout,
	}
	if g.cfg.CircuitBreakerEnabled {
		opts.GeocodingBreaker = g.breaker(client.EndpointGeocoding)
		opts.ForecastBreaker = g.breaker(client.EndpointForecast)
		g.logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", g.cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", g.cfg.CircuitBreakerTimeout))
	}
	c, err := client.NewOpenMeteoClient(opts)
	if err != nil {
		return nil, err
	}
	return service.NewWeatherLookupService(c, c, tracker), nil
}

func (g *Globals) breaker(component string) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: g.cfg.CircuitBreakerFailureThreshold,
		SuccessThreshold: g.cfg.CircuitBreakerSuccessThreshold,
		Timeout:          g.cfg.CircuitBreakerTimeout,
		Component:        component,
		OnStateChange: func(component string, from, to circuitbreaker.State) {
			observability.RecordBreakerTransition(component, from.String(), to.String())
			g.logger.Warn("circuit breaker transition",
				zap.String("component", component),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// responder returns the model-backed agent, or the direct lookup when offline is set.
func (g *Globals) responder(svc *service.WeatherLookupService, offline bool) (chat.Responder, error) {
	if offline {
		return &chat.Direct{Weather: svc}, nil
	}

	backend, err := g.cfg.Backend(os.Getenv)
	if errors.Is(err, config.ErrNoCredentials) {
		return nil, fmt.Errorf("%w (or run with --offline)", err)
	} else if err != nil {
		return nil, err
	}

	toolkit, err := tools.Defaults(svc, g.cfg.CityMinLength, g.cfg.CityMaxLength)
	if err != nil {
		return nil, err
	}
	a, err := agent.New(agent.Config{
		APIKey:        backend.APIKey,
		BaseURL:       backend.BaseURL,
		Model:         backend.Model,
		MaxToolRounds: g.cfg.LLMMaxToolRounds,
		Timeout:       g.cfg.LLMTimeout,
	}, toolkit)
	if err != nil {
		return nil, err
	}
	g.logger.Debug("llm backend selected", zap.String("backend", backend.Name), zap.String("model", backend.Model))
	return a, nil
}
