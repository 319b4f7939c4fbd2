package main

import (
	"github.com/kjstillabower/us-weather-agent/internal/chat"
	httphandler "github.com/kjstillabower/us-weather-agent/internal/http"
	"github.com/kjstillabower/us-weather-agent/internal/traffic"
	"github.com/kjstillabower/us-weather-agent/internal/validation"
)

type ServeCmd struct {
	Port string `name:"port" help:"Listen port (overrides server.port and PORT)"`
}

func (cmd *ServeCmd) Run(g *Globals) error {
	tracker := traffic.New()
	svc, err := g.lookupService(tracker)
	if err != nil {
		return err
	}

	handler := httphandler.NewHandler(httphandler.Deps{
		Weather:       svc,
		Asker:         &chat.Direct{Weather: svc},
		Classifier:    validation.NewClassifier(validation.DefaultPolicy()),
		Tracker:       tracker,
		Logger:        g.logger,
		CityMinLength: g.cfg.CityMinLength,
		CityMaxLength: g.cfg.CityMaxLength,
	}, &httphandler.HealthConfig{
		DegradedWindow:     g.cfg.DegradedWindow,
		DegradedErrorPct:   g.cfg.DegradedErrorPct,
		DegradedMinSamples: g.cfg.DegradedMinSamples,
	})

	port := g.cfg.ServerPort
	if cmd.Port != "" {
		port = cmd.Port
	}
	return httphandler.Serve(g.ctx, handler, httphandler.ServerConfig{
		Addr:            ":" + port,
		RequestTimeout:  g.cfg.RequestTimeout,
		RateLimitRPS:    g.cfg.RateLimitRPS,
		RateLimitBurst:  g.cfg.RateLimitBurst,
		ShutdownTimeout: g.cfg.ShutdownTimeout,
	})
}
