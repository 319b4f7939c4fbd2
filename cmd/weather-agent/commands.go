package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/kjstillabower/us-weather-agent/internal/chat"
	"github.com/kjstillabower/us-weather-agent/internal/observability"
	"github.com/kjstillabower/us-weather-agent/internal/validation"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

type ChatCmd struct {
	Offline bool `name:"offline" help:"Answer without a language model by looking up the city directly"`
}

type AskCmd struct {
	Query   []string `arg:"" help:"Question to answer"`
	Offline bool     `name:"offline" help:"Answer without a language model by looking up the city directly"`
}

type WeatherCmd struct {
	City []string `arg:"" help:"US city name"`
}

type ClassifyCmd struct {
	Query []string `arg:"" help:"Query to classify"`
	JSON  bool     `name:"json" help:"Print the result as JSON"`
}

////////////////////////////////////////////////////////////////////////////////
// COMMANDS

func (cmd *ChatCmd) Run(g *Globals) error {
	svc, err := g.lookupService(nil)
	if err != nil {
		return err
	}
	responder, err := g.responder(svc, cmd.Offline)
	if err != nil {
		return err
	}
	loop := &chat.Loop{
		In:         os.Stdin,
		Out:        os.Stdout,
		Responder:  responder,
		Classifier: validation.NewClassifier(validation.DefaultPolicy()),
		Logger:     g.logger,
	}
	return loop.Run(g.ctx)
}

func (cmd *AskCmd) Run(g *Globals) error {
	query := strings.TrimSpace(strings.Join(cmd.Query, " "))
	res := validation.Classify(query)
	observability.QueryClassificationsTotal.WithLabelValues(string(res.Reason)).Inc()
	if !res.Accepted {
		fmt.Println(chat.Refusal)
		return nil
	}

	svc, err := g.lookupService(nil)
	if err != nil {
		return err
	}
	responder, err := g.responder(svc, cmd.Offline)
	if err != nil {
		return err
	}
	answer, err := chat.Answer(g.ctx, responder, query, res)
	if err != nil {
		return err
	}
	fmt.Println(answer)
	return nil
}

func (cmd *WeatherCmd) Run(g *Globals) error {
	city, err := validation.ValidateCity(strings.Join(cmd.City, " "), g.cfg.CityMinLength, g.cfg.CityMaxLength)
	if err != nil {
		return err
	}
	svc, err := g.lookupService(nil)
	if err != nil {
		return err
	}
	fmt.Println(svc.GetWeather(g.ctx, city))
	return nil
}

func (cmd *ClassifyCmd) Run(g *Globals) error {
	res := validation.Classify(strings.Join(cmd.Query, " "))
	if cmd.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Printf("accepted=%t reason=%s", res.Accepted, res.Reason)
	if res.CityHint != "" {
		fmt.Printf(" city=%q", res.CityHint)
	}
	fmt.Println()
	return nil
}
