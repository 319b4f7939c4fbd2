// Package agent answers weather questions with an OpenAI-compatible chat model that
// calls the tools in internal/tools.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"go.uber.org/zap"

	"github.com/kjstillabower/us-weather-agent/internal/observability"
	"github.com/kjstillabower/us-weather-agent/internal/tools"
)

var (
	ErrTooManyToolRounds = errors.New("too many tool rounds")
	ErrEmptyResponse     = errors.New("model returned no choices")
)

// DefaultMaxToolRounds bounds how many times the model may request tools in one turn.
const DefaultMaxToolRounds = 5

// SystemPrompt makes the model validate every query before looking up weather.
const SystemPrompt = `You are a weather assistant. You MUST follow these rules:

1. ALWAYS call validate_weather_query tool FIRST for every user query
2. Only if validate_weather_query returns 'valid', then use weather_tool to get the weather
3. If validate_weather_query returns anything else, respond: "I only answer questions about weather in US cities. Please ask about the weather in a specific US city."
4. Do NOT answer any other questions - refuse politely and remind the user about the weather-only scope
5. Do NOT make assumptions or bypass the validation tool`

// Config selects the model endpoint.
type Config struct {
	APIKey        string
	BaseURL       string
	Model         string
	MaxToolRounds int
	Timeout       time.Duration
	HTTPClient    *http.Client
}

// Agent runs one tool-calling conversation per Respond call. It keeps no history
// between calls and is safe for concurrent use.
type Agent struct {
	client    openai.Client
	model     string
	maxRounds int
	timeout   time.Duration
	toolkit   *tools.Toolkit
	toolDefs  []openai.ChatCompletionToolUnionParam
}

// New builds an Agent. Tool definitions are rendered once from the toolkit's schemas.
func New(cfg Config, toolkit *tools.Toolkit) (*Agent, error) {
	if cfg.Model == "" {
		return nil, errors.New("agent: model is required")
	}
	if toolkit == nil {
		return nil, errors.New("agent: toolkit is required")
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	defs, err := toolDefinitions(toolkit)
	if err != nil {
		return nil, err
	}

	return &Agent{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		maxRounds: cfg.MaxToolRounds,
		timeout:   cfg.Timeout,
		toolkit:   toolkit,
		toolDefs:  defs,
	}, nil
}

func toolDefinitions(toolkit *tools.Toolkit) ([]openai.ChatCompletionToolUnionParam, error) {
	var defs []openai.ChatCompletionToolUnionParam
	for _, t := range toolkit.Tools() {
		params, err := tools.Parameters(t)
		if err != nil {
			return nil, fmt.Errorf("agent: tool %q: %w", t.Name(), err)
		}
		defs = append(defs, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name(),
			Description: openai.String(t.Description()),
			Parameters:  openai.FunctionParameters(params),
		}))
	}
	return defs, nil
}

// Respond answers text, executing tool calls until the model replies without any.
// Tool failures are handed back to the model as "error: ..." results.
func (a *Agent) Respond(ctx context.Context, text string) (string, error) {
	logger := observability.LoggerFromContext(ctx)
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(SystemPrompt),
		openai.UserMessage(text),
	}

	for round := 0; ; round++ {
		observability.AgentRoundsTotal.Inc()
		completion, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model:       openai.ChatModel(a.model),
			Messages:    messages,
			Tools:       a.toolDefs,
			Temperature: openai.Float(0),
		})
		if err != nil {
			return "", fmt.Errorf("chat completion: %w", err)
		}
		if len(completion.Choices) == 0 {
			return "", ErrEmptyResponse
		}

		msg := completion.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			return strings.TrimSpace(msg.Content), nil
		}
		if round >= a.maxRounds {
			return "", fmt.Errorf("%w: model still calling tools after %d rounds", ErrTooManyToolRounds, a.maxRounds)
		}

		messages = append(messages, msg.ToParam())
		for _, call := range msg.ToolCalls {
			result, err := a.toolkit.Run(ctx, call.Function.Name, json.RawMessage(call.Function.Arguments))
			if err != nil {
				logger.Debug("tool call failed", zap.String("tool", call.Function.Name), zap.Error(err))
				result = "error: " + err.Error()
			} else {
				logger.Debug("tool call", zap.String("tool", call.Function.Name), zap.Int("round", round))
			}
			messages = append(messages, openai.ToolMessage(result, call.ID))
		}
	}
}
