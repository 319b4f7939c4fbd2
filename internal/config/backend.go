package config

import (
	"errors"
	"strings"
)

// ErrNoCredentials is returned when neither GITHUB_TOKEN nor OPENAI_API_KEY is usable.
var ErrNoCredentials = errors.New("no LLM credentials: set GITHUB_TOKEN or OPENAI_API_KEY")

const placeholderAPIKey = "your-api-key-here"

// Backend is the resolved chat-completions endpoint and its credentials.
type Backend struct {
	Name    string
	BaseURL string
	APIKey  string
	Model   string
}

// ResolveBackend picks the LLM backend from the environment: GITHUB_TOKEN selects
// GitHub Models, otherwise OPENAI_API_KEY selects OpenAI. LLM_MODEL overrides the model.
func ResolveBackend(getenv func(string) string) (Backend, error) {
	var b Backend
	if token := strings.TrimSpace(getenv("GITHUB_TOKEN")); token != "" {
		b = Backend{
			Name:    "github",
			BaseURL: "https://models.inference.ai.azure.com",
			APIKey:  token,
			Model:   "gpt-4o-mini",
		}
	} else if key := strings.TrimSpace(getenv("OPENAI_API_KEY")); key != "" && key != placeholderAPIKey {
		b = Backend{
			Name:    "openai",
			BaseURL: "https://api.openai.com/v1",
			APIKey:  key,
			Model:   "gpt-3.5-turbo",
		}
	} else {
		return Backend{}, ErrNoCredentials
	}

	if model := strings.TrimSpace(getenv("LLM_MODEL")); model != "" {
		b.Model = model
	}
	return b, nil
}

// Backend resolves the LLM backend, letting llm.model from the config file override the
// backend's default model when LLM_MODEL is unset.
func (c *Config) Backend(getenv func(string) string) (Backend, error) {
	b, err := ResolveBackend(getenv)
	if err != nil {
		return Backend{}, err
	}
	if c.LLMModel != "" && strings.TrimSpace(getenv("LLM_MODEL")) == "" {
		b.Model = c.LLMModel
	}
	return b, nil
}
