// Package tools defines the functions an LLM may call while answering a weather question.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/kjstillabower/us-weather-agent/internal/observability"
)

var (
	ErrInvalidName  = errors.New("invalid tool name")
	ErrDuplicate    = errors.New("duplicate tool name")
	ErrToolNotFound = errors.New("tool not found")
	ErrInvalidInput = errors.New("invalid tool input")
)

// Tool is a named function with a JSON schema describing its input. Tools take and
// return plain text so they can be called zero or more times in any order.
type Tool interface {
	Name() string
	Description() string
	Schema() (*jsonschema.Schema, error)
	Run(ctx context.Context, input json.RawMessage) (string, error)
}

// Toolkit is a collection of tools with unique names.
type Toolkit struct {
	tools map[string]Tool
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// NewToolkit creates a toolkit with the given tools.
func NewToolkit(tools ...Tool) (*Toolkit, error) {
	tk := &Toolkit{tools: make(map[string]Tool)}
	if err := tk.Register(tools...); err != nil {
		return nil, err
	}
	return tk, nil
}

// Register adds tools. Names must be identifiers and unique within the toolkit.
func (tk *Toolkit) Register(tools ...Tool) error {
	for _, t := range tools {
		name := t.Name()
		if !identifierPattern.MatchString(name) {
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
		if _, exists := tk.tools[name]; exists {
			return fmt.Errorf("%w: %q", ErrDuplicate, name)
		}
		tk.tools[name] = t
	}
	return nil
}

// Lookup returns a tool by name, or nil if not found.
func (tk *Toolkit) Lookup(name string) Tool {
	return tk.tools[name]
}

// Tools returns all tools ordered by name.
func (tk *Toolkit) Tools() []Tool {
	result := make([]Tool, 0, len(tk.tools))
	for _, t := range tk.tools {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// Run validates input against the tool's schema and runs it.
func (tk *Toolkit) Run(ctx context.Context, name string, input json.RawMessage) (string, error) {
	tool := tk.Lookup(name)
	if tool == nil {
		observability.ToolInvocationsTotal.WithLabelValues("unknown", "not_found").Inc()
		return "", fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}

	if err := validateInput(tool, input); err != nil {
		observability.ToolInvocationsTotal.WithLabelValues(name, "invalid_input").Inc()
		return "", err
	}

	out, err := tool.Run(ctx, input)
	if err != nil {
		observability.ToolInvocationsTotal.WithLabelValues(name, "error").Inc()
		return "", fmt.Errorf("%s: %w", name, err)
	}
	observability.ToolInvocationsTotal.WithLabelValues(name, "ok").Inc()
	return out, nil
}

func validateInput(tool Tool, input json.RawMessage) error {
	schema, err := tool.Schema()
	if err != nil {
		return fmt.Errorf("%w: schema for %q: %v", ErrInvalidInput, tool.Name(), err)
	}
	if schema == nil {
		return nil
	}

	// A missing argument object is validated as {} so required fields are enforced.
	mapInput := map[string]any{}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &mapInput); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}

	resolved, err := schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("%w: resolve schema for %q: %v", ErrInvalidInput, tool.Name(), err)
	}
	if err := resolved.Validate(mapInput); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// Parameters renders a tool's schema as a generic JSON object for LLM request payloads.
func Parameters(t Tool) (map[string]any, error) {
	schema, err := t.Schema()
	if err != nil {
		return nil, err
	}
	if schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}, nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %q: %w", t.Name(), err)
	}
	var params map[string]any
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("unmarshal schema for %q: %w", t.Name(), err)
	}
	return params, nil
}
