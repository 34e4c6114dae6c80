package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidValve is returned when a valve override fails validation
var ErrInvalidValve = errors.New("invalid valve")

// Valves are the host-overridable options of a single run. The JSON names
// match the keys the host UI stores.
type Valves struct {
	SearxHost        string  `mapstructure:"searx_host" json:"SEARX_HOST"`
	TaskModelID      string  `mapstructure:"task_model_id" json:"TASK_MODEL_ID"`
	OpenAIAPIURL     string  `mapstructure:"openai_api_url" json:"OPENAI_API_URL"`
	OpenAIAPIKey     string  `mapstructure:"openai_api_key" json:"OPENAI_API_KEY"`
	ModelTemperature float64 `mapstructure:"model_temperature" json:"MODEL_TEMPERATURE"`
	MaxPlanSteps     int     `mapstructure:"max_plan_steps" json:"MAX_PLAN_STEPS"`
}

// DefaultValves returns the built-in valve values.
func DefaultValves() Valves {
	return Valves{
		SearxHost:        "http://127.0.0.1:8888",
		TaskModelID:      "granite3.1-instruct_4k:8b",
		OpenAIAPIURL:     "http://localhost:11434/v1",
		OpenAIAPIKey:     "ollama",
		ModelTemperature: 0,
		MaxPlanSteps:     6,
	}
}

func (v Valves) Validate() error {
	if strings.TrimSpace(v.TaskModelID) == "" {
		return fmt.Errorf("%w: TASK_MODEL_ID is empty", ErrInvalidValve)
	}
	if strings.TrimSpace(v.OpenAIAPIURL) == "" {
		return fmt.Errorf("%w: OPENAI_API_URL is empty", ErrInvalidValve)
	}
	if v.ModelTemperature < 0 || v.ModelTemperature > 2 {
		return fmt.Errorf("%w: MODEL_TEMPERATURE must be within [0, 2]", ErrInvalidValve)
	}
	if v.MaxPlanSteps < 1 {
		return fmt.Errorf("%w: MAX_PLAN_STEPS must be >= 1", ErrInvalidValve)
	}
	return nil
}

// Merge returns a copy of v with overrides applied. Keys are the JSON valve
// names; unknown keys are rejected so typos do not silently fall back.
func (v Valves) Merge(overrides map[string]any) (Valves, error) {
	if len(overrides) == 0 {
		return v, nil
	}
	raw, err := json.Marshal(overrides)
	if err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalidValve, err)
	}
	out := v
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalidValve, err)
	}
	if err := out.Validate(); err != nil {
		return v, err
	}
	return out, nil
}
