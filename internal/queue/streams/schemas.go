package streams

import "fmt"

// Event types published by the pipe.
const (
	EventProgress    = "agent.progress"
	EventRunFinished = "agent.run.finished"
	VersionV1        = "v1"
)

// ProgressPayload is the data of an agent.progress event.
type ProgressPayload struct {
	RunID   string `json:"run_id"`
	UserID  string `json:"user_id,omitempty"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

// RunFinishedPayload is the data of an agent.run.finished event.
type RunFinishedPayload struct {
	RunID      string `json:"run_id"`
	UserID     string `json:"user_id,omitempty"`
	Outcome    string `json:"outcome"`
	Iterations int    `json:"iterations"`
	Steps      int    `json:"steps"`
	DurationMS int64  `json:"duration_ms"`
}

// Definition describes a schema entry managed by the registry.
type Definition struct {
	EventType string
	Version   string
	Schema    []byte
}

var baseDefinitions = []Definition{
	{
		EventType: EventProgress,
		Version:   VersionV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["run_id", "type", "content"],
  "properties": {
    "run_id": {"type": "string", "minLength": 1},
    "user_id": {"type": "string"},
    "type": {"type": "string", "enum": ["message"]},
    "content": {"type": "string"}
  },
  "additionalProperties": false
}`),
	},
	{
		EventType: EventRunFinished,
		Version:   VersionV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["run_id", "outcome", "iterations", "steps"],
  "properties": {
    "run_id": {"type": "string", "minLength": 1},
    "user_id": {"type": "string"},
    "outcome": {"type": "string", "enum": ["completed", "degraded", "failed"]},
    "iterations": {"type": "integer", "minimum": 0},
    "steps": {"type": "integer", "minimum": 0},
    "duration_ms": {"type": "integer", "minimum": 0}
  },
  "additionalProperties": true
}`),
	},
}

// BaseDefinitions returns a copy of the built-in schema definitions.
func BaseDefinitions() []Definition {
	out := make([]Definition, len(baseDefinitions))
	copy(out, baseDefinitions)
	return out
}

// RegisterBaseSchemas compiles every built-in schema into reg.
func RegisterBaseSchemas(reg *SchemaRegistry) error {
	for _, def := range baseDefinitions {
		if err := reg.Register(def.EventType, def.Version, def.Schema); err != nil {
			return fmt.Errorf("register %s %s: %w", def.EventType, def.Version, err)
		}
	}
	return nil
}
