package core

import (
	"context"
	"strings"
	"time"

	"github.com/mohammad-safakhou/ragpipe/models"
)

// Role names as they appear in exchange histories.
const (
	GenericAssistantName  = "Generic_Assistant"
	PlannerName           = "Planner"
	ResearchAssistantName = "Research_Assistant"
	ReflectionName        = "ReflectionAssistant"
	DriverName            = "User"
)

// ToolHandler executes a tool with already validated arguments. A returned
// error is reported back to the model as text.
type ToolHandler func(ctx context.Context, args map[string]any) (string, error)

// Tool is a capability a role may invoke during an exchange.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema of the arguments object
	Handler     ToolHandler
}

// Spec returns the declaration sent to the model.
func (t Tool) Spec() models.ToolSpec {
	return models.ToolSpec{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
}

// Role is a named LLM persona: a system instruction, the tools it may call and
// an optional predicate deciding when a message sent to it ends the exchange.
type Role struct {
	Name          string
	SystemMessage string
	Tools         []Tool
	IsTermination func(msg models.Message) bool
}

// FindTool looks up a tool by name.
func (r Role) FindTool(name string) (Tool, bool) {
	for _, t := range r.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// Exchange is the full history of one bounded conversation with a role.
type Exchange struct {
	Messages []models.Message
	Turns    int
}

// Content is the content of the final message, the role's answer.
func (e Exchange) Content() string {
	if len(e.Messages) == 0 {
		return ""
	}
	return e.Messages[len(e.Messages)-1].Content
}

// From returns the non-empty contents authored by the named speaker, in order.
func (e Exchange) From(name string) []string {
	var out []string
	for _, m := range e.Messages {
		if m.Name == name && strings.TrimSpace(m.Content) != "" {
			out = append(out, m.Content)
		}
	}
	return out
}

// RoleRunner drives a bounded exchange with a role. maxTurns bounds the number
// of request/reply rounds; tool calls requested by the role are executed by
// the runner in between.
type RoleRunner interface {
	Reply(ctx context.Context, role Role, messages []models.Message, maxTurns int) (Exchange, error)
}

// Roles groups the personas used by one run.
type Roles struct {
	Generic   Role
	Planner   Role
	Executor  Role
	Reflector Role
}

// StepRecord is a plan step the Critic judged successful, with its output.
type StepRecord struct {
	Instruction string `json:"instruction"`
	Output      string `json:"output"`
}

// Result is the outcome of a run.
type Result struct {
	ID         string        `json:"id"`
	Goal       string        `json:"goal"`
	Plan       ParsedPlan    `json:"plan"`
	Steps      []StepRecord  `json:"steps"`
	Answer     string        `json:"answer"`
	Iterations int           `json:"iterations"`
	Terminated bool          `json:"terminated"` // the Reflector declared the goal met
	Degraded   bool          `json:"degraded"`   // a role call failed and the run was cut short
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}
