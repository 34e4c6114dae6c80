package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PlanKind tells which shape the "plan" field of a Planner reply took.
type PlanKind int

const (
	// PlanEmpty means no usable plan was found.
	PlanEmpty PlanKind = iota
	// PlanList is a well-formed list of steps.
	PlanList
	// PlanText is a single string, either from JSON or from the text fallback.
	PlanText
)

func (k PlanKind) String() string {
	switch k {
	case PlanList:
		return "list"
	case PlanText:
		return "text"
	default:
		return "empty"
	}
}

// ParsedPlan is the structured reading of a Planner reply.
type ParsedPlan struct {
	Kind   PlanKind       `json:"kind"`
	Steps  []string       `json:"steps,omitempty"`
	Text   string         `json:"text,omitempty"`
	Fields map[string]any `json:"fields,omitempty"` // the decoded object when the reply was valid JSON
}

// StepList returns the plan as an ordered list; a text plan is one step.
func (p ParsedPlan) StepList() []string {
	switch p.Kind {
	case PlanList:
		return p.Steps
	case PlanText:
		return []string{p.Text}
	default:
		return nil
	}
}

// String renders the plan for prompts.
func (p ParsedPlan) String() string {
	b, err := json.Marshal(map[string]any{"plan": p.StepList()})
	if err != nil {
		return fmt.Sprint(p.StepList())
	}
	return string(b)
}

// ParseResponse reads a Planner reply. It never fails: code fences and a
// leading "json"/"python" tag are removed, strict JSON decoding is attempted
// and, when that fails, the text between "plan" and "next_step" is used.
func ParseResponse(raw string) ParsedPlan {
	msg := stripFences(raw)

	var fields map[string]any
	if err := json.Unmarshal([]byte(msg), &fields); err == nil {
		return planFromFields(fields)
	}
	return planFromText(msg)
}

func stripFences(msg string) string {
	msg = strings.TrimSpace(msg)
	msg = strings.TrimPrefix(msg, "```")
	msg = strings.TrimSuffix(msg, "```")
	msg = strings.TrimPrefix(msg, "json")
	msg = strings.TrimPrefix(msg, "python")
	return strings.TrimSpace(msg)
}

func planFromFields(fields map[string]any) ParsedPlan {
	out := ParsedPlan{Kind: PlanEmpty, Fields: fields}
	switch v := fields["plan"].(type) {
	case []any:
		steps := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				steps = append(steps, str)
				continue
			}
			steps = append(steps, fmt.Sprint(s))
		}
		if len(steps) > 0 {
			out.Kind = PlanList
			out.Steps = steps
		}
	case string:
		if strings.TrimSpace(v) != "" {
			out.Kind = PlanText
			out.Text = v
		}
	}
	return out
}

func planFromText(msg string) ParsedPlan {
	msg = strings.ReplaceAll(msg, `\n`, "\n")
	msg = strings.ReplaceAll(msg, "\n", " ")
	start := strings.Index(msg, "plan")
	end := strings.Index(msg, "next_step")
	if start < 0 || end < 0 {
		return ParsedPlan{Kind: PlanEmpty}
	}
	start += len("plan")
	if end <= start {
		return ParsedPlan{Kind: PlanEmpty}
	}
	text := strings.TrimSpace(strings.ReplaceAll(msg[start:end], `"`, ""))
	if text == "" {
		return ParsedPlan{Kind: PlanEmpty}
	}
	return ParsedPlan{Kind: PlanText, Text: text}
}
