package core

import (
	"reflect"
	"testing"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		kind  PlanKind
		steps []string
	}{
		{
			name:  "plain json",
			in:    `{"plan": ["Query documents for Alice", "Summarize"]}`,
			kind:  PlanList,
			steps: []string{"Query documents for Alice", "Summarize"},
		},
		{
			name:  "fenced json",
			in:    "```json\n{\"plan\": [\"a\", \"b\"]}\n```",
			kind:  PlanList,
			steps: []string{"a", "b"},
		},
		{
			name:  "fenced without tag",
			in:    "```{\"plan\": [\"a\"]}```",
			kind:  PlanList,
			steps: []string{"a"},
		},
		{
			name:  "python tag",
			in:    "```python\n{\"plan\": [\"a\"]}\n```",
			kind:  PlanList,
			steps: []string{"a"},
		},
		{
			name:  "string plan",
			in:    `{"plan": "just search"}`,
			kind:  PlanText,
			steps: []string{"just search"},
		},
		{
			name:  "non-string elements",
			in:    `{"plan": ["a", 2]}`,
			kind:  PlanList,
			steps: []string{"a", "2"},
		},
		{
			name: "json without plan",
			in:   `{"steps": ["a"]}`,
			kind: PlanEmpty,
		},
		{
			name:  "fallback between markers",
			in:    `{"plan": ["a",\n "b"], "next_step": "a"`,
			kind:  PlanText,
			steps: []string{`: [a,  b],`},
		},
		{
			name: "markers out of order",
			in:   `next_step then plan`,
			kind: PlanEmpty,
		},
		{
			name: "free text",
			in:   "Sorry, I cannot help with that.",
			kind: PlanEmpty,
		},
		{
			name: "empty",
			in:   "",
			kind: PlanEmpty,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseResponse(tt.in)
			if got.Kind != tt.kind {
				t.Fatalf("kind: got %v want %v (%+v)", got.Kind, tt.kind, got)
			}
			if !reflect.DeepEqual(got.StepList(), tt.steps) {
				t.Fatalf("steps: got %q want %q", got.StepList(), tt.steps)
			}
		})
	}
}

func TestParseResponseFenceInvariant(t *testing.T) {
	bare := `{"plan": ["x", "y"], "note": "n"}`
	fenced := "```json\n" + bare + "\n```"
	a, b := ParseResponse(bare), ParseResponse(fenced)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("fenced and bare replies differ: %+v vs %+v", a, b)
	}
	if a.Fields["note"] != "n" {
		t.Fatalf("expected decoded fields to be kept, got %+v", a.Fields)
	}
}

func TestParsedPlanString(t *testing.T) {
	p := ParsedPlan{Kind: PlanText, Text: "only step"}
	if got := p.String(); got != `{"plan":["only step"]}` {
		t.Fatalf("unexpected rendering %s", got)
	}
	if got := (ParsedPlan{}).String(); got != `{"plan":null}` {
		t.Fatalf("unexpected empty rendering %s", got)
	}
}
