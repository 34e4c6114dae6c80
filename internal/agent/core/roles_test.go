package core

import (
	"strings"
	"testing"

	"github.com/mohammad-safakhou/ragpipe/models"
)

func TestExecutorDone(t *testing.T) {
	cases := []struct {
		msg  models.Message
		want bool
	}{
		{models.Message{Role: models.RoleUser, Content: ""}, true},
		{models.Message{Role: models.RoleUser, Content: "continue"}, false},
		{models.Message{Role: models.RoleTool, Content: ""}, false},
		{models.Message{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{Name: "web_search"}}}, false},
	}
	for _, c := range cases {
		if got := ExecutorDone(c.msg); got != c.want {
			t.Fatalf("ExecutorDone(%+v) = %v, want %v", c.msg, got, c.want)
		}
	}
}

func TestDriverDone(t *testing.T) {
	cases := []struct {
		msg  models.Message
		want bool
	}{
		{models.Message{Content: MarkerSummary + " the answer"}, true},
		{models.Message{Content: "## Summary\nthe answer"}, true},
		{models.Message{Content: MarkerTerminate}, true},
		{models.Message{Content: ""}, true},
		{models.Message{Content: "", ToolCalls: []models.ToolCall{{Name: "web_search"}}}, false},
		{models.Message{Content: "still working"}, false},
	}
	for _, c := range cases {
		if got := DriverDone(c.msg); got != c.want {
			t.Fatalf("DriverDone(%+v) = %v, want %v", c.msg, got, c.want)
		}
	}
}

func TestNewRolesOnlyExecutorHasTools(t *testing.T) {
	tool := Tool{Name: "web_search"}
	roles := NewRoles([]Tool{tool})
	if len(roles.Executor.Tools) != 1 || roles.Executor.IsTermination == nil {
		t.Fatalf("executor misconfigured: %+v", roles.Executor)
	}
	for _, r := range []Role{roles.Generic, roles.Planner, roles.Reflector} {
		if len(r.Tools) != 0 {
			t.Fatalf("%s must not have tools", r.Name)
		}
	}
	if _, ok := roles.Executor.FindTool("web_search"); !ok {
		t.Fatalf("expected web_search to be found")
	}
	if !strings.Contains(roles.Executor.SystemMessage, "<function_call>") {
		t.Fatalf("executor prompt must describe the function call format")
	}
}

func TestExchangeFrom(t *testing.T) {
	ex := Exchange{Messages: []models.Message{
		{Name: DriverName, Content: "do it"},
		{Name: ResearchAssistantName, Content: ""},
		{Name: ResearchAssistantName, Content: "first"},
		{Name: DriverName, Role: models.RoleTool, Content: "tool output"},
		{Name: ResearchAssistantName, Content: "second"},
	}}
	got := ex.From(ResearchAssistantName)
	if strings.Join(got, ",") != "first,second" {
		t.Fatalf("unexpected replies %q", got)
	}
	if ex.Content() != "second" {
		t.Fatalf("unexpected content %q", ex.Content())
	}
}

func TestPromptHelpers(t *testing.T) {
	if got := ExecutionPrompt("step", nil); got != "step" {
		t.Fatalf("unexpected prompt %q", got)
	}
	got := ExecutionPrompt("step", []string{"a", "b"})
	if got != "step\n Contextual Information: \n[\"a\", \"b\"]" {
		t.Fatalf("unexpected prompt %q", got)
	}
	if msg := CriticMessage("list companies", "none"); !strings.Contains(msg, "list companies") || !strings.Contains(msg, MarkerNo) {
		t.Fatalf("critic message missing parts: %s", msg)
	}
	if msg := SearchTermMessage("2024-05-01", "latest go release"); !strings.HasSuffix(msg, "Today's date is 2024-05-01. latest go release") {
		t.Fatalf("unexpected search term message %q", msg)
	}
}
