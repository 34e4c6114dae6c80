package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/mohammad-safakhou/ragpipe/internal/agent/core"
	"github.com/mohammad-safakhou/ragpipe/models"
)

// fakeLLM replies from a script and records every request.
type fakeLLM struct {
	mu       sync.Mutex
	replies  []models.Message
	err      error
	requests []models.ChatRequest
}

func (f *fakeLLM) Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return models.ChatResponse{}, f.err
	}
	if len(f.replies) == 0 {
		return models.ChatResponse{Message: models.Message{Role: models.RoleAssistant}}, nil
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return models.ChatResponse{Message: r}, nil
}

var searchParams = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"search_instruction": map[string]any{"type": "string", "description": "search instruction"},
	},
	"required": []any{"search_instruction"},
}

func searchTool(calls *[]string) core.Tool {
	return core.Tool{
		Name:        "web_search",
		Description: "Searches the web according to a given query",
		Parameters:  searchParams,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			q, _ := args["search_instruction"].(string)
			*calls = append(*calls, q)
			return "results for " + q, nil
		},
	}
}

func executorRole(tools ...core.Tool) core.Role {
	return core.NewRoles(tools).Executor
}

func userMsg(s string) []models.Message {
	return []models.Message{{Content: s}}
}

func TestReplySingleTurn(t *testing.T) {
	llm := &fakeLLM{replies: []models.Message{{Content: `{"plan": ["a"]}`}}}
	d := NewDriver(llm, Options{Model: "granite", Temperature: 0})

	ex, err := d.Reply(context.Background(), core.NewRoles(nil).Planner, userMsg("goal"), 1)
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if ex.Content() != `{"plan": ["a"]}` || ex.Turns != 1 {
		t.Fatalf("unexpected exchange %+v", ex)
	}
	req := llm.requests[0]
	if req.Model != "granite" || req.Messages[0].Role != models.RoleSystem || !strings.Contains(req.Messages[0].Content, "task planner") {
		t.Fatalf("unexpected request %+v", req)
	}
	if req.Messages[1].Name != core.DriverName || req.Messages[1].Role != models.RoleUser {
		t.Fatalf("driver message not stamped: %+v", req.Messages[1])
	}
	if ex.Messages[1].Name != core.PlannerName {
		t.Fatalf("reply not attributed to the role: %+v", ex.Messages[1])
	}
}

func TestReplyExecutesToolThenStopsOnSummary(t *testing.T) {
	var queries []string
	llm := &fakeLLM{replies: []models.Message{
		{ToolCalls: []models.ToolCall{{ID: "c1", Name: "web_search", Arguments: `{"search_instruction":"go release"}`}}},
		{Content: core.MarkerSummary + " Go 1.24 is out"},
		{Content: "never requested"},
	}}
	d := NewDriver(llm, Options{})

	ex, err := d.Reply(context.Background(), executorRole(searchTool(&queries)), userMsg("Find the latest Go release"), 3)
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if len(queries) != 1 || queries[0] != "go release" {
		t.Fatalf("unexpected tool invocations %v", queries)
	}
	if len(llm.requests) != 2 || ex.Turns != 2 {
		t.Fatalf("expected 2 turns, got %d requests / %d turns", len(llm.requests), ex.Turns)
	}
	tool := ex.Messages[2]
	if tool.Role != models.RoleTool || tool.ToolCallID != "c1" || tool.Content != "results for go release" {
		t.Fatalf("unexpected tool message %+v", tool)
	}
	if got := ex.From(core.ResearchAssistantName); len(got) != 1 || !strings.Contains(got[0], "Go 1.24") {
		t.Fatalf("unexpected executor replies %q", got)
	}
	if len(llm.requests[0].Tools) != 1 || llm.requests[0].Tools[0].Name != "web_search" {
		t.Fatalf("tools not declared: %+v", llm.requests[0].Tools)
	}
}

func TestReplyRunsOnlyFirstToolCall(t *testing.T) {
	var queries []string
	llm := &fakeLLM{replies: []models.Message{
		{ToolCalls: []models.ToolCall{
			{ID: "c1", Name: "web_search", Arguments: `{"search_instruction":"one"}`},
			{ID: "c2", Name: "web_search", Arguments: `{"search_instruction":"two"}`},
		}},
		{Content: core.MarkerSummary + " done"},
	}}
	d := NewDriver(llm, Options{})

	ex, err := d.Reply(context.Background(), executorRole(searchTool(&queries)), userMsg("x"), 3)
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if len(queries) != 1 || queries[0] != "one" {
		t.Fatalf("expected only the first call to run, got %v", queries)
	}
	skipped := ex.Messages[3]
	if skipped.ToolCallID != "c2" || !strings.Contains(skipped.Content, "Only one tool") {
		t.Fatalf("expected an explanation for the skipped call, got %+v", skipped)
	}
}

func TestReplyParsesInlineFunctionCall(t *testing.T) {
	var queries []string
	llm := &fakeLLM{replies: []models.Message{
		{Content: `<function_call> {"name": "web_search", "arguments": {"search_instruction": "granite models"}}`},
		{Content: core.MarkerSummary + " found"},
	}}
	d := NewDriver(llm, Options{})

	ex, err := d.Reply(context.Background(), executorRole(searchTool(&queries)), userMsg("x"), 3)
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if len(queries) != 1 || queries[0] != "granite models" {
		t.Fatalf("inline call not executed: %v", queries)
	}
	if !ex.Messages[1].HasToolCalls() || ex.Messages[1].ToolCalls[0].ID == "" {
		t.Fatalf("inline call not recorded on the reply: %+v", ex.Messages[1])
	}
}

func TestReplyReportsBadArguments(t *testing.T) {
	var queries []string
	llm := &fakeLLM{replies: []models.Message{
		{ToolCalls: []models.ToolCall{{ID: "c1", Name: "web_search", Arguments: `{"query": 3}`}}},
		{ToolCalls: []models.ToolCall{{ID: "c2", Name: "calculator", Arguments: `{}`}}},
		{Content: core.MarkerTerminate},
	}}
	d := NewDriver(llm, Options{})

	ex, err := d.Reply(context.Background(), executorRole(searchTool(&queries)), userMsg("x"), 3)
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if len(queries) != 0 {
		t.Fatalf("tool must not run with invalid arguments")
	}
	if c := ex.Messages[2].Content; !strings.Contains(c, "invalid arguments for web_search") {
		t.Fatalf("unexpected validation message %q", c)
	}
	if c := ex.Messages[4].Content; !strings.Contains(c, `tool "calculator" is not available`) {
		t.Fatalf("unexpected unknown-tool message %q", c)
	}
}

func TestReplyToolErrorBecomesText(t *testing.T) {
	failing := core.Tool{
		Name:       "personal_knowledge_search",
		Parameters: searchParams,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "", errors.New("index offline")
		},
	}
	llm := &fakeLLM{replies: []models.Message{
		{ToolCalls: []models.ToolCall{{ID: "c1", Name: "personal_knowledge_search", Arguments: `{"search_instruction":"notes"}`}}},
		{Content: core.MarkerTerminate},
	}}
	d := NewDriver(llm, Options{})

	ex, err := d.Reply(context.Background(), executorRole(failing), userMsg("x"), 3)
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if c := ex.Messages[2].Content; !strings.Contains(c, "index offline") {
		t.Fatalf("expected error text, got %q", c)
	}
}

func TestReplyStopsWhenExecutorHasNothingToSay(t *testing.T) {
	llm := &fakeLLM{replies: []models.Message{
		{Content: "Here is a partial answer without a marker"},
		{Content: "should not be requested"},
	}}
	d := NewDriver(llm, Options{})

	ex, err := d.Reply(context.Background(), executorRole(), userMsg("x"), 3)
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	// The driver's empty follow-up ends the executor's exchange.
	if len(llm.requests) != 1 || ex.Turns != 1 {
		t.Fatalf("expected a single turn, got %d", len(llm.requests))
	}
}

func TestReplyBoundsTurns(t *testing.T) {
	var queries []string
	call := models.Message{ToolCalls: []models.ToolCall{{Name: "web_search", Arguments: `{"search_instruction":"again"}`}}}
	llm := &fakeLLM{replies: []models.Message{call, call, call, call}}
	d := NewDriver(llm, Options{})

	ex, err := d.Reply(context.Background(), executorRole(searchTool(&queries)), userMsg("x"), 3)
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if len(llm.requests) != 3 || ex.Turns != 3 {
		t.Fatalf("expected 3 model calls, got %d", len(llm.requests))
	}
	if len(queries) != 2 {
		t.Fatalf("the call in the final turn must not run, got %d runs", len(queries))
	}
}

func TestReplyPropagatesBackendErrors(t *testing.T) {
	llm := &fakeLLM{err: errors.New("connection refused")}
	d := NewDriver(llm, Options{})
	if _, err := d.Reply(context.Background(), core.NewRoles(nil).Generic, userMsg("x"), 1); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseInlineCall(t *testing.T) {
	cases := []struct {
		in   string
		ok   bool
		name string
		args string
	}{
		{`<function_call> {"name": "web_search", "arguments": {"search_instruction": "a"}}`, true, "web_search", `{"search_instruction": "a"}`},
		{`Sure. <function_call>{"name":"web_search","arguments":"{\"search_instruction\":\"b\"}"} trailing`, true, "web_search", `{"search_instruction":"b"}`},
		{`<function_call> {"name": "web_search"}`, true, "web_search", `{}`},
		{`<function_call> not json`, false, "", ""},
		{`{"name": "web_search"}`, false, "", ""},
	}
	for _, c := range cases {
		call, ok := parseInlineCall(c.in)
		if ok != c.ok {
			t.Fatalf("parseInlineCall(%q) ok=%v", c.in, ok)
		}
		if ok && (call.Name != c.name || call.Arguments != c.args) {
			t.Fatalf("parseInlineCall(%q) = %+v", c.in, call)
		}
	}
}
