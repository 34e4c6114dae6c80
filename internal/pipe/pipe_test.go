package pipe

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/mohammad-safakhou/ragpipe/config"
	"github.com/mohammad-safakhou/ragpipe/internal/agent/core"
	"github.com/mohammad-safakhou/ragpipe/internal/agent/tools"
	"github.com/mohammad-safakhou/ragpipe/internal/queue/streams"
	"github.com/mohammad-safakhou/ragpipe/internal/store"
	"github.com/mohammad-safakhou/ragpipe/knowledge"
	"github.com/mohammad-safakhou/ragpipe/models"
	"github.com/mohammad-safakhou/ragpipe/provider"
)

// fakeLLM answers each role from the system prompt and the last message.
type fakeLLM struct {
	mu         sync.Mutex
	requests   []models.ChatRequest
	toolResult string
	reflector  []string
}

func (f *fakeLLM) Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	system := ""
	if len(req.Messages) > 0 && req.Messages[0].Role == models.RoleSystem {
		system = req.Messages[0].Content
	}
	last := req.Messages[len(req.Messages)-1]
	say := func(s string) (models.ChatResponse, error) {
		return models.ChatResponse{Message: models.Message{Content: s}}, nil
	}

	switch system {
	case core.PlannerPrompt():
		return say(`{"plan": ["Search documents for the PTO balance"]}`)
	case core.ReflectionPrompt():
		if len(f.reflector) == 0 {
			return say(core.MarkerTerminate)
		}
		s := f.reflector[0]
		f.reflector = f.reflector[1:]
		return say(s)
	case core.ExecutorPrompt():
		if last.Role == models.RoleTool {
			f.toolResult = last.Content
			return say(core.MarkerSummary + " " + last.Content)
		}
		return models.ChatResponse{Message: models.Message{ToolCalls: []models.ToolCall{{
			Name:      tools.KnowledgeSearchName,
			Arguments: `{"search_instruction": "PTO balance"}`,
		}}}}, nil
	}

	switch {
	case strings.HasPrefix(last.Content, "The previous instruction was"):
		return say(core.MarkerYes)
	case strings.HasPrefix(last.Content, "The instruction is:"):
		return say("Alice has 12 days of PTO left.")
	case strings.HasPrefix(last.Content, "Answer the user's query:"):
		return say("You have 12 days of PTO left.")
	default:
		return say("🏖️ PTO Balance Check")
	}
}

func (f *fakeLLM) CreateEmbedding(ctx context.Context, model string, texts []string) ([][]float32, error) {
	return nil, errors.New("embeddings not supported")
}

type memJournal struct {
	mu   sync.Mutex
	runs []store.RunRecord
}

func (j *memJournal) SaveRun(ctx context.Context, rec store.RunRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs = append(j.runs, rec)
	return nil
}

type published struct {
	stream, eventType, runID string
	payload                  interface{}
}

type memPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *memPublisher) PublishRaw(ctx context.Context, stream, eventType, version, runID string, payload interface{}, opts ...streams.PublishOption) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{stream: stream, eventType: eventType, runID: runID, payload: payload})
	return "1-0", nil
}

type noSearch struct{}

func (noSearch) Run(ctx context.Context, q string) (string, error) { return "", errors.New("offline") }

func testConfig() config.Config {
	return config.Config{
		Pipe:      config.PipeConfig{ID: "granite_retrieval_agent", Name: "Granite Retrieval Agent", ExecutorTurns: 3},
		Valves:    config.DefaultValves(),
		Knowledge: config.KnowledgeConfig{TopK: 3},
		Events:    config.EventsConfig{RedisStream: "agent-events"},
	}
}

func newTestPipe(t *testing.T, llm *fakeLLM, journal Journal, events EventPublisher) (*Pipe, *[]config.Valves) {
	t.Helper()
	ctx := context.Background()
	lib, err := knowledge.NewLibrary(ctx, knowledge.Options{})
	if err != nil {
		t.Fatalf("NewLibrary: %v", err)
	}
	c, err := lib.CreateCollection(ctx, "hr", "HR documents", "alice")
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if _, err := lib.Ingest(ctx, c.ID, []knowledge.DocInput{{Title: "PTO", Text: "Alice has 12 days of PTO balance remaining."}}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	var seen []config.Valves
	p := New(Options{
		Config:    testConfig(),
		Retriever: lib,
		Journal:   journal,
		Events:    events,
		NewProvider: func(v config.Valves) (provider.Provider, error) {
			seen = append(seen, v)
			return llm, nil
		},
		NewSearcher: func(v config.Valves) (tools.Searcher, error) { return noSearch{}, nil },
	})
	return p, &seen
}

func TestHandleRunsTheLoop(t *testing.T) {
	llm := &fakeLLM{}
	journal := &memJournal{}
	events := &memPublisher{}
	p, _ := newTestPipe(t, llm, journal, events)

	var progress []string
	emit := func(ctx context.Context, ev core.Event) error {
		progress = append(progress, ev.Data.Content)
		return nil
	}
	req := Request{
		Messages: []models.Message{{Role: models.RoleUser, Content: "How many PTO days do I have left?"}},
		User:     User{ID: "alice"},
	}
	reply, err := p.Run(context.Background(), req, emit)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reply.Content != "You have 12 days of PTO left." || reply.Utility || reply.RunID == "" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if !strings.Contains(llm.toolResult, "12 days of PTO") {
		t.Fatalf("expected the executor to see the knowledge passage, got %q", llm.toolResult)
	}

	want := []string{
		core.ProgressPlanning + "\n",
		core.ProgressExecuting + "Search documents for the PTO balance\n",
		core.ProgressNextStep + "\n",
		core.ProgressSummarizing + "\n",
	}
	if strings.Join(progress, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected progress %q", progress)
	}

	if len(journal.runs) != 1 {
		t.Fatalf("expected one journal entry, got %d", len(journal.runs))
	}
	rec := journal.runs[0]
	if rec.ID != reply.RunID || rec.UserID != "alice" || rec.Outcome != store.OutcomeCompleted || !rec.Terminated || len(rec.Steps) != 1 {
		t.Fatalf("unexpected journal entry %+v", rec)
	}

	if len(events.events) != len(want)+1 {
		t.Fatalf("expected %d stream events, got %d", len(want)+1, len(events.events))
	}
	for _, ev := range events.events[:len(want)] {
		if ev.eventType != streams.EventProgress || ev.runID != reply.RunID || ev.stream != "agent-events" {
			t.Fatalf("unexpected progress event %+v", ev)
		}
	}
	final := events.events[len(events.events)-1]
	payload, ok := final.payload.(streams.RunFinishedPayload)
	if final.eventType != streams.EventRunFinished || !ok || payload.Outcome != store.OutcomeCompleted || payload.Steps != 1 {
		t.Fatalf("unexpected final event %+v", final)
	}
}

func TestHandleAnswersUtilityRequestsDirectly(t *testing.T) {
	llm := &fakeLLM{}
	journal := &memJournal{}
	p, _ := newTestPipe(t, llm, journal, nil)

	content := "### Task:\nCreate a concise, 3-5 word title with an emoji as a title for the chat history, in the given language."
	emitted := 0
	out, err := p.Handle(context.Background(), Request{
		Messages: []models.Message{
			{Role: models.RoleUser, Content: "How many PTO days do I have left?"},
			{Role: models.RoleUser, Content: content},
		},
	}, func(ctx context.Context, ev core.Event) error { emitted++; return nil })
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out != "🏖️ PTO Balance Check" {
		t.Fatalf("unexpected title %q", out)
	}
	if len(llm.requests) != 1 || emitted != 0 || len(journal.runs) != 0 {
		t.Fatalf("expected one direct call, got %d calls / %d events / %d runs", len(llm.requests), emitted, len(journal.runs))
	}
	sent := llm.requests[0].Messages
	if len(sent) != 1 || sent[0].Content != content {
		t.Fatalf("expected only the last message to be sent, got %+v", sent)
	}
}

func TestHandleAppliesValves(t *testing.T) {
	llm := &fakeLLM{}
	p, seen := newTestPipe(t, llm, nil, nil)
	req := Request{
		Messages: []models.Message{{Role: models.RoleUser, Content: "You are an autocompletion system. Continue: Hello"}},
		Valves:   map[string]any{"TASK_MODEL_ID": "granite3.2:8b", "MODEL_TEMPERATURE": 0.3},
	}
	if _, err := p.Handle(context.Background(), req, nil); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(*seen) != 1 || (*seen)[0].TaskModelID != "granite3.2:8b" {
		t.Fatalf("unexpected valves %+v", *seen)
	}
	if got := llm.requests[0]; got.Model != "granite3.2:8b" || got.Temperature != 0.3 {
		t.Fatalf("unexpected request model %q temperature %v", got.Model, got.Temperature)
	}

	req.Valves = map[string]any{"MAX_PLAN_STEPS": 0}
	if _, err := p.Handle(context.Background(), req, nil); !errors.Is(err, config.ErrInvalidValve) {
		t.Fatalf("expected ErrInvalidValve, got %v", err)
	}
}

func TestHandleRejectsEmptyConversation(t *testing.T) {
	p, _ := newTestPipe(t, &fakeLLM{}, nil, nil)
	if _, err := p.Handle(context.Background(), Request{}, nil); !errors.Is(err, models.ErrEmptyConversation) {
		t.Fatalf("expected ErrEmptyConversation, got %v", err)
	}
}

func TestHandleCancelledRunIsJournaledAsFailed(t *testing.T) {
	journal := &memJournal{}
	p, _ := newTestPipe(t, &fakeLLM{}, journal, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Handle(ctx, Request{Messages: []models.Message{{Role: models.RoleUser, Content: "anything"}}}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(journal.runs) != 1 || journal.runs[0].Outcome != store.OutcomeFailed || journal.runs[0].Error == "" {
		t.Fatalf("unexpected journal %+v", journal.runs)
	}
}

func TestModelsAndUtilityDetection(t *testing.T) {
	p, _ := newTestPipe(t, &fakeLLM{}, nil, nil)
	if p.ID() != "granite_retrieval_agent" || p.Name() != "Granite Retrieval Agent" {
		t.Fatalf("unexpected identity %q %q", p.ID(), p.Name())
	}
	ms, err := p.Models(map[string]any{"TASK_MODEL_ID": "llama3.1:8b"})
	if err != nil || len(ms) != 1 || ms[0].ID != "llama3.1:8b" || ms[0].Name != "Granite Retrieval Agent" {
		t.Fatalf("unexpected models %+v (%v)", ms, err)
	}

	cases := map[string]bool{
		"Generate 1-3 broad tags categorizing the main themes of the chat history, along with 1-3 more specific subtopic tags.": true,
		"You are an autocompletion system. Continue the text": true,
		"Summarize the chat history":                          false,
		"":                                                    false,
	}
	for in, want := range cases {
		if got := IsUtilityRequest(in); got != want {
			t.Fatalf("IsUtilityRequest(%q) = %v, want %v", in, got, want)
		}
	}
}
