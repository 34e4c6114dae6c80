package pipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/ragpipe/config"
	"github.com/mohammad-safakhou/ragpipe/internal/agent/chat"
	"github.com/mohammad-safakhou/ragpipe/internal/agent/core"
	"github.com/mohammad-safakhou/ragpipe/internal/agent/telemetry"
	"github.com/mohammad-safakhou/ragpipe/internal/agent/tools"
	"github.com/mohammad-safakhou/ragpipe/internal/queue/streams"
	"github.com/mohammad-safakhou/ragpipe/internal/store"
	"github.com/mohammad-safakhou/ragpipe/models"
	"github.com/mohammad-safakhou/ragpipe/provider"
	"github.com/mohammad-safakhou/ragpipe/tools/web_search"
)

// utilityFragments identify the host's own housekeeping prompts.
var utilityFragments = []string{
	"Create a concise, 3-5 word title with an emoji as a title for the chat history",
	"Generate 1-3 broad tags categorizing the main themes of the chat history, along with 1-3 more specific subtopic tags.",
	"You are an autocompletion system.",
}

// IsUtilityRequest reports whether content is a title, tag or autocomplete
// prompt from the host.
func IsUtilityRequest(content string) bool {
	for _, f := range utilityFragments {
		if strings.Contains(content, f) {
			return true
		}
	}
	return false
}

// User identifies the caller; an empty ID only sees shared knowledge.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Request is one invocation from the host.
type Request struct {
	Messages []models.Message
	User     User
	Valves   map[string]any
}

// Reply is the outcome of a request.
type Reply struct {
	RunID   string
	Content string
	Utility bool
	Result  *core.Result
}

// Model is an entry of the model list the pipe advertises.
type Model struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Journal records finished runs.
type Journal interface {
	SaveRun(ctx context.Context, rec store.RunRecord) error
}

// EventPublisher fans progress events out to a stream.
type EventPublisher interface {
	PublishRaw(ctx context.Context, stream, eventType, version, runID string, payload interface{}, opts ...streams.PublishOption) (string, error)
}

// ProviderFactory builds the model client for the resolved valves.
type ProviderFactory func(v config.Valves) (provider.Provider, error)

// SearcherFactory builds the web search backend for the resolved valves.
type SearcherFactory func(v config.Valves) (tools.Searcher, error)

type Options struct {
	Config      config.Config
	Retriever   tools.Retriever
	Journal     Journal
	Events      EventPublisher
	Metrics     *telemetry.Metrics
	Logger      *log.Logger
	NewProvider ProviderFactory
	NewSearcher SearcherFactory
}

// Pipe is the entry point the host calls. Every request gets fresh roles,
// a fresh driver and a fresh orchestrator; only configuration is shared.
type Pipe struct {
	cfg         config.Config
	opts        Options
	logger      *log.Logger
	newProvider ProviderFactory
	newSearcher SearcherFactory
}

func New(opts Options) *Pipe {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	p := &Pipe{cfg: opts.Config, opts: opts, logger: logger}
	p.newProvider = opts.NewProvider
	if p.newProvider == nil {
		p.newProvider = p.defaultProvider
	}
	p.newSearcher = opts.NewSearcher
	if p.newSearcher == nil {
		p.newSearcher = p.defaultSearcher
	}
	return p
}

func (p *Pipe) ID() string   { return p.cfg.Pipe.ID }
func (p *Pipe) Name() string { return p.cfg.Pipe.Name }

// Models lists the single model the pipe serves under the resolved valves.
func (p *Pipe) Models(overrides map[string]any) ([]Model, error) {
	v, err := p.cfg.Valves.Merge(overrides)
	if err != nil {
		return nil, err
	}
	return []Model{{ID: v.TaskModelID, Name: p.cfg.Pipe.Name}}, nil
}

// Handle answers the conversation in req and returns the reply text.
func (p *Pipe) Handle(ctx context.Context, req Request, emit core.Emitter) (string, error) {
	reply, err := p.Run(ctx, req, emit)
	return reply.Content, err
}

// Run is Handle with the run details.
func (p *Pipe) Run(ctx context.Context, req Request, emit core.Emitter) (Reply, error) {
	valves, err := p.cfg.Valves.Merge(req.Valves)
	if err != nil {
		return Reply{}, err
	}
	last, err := models.LastMessage(req.Messages)
	if err != nil {
		return Reply{}, err
	}
	llm, err := p.newProvider(valves)
	if err != nil {
		return Reply{}, fmt.Errorf("model backend: %w", err)
	}
	driver := chat.NewDriver(llm, chat.Options{
		Model:       valves.TaskModelID,
		Temperature: valves.ModelTemperature,
		Logger:      p.prefixed("[CHAT] "),
		Metrics:     p.opts.Metrics,
		Debug:       p.cfg.General.Debug,
	})
	generic := core.NewRoles(nil).Generic

	if IsUtilityRequest(last.Content) {
		p.logger.Printf("utility request from %q, answering directly", req.User.ID)
		ex, err := driver.Reply(ctx, generic, []models.Message{last}, 1)
		if err != nil {
			return Reply{Utility: true}, err
		}
		return Reply{Content: ex.Content(), Utility: true}, nil
	}

	searcher, err := p.newSearcher(valves)
	if err != nil {
		return Reply{}, fmt.Errorf("search backend: %w", err)
	}
	toolLogger := p.prefixed("[TOOLS] ")
	webSearch := tools.WebSearch{Runner: driver, Distill: generic, Searcher: searcher, Logger: toolLogger}
	knowledgeSearch := tools.KnowledgeSearch{
		Retriever: p.opts.Retriever,
		UserID:    req.User.ID,
		TopK:      p.cfg.Knowledge.TopK,
		Logger:    toolLogger,
	}
	roles := core.NewRoles([]core.Tool{webSearch.Tool(), knowledgeSearch.Tool()})

	runID := uuid.NewString()
	orch := core.NewOrchestrator(driver, roles, core.Options{
		RunID:         runID,
		MaxPlanSteps:  valves.MaxPlanSteps,
		ExecutorTurns: p.cfg.Pipe.ExecutorTurns,
		Emitter:       core.FanOut(emit, p.streamEmitter(runID, req.User.ID)),
		Logger:        p.prefixed("[ORCH] "),
		Metrics:       p.opts.Metrics,
		Debug:         p.cfg.General.Debug,
	})

	p.logger.Printf("run %s for user %q: model=%s max_steps=%d", runID, req.User.ID, valves.TaskModelID, valves.MaxPlanSteps)
	res, runErr := orch.Run(ctx, last.Content)
	p.record(ctx, req.User.ID, res, runErr)
	if runErr != nil {
		return Reply{RunID: runID, Result: &res}, runErr
	}
	return Reply{RunID: runID, Content: res.Answer, Result: &res}, nil
}

func outcome(res core.Result, err error) string {
	switch {
	case err != nil:
		return store.OutcomeFailed
	case res.Degraded:
		return store.OutcomeDegraded
	default:
		return store.OutcomeCompleted
	}
}

// record journals the run and announces it on the event stream. Failures are
// logged only.
func (p *Pipe) record(ctx context.Context, userID string, res core.Result, runErr error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if p.opts.Journal != nil {
		rec := store.RunRecord{
			ID:         res.ID,
			UserID:     userID,
			Goal:       res.Goal,
			Plan:       res.Plan.StepList(),
			Answer:     res.Answer,
			Iterations: res.Iterations,
			Outcome:    outcome(res, runErr),
			Terminated: res.Terminated,
			Duration:   res.Duration.Milliseconds(),
		}
		for _, st := range res.Steps {
			rec.Steps = append(rec.Steps, store.RunStep{Instruction: st.Instruction, Output: st.Output})
		}
		if runErr != nil {
			rec.Error = runErr.Error()
		}
		if err := p.opts.Journal.SaveRun(ctx, rec); err != nil {
			p.logger.Printf("run %s: journal write failed: %v", res.ID, err)
		}
	}

	if p.opts.Events != nil && p.cfg.Events.RedisStream != "" {
		payload := streams.RunFinishedPayload{
			RunID:      res.ID,
			UserID:     userID,
			Outcome:    outcome(res, runErr),
			Iterations: res.Iterations,
			Steps:      len(res.Steps),
			DurationMS: res.Duration.Milliseconds(),
		}
		if _, err := p.opts.Events.PublishRaw(ctx, p.cfg.Events.RedisStream, streams.EventRunFinished, streams.VersionV1, res.ID, payload); err != nil {
			p.logger.Printf("run %s: publishing run event failed: %v", res.ID, err)
		}
	}
}

// streamEmitter mirrors progress events onto the configured Redis stream.
func (p *Pipe) streamEmitter(runID, userID string) core.Emitter {
	if p.opts.Events == nil || p.cfg.Events.RedisStream == "" {
		return nil
	}
	return func(ctx context.Context, ev core.Event) error {
		payload := streams.ProgressPayload{RunID: runID, UserID: userID, Type: ev.Type, Content: ev.Data.Content}
		_, err := p.opts.Events.PublishRaw(ctx, p.cfg.Events.RedisStream, streams.EventProgress, streams.VersionV1, runID, payload)
		return err
	}
}

func (p *Pipe) prefixed(prefix string) *log.Logger {
	return log.New(p.logger.Writer(), prefix, p.logger.Flags())
}

func (p *Pipe) defaultProvider(v config.Valves) (provider.Provider, error) {
	return provider.NewProvider(provider.OpenAI, provider.Options{
		BaseURL: v.OpenAIAPIURL,
		APIKey:  v.OpenAIAPIKey,
		Timeout: p.cfg.Pipe.LLMTimeout,
		Retries: p.cfg.Pipe.LLMRetries,
	})
}

func (p *Pipe) defaultSearcher(v config.Valves) (tools.Searcher, error) {
	s := p.cfg.Search
	opts := web_search.Options{Host: v.SearxHost, Timeout: s.Timeout, Retries: s.Retries}
	switch web_search.Provider(s.Provider) {
	case web_search.BraveProvider:
		opts.APIKey = s.BraveAPIKey
	case web_search.SerperProvider:
		opts.APIKey = s.SerperAPIKey
	}
	backend, err := web_search.NewWebSearcher(web_search.Provider(s.Provider), opts)
	if err != nil {
		if errors.Is(err, web_search.ErrUnsupportedProvider) {
			return nil, fmt.Errorf("%w: %q", err, s.Provider)
		}
		return nil, err
	}
	return web_search.TextSearcher{Backend: backend, K: s.MaxResults}, nil
}
