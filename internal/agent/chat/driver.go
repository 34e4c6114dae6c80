package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/ragpipe/internal/agent/core"
	"github.com/mohammad-safakhou/ragpipe/internal/agent/telemetry"
	"github.com/mohammad-safakhou/ragpipe/models"
)

// Chatter is the slice of the LLM provider the driver needs.
type Chatter interface {
	Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error)
}

// Options configures a Driver.
type Options struct {
	Model       string
	Temperature float64
	Logger      *log.Logger
	Metrics     *telemetry.Metrics
	Debug       bool
}

// Driver speaks to roles on behalf of the user. It sends messages, executes
// the tools a role asks for and decides when an exchange is over.
type Driver struct {
	llm     Chatter
	opts    Options
	logger  *log.Logger
	schemas *schemaCache
}

var _ core.RoleRunner = (*Driver)(nil)

// NewDriver creates a driver over llm.
func NewDriver(llm Chatter, opts Options) *Driver {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Driver{llm: llm, opts: opts, logger: logger, schemas: newSchemaCache()}
}

// Reply runs an exchange of at most maxTurns request/reply rounds with role.
// Between rounds the driver answers tool calls with their results, or with an
// empty message when the role asked for nothing. The exchange ends early when
// the role's own predicate rejects the next message or when a reply carries a
// summary or terminate marker.
func (d *Driver) Reply(ctx context.Context, role core.Role, messages []models.Message, maxTurns int) (core.Exchange, error) {
	if maxTurns < 1 {
		maxTurns = 1
	}
	pending := make([]models.Message, len(messages))
	for i, m := range messages {
		if m.Role == "" {
			m.Role = models.RoleUser
		}
		if m.Name == "" && m.Role == models.RoleUser {
			m.Name = core.DriverName
		}
		pending[i] = m
	}

	var history []models.Message
	turns := 0
	for turn := 0; turn < maxTurns; turn++ {
		if len(pending) > 0 && role.IsTermination != nil && role.IsTermination(pending[len(pending)-1]) {
			break
		}
		history = append(history, pending...)

		reply, err := d.complete(ctx, role, history)
		if err != nil {
			return core.Exchange{Messages: history, Turns: turns}, err
		}
		history = append(history, reply)
		turns++

		if core.DriverDone(reply) || turn == maxTurns-1 {
			break
		}
		if reply.HasToolCalls() {
			pending = d.runTools(ctx, role, reply.ToolCalls)
		} else {
			pending = []models.Message{{Role: models.RoleUser, Name: core.DriverName, Content: ""}}
		}
	}
	return core.Exchange{Messages: history, Turns: turns}, nil
}

func (d *Driver) complete(ctx context.Context, role core.Role, history []models.Message) (models.Message, error) {
	req := models.ChatRequest{
		Model:       d.opts.Model,
		Temperature: d.opts.Temperature,
	}
	if role.SystemMessage != "" {
		req.Messages = append(req.Messages, models.Message{Role: models.RoleSystem, Content: role.SystemMessage})
	}
	req.Messages = append(req.Messages, history...)
	for _, t := range role.Tools {
		req.Tools = append(req.Tools, t.Spec())
	}

	start := time.Now()
	resp, err := d.llm.Chat(ctx, req)
	if err != nil {
		return models.Message{}, err
	}
	d.opts.Metrics.RecordTokens(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	reply := resp.Message
	reply.Role = models.RoleAssistant
	reply.Name = role.Name
	if !reply.HasToolCalls() && len(role.Tools) > 0 {
		if call, ok := parseInlineCall(reply.Content); ok {
			reply.ToolCalls = []models.ToolCall{call}
		}
	}
	for i := range reply.ToolCalls {
		if reply.ToolCalls[i].ID == "" {
			reply.ToolCalls[i].ID = "call_" + uuid.NewString()
		}
	}
	if d.opts.Debug {
		d.logger.Printf("%s replied in %v (tool calls: %d): %q", role.Name, time.Since(start), len(reply.ToolCalls), reply.Content)
	}
	return reply, nil
}

// runTools executes the first requested call. Any further calls in the same
// reply are answered with an explanation instead of being run.
func (d *Driver) runTools(ctx context.Context, role core.Role, calls []models.ToolCall) []models.Message {
	out := make([]models.Message, 0, len(calls))
	for i, call := range calls {
		var content string
		if i == 0 {
			content = d.invoke(ctx, role, call)
		} else {
			content = fmt.Sprintf("Only one tool can be called at a time; the call to %s was not executed.", call.Name)
			d.logger.Printf("%s: skipped extra tool call %s", role.Name, call.Name)
		}
		out = append(out, models.Message{
			Role:       models.RoleTool,
			Name:       core.DriverName,
			ToolCallID: call.ID,
			Content:    content,
		})
	}
	return out
}

func (d *Driver) invoke(ctx context.Context, role core.Role, call models.ToolCall) string {
	tool, ok := role.FindTool(call.Name)
	if !ok {
		d.opts.Metrics.RecordTool(call.Name, fmt.Errorf("unknown tool"))
		return fmt.Sprintf("Error: tool %q is not available. Available tools: %s.", call.Name, toolNames(role))
	}

	args := map[string]any{}
	if raw := strings.TrimSpace(call.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			d.opts.Metrics.RecordTool(tool.Name, err)
			return fmt.Sprintf("Error: arguments for %s are not a valid JSON object: %v", tool.Name, err)
		}
	}
	if err := d.schemas.validateArgs(tool.Name, tool.Parameters, args); err != nil {
		d.opts.Metrics.RecordTool(tool.Name, err)
		return fmt.Sprintf("Error: invalid arguments for %s: %v", tool.Name, err)
	}

	start := time.Now()
	result, err := tool.Handler(ctx, args)
	d.opts.Metrics.RecordTool(tool.Name, err)
	if err != nil {
		d.logger.Printf("tool %s failed after %v: %v", tool.Name, time.Since(start), err)
		return fmt.Sprintf("Error: %s failed: %v", tool.Name, err)
	}
	d.logger.Printf("tool %s returned %d bytes in %v", tool.Name, len(result), time.Since(start))
	return result
}

func toolNames(role core.Role) string {
	names := make([]string, 0, len(role.Tools))
	for _, t := range role.Tools {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}

const inlineCallTag = "<function_call>"

// parseInlineCall reads a textual call of the form
// <function_call> {"name": "...", "arguments": {...}}.
func parseInlineCall(content string) (models.ToolCall, bool) {
	idx := strings.Index(content, inlineCallTag)
	if idx < 0 {
		return models.ToolCall{}, false
	}
	rest := content[idx+len(inlineCallTag):]
	brace := strings.Index(rest, "{")
	if brace < 0 {
		return models.ToolCall{}, false
	}
	var call struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.NewDecoder(strings.NewReader(rest[brace:])).Decode(&call); err != nil || call.Name == "" {
		return models.ToolCall{}, false
	}
	args := strings.TrimSpace(string(call.Arguments))
	// Some models send the arguments as a JSON-encoded string.
	var encoded string
	if err := json.Unmarshal(call.Arguments, &encoded); err == nil {
		args = encoded
	}
	if args == "" || args == "null" {
		args = "{}"
	}
	return models.ToolCall{ID: "call_" + uuid.NewString(), Name: call.Name, Arguments: args}, true
}
