package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/ragpipe/config"
	"github.com/mohammad-safakhou/ragpipe/internal/agent/core"
	"github.com/mohammad-safakhou/ragpipe/internal/pipe"
	"github.com/mohammad-safakhou/ragpipe/models"
)

// Gateway is the part of the pipe the chat endpoints need.
type Gateway interface {
	ID() string
	Models(overrides map[string]any) ([]pipe.Model, error)
	Run(ctx context.Context, req pipe.Request, emit core.Emitter) (pipe.Reply, error)
}

// ChatHandler serves the OpenAI-compatible endpoints the host talks to.
type ChatHandler struct {
	Pipe           Gateway
	StreamEvents   bool
	RequestTimeout time.Duration
	Logger         *log.Logger
}

func (h *ChatHandler) Register(g *echo.Group) {
	if h.Logger == nil {
		h.Logger = newLogger("[HTTP] ")
	}
	g.GET("/models", h.models)
	g.POST("/chat/completions", h.completions)
}

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Name    string `json:"name"`
	OwnedBy string `json:"owned_by"`
}

type modelList struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

func (h *ChatHandler) models(c echo.Context) error {
	ms, err := h.Pipe.Models(nil)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := modelList{Object: "list", Data: []modelEntry{}}
	for _, m := range ms {
		out.Data = append(out.Data, modelEntry{ID: m.ID, Object: "model", Name: m.Name, OwnedBy: h.Pipe.ID()})
	}
	return c.JSON(http.StatusOK, out)
}

type chatCompletionRequest struct {
	Model    string           `json:"model"`
	Messages []models.Message `json:"messages"`
	Stream   bool             `json:"stream"`
	User     string           `json:"user"`
	UserName string           `json:"user_name"`
	Valves   map[string]any   `json:"valves"`
}

type chatMessage struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

type chatChoice struct {
	Index        int          `json:"index"`
	Message      *chatMessage `json:"message,omitempty"`
	Delta        *chatMessage `json:"delta,omitempty"`
	FinishReason *string      `json:"finish_reason"`
}

type chatCompletion struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	RunID   string       `json:"run_id,omitempty"`
}

func (h *ChatHandler) completions(c echo.Context) error {
	var req chatCompletionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Messages) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "messages required")
	}
	model := req.Model
	if model == "" {
		model = h.Pipe.ID()
	}

	ctx := c.Request().Context()
	if h.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.RequestTimeout)
		defer cancel()
	}
	preq := pipe.Request{
		Messages: req.Messages,
		User:     pipe.User{ID: req.User, Name: req.UserName},
		Valves:   req.Valves,
	}
	base := chatCompletion{
		ID:      "chatcmpl-" + uuid.NewString(),
		Created: time.Now().Unix(),
		Model:   model,
	}

	if !req.Stream {
		reply, err := h.Pipe.Run(ctx, preq, nil)
		if err != nil {
			return runError(err)
		}
		stop := "stop"
		out := base
		out.Object = "chat.completion"
		out.RunID = reply.RunID
		out.Choices = []chatChoice{{Message: &chatMessage{Role: models.RoleAssistant, Content: reply.Content}, FinishReason: &stop}}
		return c.JSON(http.StatusOK, out)
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}
	send := func(v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(resp, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	chunk := func(content string, finish *string) chatCompletion {
		out := base
		out.Object = "chat.completion.chunk"
		out.Choices = []chatChoice{{Delta: &chatMessage{Content: content}, FinishReason: finish}}
		return out
	}

	var emit core.Emitter
	if h.StreamEvents {
		emit = func(ctx context.Context, ev core.Event) error {
			return send(chunk(ev.Data.Content, nil))
		}
	}
	reply, err := h.Pipe.Run(ctx, preq, emit)
	if err != nil {
		h.Logger.Printf("chat stream %s failed: %v", base.ID, err)
		_ = send(map[string]any{"error": map[string]string{"message": err.Error()}})
	} else {
		stop := "stop"
		_ = send(chunk(reply.Content, nil))
		_ = send(chunk("", &stop))
	}
	_, _ = fmt.Fprint(resp, "data: [DONE]\n\n")
	flusher.Flush()
	return nil
}

func runError(err error) error {
	switch {
	case errors.Is(err, config.ErrInvalidValve), errors.Is(err, models.ErrEmptyConversation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
