package openai_provider

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/ragpipe/models"
	openai "github.com/sashabaranov/go-openai"
)

// client implements provider.Provider against any OpenAI-compatible endpoint
// (OpenAI itself, Ollama, vLLM, ...).
type client struct {
	api     *openai.Client
	retries int
	backoff time.Duration
}

// NewOpenAIClient creates a new OpenAI-compatible client
func NewOpenAIClient(baseURL, apiKey string, timeout time.Duration, retries int) *client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if retries < 0 {
		retries = 0
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &client{api: openai.NewClientWithConfig(cfg), retries: retries, backoff: 500 * time.Millisecond}
}

// Chat sends a chat-completion request, retrying transient failures.
func (c *client) Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	creq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Temperature: float32(req.Temperature),
		Messages:    toOpenAIMessages(req.Messages),
	}
	// temperature is omitempty upstream; a zero would fall back to the server default.
	if creq.Temperature == 0 {
		creq.Temperature = math.SmallestNonzeroFloat32
	}
	for _, t := range req.Tools {
		creq.Tools = append(creq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	var resp openai.ChatCompletionResponse
	err := c.withRetry(ctx, func() error {
		var err error
		resp, err = c.api.CreateChatCompletion(ctx, creq)
		return err
	})
	if err != nil {
		return models.ChatResponse{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return models.ChatResponse{}, errors.New("chat completion: no choices returned")
	}
	choice := resp.Choices[0]
	return models.ChatResponse{
		Message:      fromOpenAIMessage(choice.Message),
		FinishReason: string(choice.FinishReason),
		Usage: models.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// CreateEmbedding generates embeddings for the given texts
func (c *client) CreateEmbedding(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp openai.EmbeddingResponse
	err := c.withRetry(ctx, func() error {
		var err error
		resp, err = c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(model),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	vecs := make([][]float32, len(texts))
	for i, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(vecs) {
			vecs[d.Index] = d.Embedding
		} else if i < len(vecs) {
			vecs[i] = d.Embedding
		}
	}
	return vecs, nil
}

func (c *client) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		lastErr = fn()
		if lastErr == nil || !retryable(lastErr) {
			return lastErr
		}
		if attempt < c.retries {
			select {
			case <-time.After(c.backoff * time.Duration(1<<attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func toOpenAIMessages(msgs []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		cm := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		// Tool results are matched by ToolCallID and carry no name.
		if m.Role != models.RoleTool {
			cm.Name = m.Name
		}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, cm)
	}
	return out
}

func fromOpenAIMessage(m openai.ChatCompletionMessage) models.Message {
	msg := models.Message{Role: models.RoleAssistant, Content: m.Content}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return msg
}
