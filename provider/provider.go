package provider

import (
	"context"
	"errors"
	"time"

	"github.com/mohammad-safakhou/ragpipe/models"
	openai_provider "github.com/mohammad-safakhou/ragpipe/provider/openai"
)

// Client represents different LLM backends
type Client string

const (
	OpenAI Client = "openai"
)

// Provider is the interface every LLM backend must satisfy
type Provider interface {
	Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error)
	CreateEmbedding(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// Options configures a backend connection
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Retries int
}

// NewProvider creates a new LLM client for the given backend
func NewProvider(client Client, opts Options) (Provider, error) {
	switch client {
	case OpenAI:
		if opts.BaseURL == "" {
			return nil, errors.New("base url not set")
		}
		return openai_provider.NewOpenAIClient(opts.BaseURL, opts.APIKey, opts.Timeout, opts.Retries), nil
	default:
		return nil, errors.New("unsupported LLM provider")
	}
}

