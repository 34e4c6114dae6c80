package web_search

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mohammad-safakhou/ragpipe/tools/web_search/brave"
	"github.com/mohammad-safakhou/ragpipe/tools/web_search/models"
	"github.com/mohammad-safakhou/ragpipe/tools/web_search/searx"
	"github.com/mohammad-safakhou/ragpipe/tools/web_search/serper"
	"github.com/mohammad-safakhou/ragpipe/utils"
)

// WebSearcher queries a search backend for up to k results.
type WebSearcher interface {
	Discover(ctx context.Context, q string, k int) (models.Response, error)
}

type Provider string

const (
	SearxProvider  Provider = "searx"
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

var ErrUnsupportedProvider = errors.New("unsupported provider")

// NoResults is returned as text when the backend found nothing.
const NoResults = "No good search result found"

// Options configures a backend.
type Options struct {
	Host    string // searx base URL
	APIKey  string // brave / serper key
	Timeout time.Duration
	Retries int
}

func NewWebSearcher(provider Provider, opts Options) (WebSearcher, error) {
	client := utils.NewHTTPClient(opts.Timeout, opts.Retries, 0)
	switch provider {
	case SearxProvider:
		if strings.TrimSpace(opts.Host) == "" {
			return nil, errors.New("searx host not set")
		}
		return searx.Search{Host: opts.Host, Client: client}, nil
	case SerperProvider:
		return serper.Search{ApiKey: opts.APIKey, Client: client}, nil
	case BraveProvider:
		return brave.Search{ApiKey: opts.APIKey, Client: client}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}

// TextSearcher renders backend results as a single text blob.
type TextSearcher struct {
	Backend WebSearcher
	K       int
}

// Run searches for query and returns the direct answer when there is one,
// otherwise the snippets of the top K results separated by blank lines.
func (t TextSearcher) Run(ctx context.Context, query string) (string, error) {
	k := t.K
	if k <= 0 {
		k = 10
	}
	resp, err := t.Backend.Discover(ctx, query, k)
	if err != nil {
		return "", err
	}
	return Format(resp, k), nil
}

// Format renders a response as text.
func Format(resp models.Response, k int) string {
	if strings.TrimSpace(resp.Answer) != "" {
		return resp.Answer
	}
	var parts []string
	for _, r := range resp.Results {
		if len(parts) >= k {
			break
		}
		text := strings.TrimSpace(r.Snippet)
		if text == "" {
			text = strings.TrimSpace(r.Title)
		}
		if text == "" {
			continue
		}
		parts = append(parts, text)
	}
	if len(parts) == 0 {
		return NoResults
	}
	return strings.Join(parts, "\n\n")
}
