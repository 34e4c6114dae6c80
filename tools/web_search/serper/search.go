package serper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mohammad-safakhou/ragpipe/tools/web_search/models"
	"github.com/mohammad-safakhou/ragpipe/utils"
)

const defaultBaseURL = "https://google.serper.dev/search"

type Search struct {
	ApiKey  string
	BaseURL string
	Client  *utils.HTTPClient
}

func (s Search) Discover(ctx context.Context, q string, k int) (models.Response, error) {
	// https://serper.dev/ docs
	if strings.TrimSpace(q) == "" {
		return models.Response{}, errors.New("serper: empty query")
	}
	if k < 1 || k > 25 {
		k = 10
	}
	base := s.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	client := s.Client
	if client == nil {
		client = utils.NewHTTPClient(0, 1, 0)
	}

	var raw map[string]any
	payload := map[string]any{"q": q, "num": k}
	headers := map[string]string{"X-API-KEY": s.ApiKey}
	if err := client.DoJSON(ctx, http.MethodPost, base, headers, payload, &raw); err != nil {
		return models.Response{}, fmt.Errorf("serper: %w", err)
	}

	var out models.Response
	if box, ok := raw["answerBox"].(map[string]any); ok {
		out.Answer = utils.Str(box["answer"])
		if out.Answer == "" {
			out.Answer = utils.Str(box["snippet"])
		}
	}
	if items, ok := raw["organic"].([]any); ok {
		for i, it := range items {
			if i >= k {
				break
			}
			m, ok := it.(map[string]any)
			if !ok {
				continue
			}
			out.Results = append(out.Results, models.Result{
				Title: utils.Str(m["title"]), URL: utils.Str(m["link"]), Snippet: utils.Str(m["snippet"]),
			})
		}
	}
	return out, nil
}
