package searx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mohammad-safakhou/ragpipe/tools/web_search/models"
	"github.com/mohammad-safakhou/ragpipe/utils"
)

// Search queries a SearxNG instance through its JSON API.
type Search struct {
	Host   string
	Client *utils.HTTPClient
}

type response struct {
	Answers   []any `json:"answers"`
	Infoboxes []struct {
		Content string `json:"content"`
	} `json:"infoboxes"`
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (s Search) Discover(ctx context.Context, q string, k int) (models.Response, error) {
	if strings.TrimSpace(q) == "" {
		return models.Response{}, errors.New("searx: empty query")
	}
	client := s.Client
	if client == nil {
		client = utils.NewHTTPClient(0, 1, 0)
	}
	params := url.Values{}
	params.Set("q", q)
	params.Set("format", "json")
	endpoint := fmt.Sprintf("%s/search?%s", strings.TrimRight(s.Host, "/"), params.Encode())

	var raw response
	if err := client.DoJSON(ctx, http.MethodGet, endpoint, nil, nil, &raw); err != nil {
		return models.Response{}, fmt.Errorf("searx: %w", err)
	}

	var out models.Response
	// answers are plain strings on older instances and objects on newer ones
	for _, a := range raw.Answers {
		switch v := a.(type) {
		case string:
			out.Answer = v
		case map[string]any:
			out.Answer = utils.Str(v["answer"])
		}
		if out.Answer != "" {
			break
		}
	}
	if out.Answer == "" && len(raw.Infoboxes) > 0 {
		out.Answer = raw.Infoboxes[0].Content
	}
	for i, r := range raw.Results {
		if i >= k {
			break
		}
		out.Results = append(out.Results, models.Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return out, nil
}
