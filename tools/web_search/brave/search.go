package brave

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mohammad-safakhou/ragpipe/tools/web_search/models"
	"github.com/mohammad-safakhou/ragpipe/utils"
)

const defaultBaseURL = "https://api.search.brave.com/res/v1/web/search"

type Search struct {
	ApiKey  string
	BaseURL string
	Client  *utils.HTTPClient
}

func (s Search) Discover(ctx context.Context, q string, k int) (models.Response, error) {
	// https://api.search.brave.com/app/documentation/web-search
	if strings.TrimSpace(q) == "" {
		return models.Response{}, errors.New("brave: empty query")
	}
	if k < 1 || k > 20 {
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
	url := fmt.Sprintf("%s?q=%s&count=%d", base, utils.UrlQuery(q), k)

	var raw struct {
		Web struct {
			Results []struct {
				Title   string `json:"title"`
				URL     string `json:"url"`
				Snippet string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	headers := map[string]string{"X-Subscription-Token": s.ApiKey}
	if err := client.DoJSON(ctx, http.MethodGet, url, headers, nil, &raw); err != nil {
		return models.Response{}, fmt.Errorf("brave: %w", err)
	}
	var out models.Response
	for i, r := range raw.Web.Results {
		if i >= k {
			break
		}
		out.Results = append(out.Results, models.Result{Title: r.Title, URL: r.URL, Snippet: r.Snippet})
	}
	return out, nil
}
