package web_fetch

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/ragpipe/tools/web_fetch/chromedp"
	"github.com/mohammad-safakhou/ragpipe/tools/web_fetch/models"
	"github.com/mohammad-safakhou/ragpipe/tools/web_fetch/static"
)

const (
	DefaultTimeout  = 30 * time.Second
	MaxCharsDefault = 20000
	UserAgent       = "ragpipe/1.0 (+knowledge-ingest)"
)

var ErrUnsupportedFetcher = errors.New("unsupported fetcher type")

type WebFetcher interface {
	Exec(ctx context.Context, url string) (models.Result, error)
}

type FetcherType string

const (
	ChromedpFetcherType FetcherType = "chromedp"
	StaticFetcherType   FetcherType = "static"
)

func NewWebFetcher(fetcherType FetcherType, timeout time.Duration, maxChars int) (WebFetcher, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}

	switch fetcherType {
	case ChromedpFetcherType, "":
		return chromedp.Fetch{Timeout: timeout, MaxChars: maxChars, UserAgent: UserAgent}, nil
	case StaticFetcherType:
		return static.Fetch{Client: &http.Client{Timeout: timeout}, MaxChars: maxChars, UserAgent: UserAgent}, nil
	default:
		return nil, ErrUnsupportedFetcher
	}
}
