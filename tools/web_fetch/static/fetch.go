package static

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/ragpipe/tools/web_fetch/extract"
	"github.com/mohammad-safakhou/ragpipe/tools/web_fetch/models"
)

// maxBody bounds how much of a page is read.
const maxBody = 5 << 20

// Fetch downloads pages with a plain GET, for hosts without a browser.
type Fetch struct {
	Client    *http.Client
	MaxChars  int
	UserAgent string
}

func (f Fetch) Exec(ctx context.Context, url string) (models.Result, error) {
	if strings.TrimSpace(url) == "" {
		return models.Result{}, errors.New("invalid url")
	}
	t0 := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.Result{}, err
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.Client.Do(req)
	if err != nil {
		return models.Result{URL: url, Status: 599}, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return models.Result{URL: url, Status: resp.StatusCode}, fmt.Errorf("get %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return models.Result{URL: url, Status: resp.StatusCode}, err
	}
	res, err := extract.Article(string(body), url, f.MaxChars)
	res.RenderMS = int(time.Since(t0) / time.Millisecond)
	return res, err
}
