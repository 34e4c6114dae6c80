package extract

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-shiori/go-readability"
	"github.com/mohammad-safakhou/ragpipe/tools/web_fetch/models"
	"github.com/mohammad-safakhou/ragpipe/utils"
)

// Article runs readability over html and returns the main text, cut to
// maxChars bytes.
func Article(html, pageURL string, maxChars int) (models.Result, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return models.Result{}, fmt.Errorf("parse url: %w", err)
	}
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return models.Result{}, fmt.Errorf("readability: %w", err)
	}
	text := strings.TrimSpace(article.TextContent)
	if maxChars > 0 {
		text = utils.Truncate(text, maxChars)
	}
	sum := sha1.Sum([]byte(html))
	return models.Result{
		URL:      pageURL,
		Title:    strings.TrimSpace(article.Title),
		Byline:   strings.TrimSpace(article.Byline),
		SiteName: strings.TrimSpace(article.SiteName),
		Text:     text,
		HTMLHash: hex.EncodeToString(sum[:]),
		Status:   200,
	}, nil
}
