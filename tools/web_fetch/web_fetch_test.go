package web_fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func articlePage() string {
	para := strings.Repeat("Remote employees may claim a home office stipend once per fiscal year. ", 12)
	return fmt.Sprintf(`<html><head><title>Stipend Policy</title></head><body>
<nav><a href="/">Home</a> | <a href="/about">About</a></nav>
<article><h1>Stipend Policy</h1><p>%s</p><p>%s</p><p>%s</p></article>
<footer>Copyright</footer></body></html>`, para, para, para)
}

func TestStaticFetcherExtractsArticle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != UserAgent {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(articlePage()))
	}))
	defer srv.Close()

	f, err := NewWebFetcher(StaticFetcherType, 5*time.Second, 300)
	if err != nil {
		t.Fatalf("NewWebFetcher: %v", err)
	}
	res, err := f.Exec(context.Background(), srv.URL+"/policy")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.Status != 200 || res.HTMLHash == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !strings.Contains(res.Title, "Stipend Policy") {
		t.Fatalf("unexpected title %q", res.Title)
	}
	if !strings.Contains(res.Text, "home office stipend") || len(res.Text) > 300 {
		t.Fatalf("unexpected text (%d bytes): %q", len(res.Text), res.Text)
	}
}

func TestStaticFetcherReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f, _ := NewWebFetcher(StaticFetcherType, time.Second, 0)
	res, err := f.Exec(context.Background(), srv.URL)
	if err == nil || res.Status != http.StatusNotFound {
		t.Fatalf("expected a 404 error, got %+v (%v)", res, err)
	}
	if _, err := f.Exec(context.Background(), "  "); err == nil {
		t.Fatalf("expected an error for a blank url")
	}
}

func TestNewWebFetcherRejectsUnknownType(t *testing.T) {
	if _, err := NewWebFetcher("curl", 0, 0); !errors.Is(err, ErrUnsupportedFetcher) {
		t.Fatalf("expected ErrUnsupportedFetcher, got %v", err)
	}
}
