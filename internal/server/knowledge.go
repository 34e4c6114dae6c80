package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/ragpipe/knowledge"
	"github.com/mohammad-safakhou/ragpipe/tools/web_fetch"
)

// KnowledgeHandler administers knowledge collections.
type KnowledgeHandler struct {
	Library *knowledge.Library
	Fetcher web_fetch.WebFetcher
	TopK    int
	Logger  *log.Logger
}

func (h *KnowledgeHandler) Register(g *echo.Group) {
	if h.Logger == nil {
		h.Logger = newLogger("[HTTP] ")
	}
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.DELETE("/:id", h.delete)
	g.POST("/:id/documents", h.ingest)
	g.POST("/:id/urls", h.ingestURLs)
	g.POST("/:id/query", h.query)
}

func knowledgeError(err error) error {
	switch {
	case errors.Is(err, knowledge.ErrCollectionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, knowledge.ErrNoDocuments):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *KnowledgeHandler) list(c echo.Context) error {
	cols, err := h.Library.ListCollections(c.Request().Context(), c.QueryParam("user_id"))
	if err != nil {
		return knowledgeError(err)
	}
	if cols == nil {
		cols = []knowledge.Collection{}
	}
	return c.JSON(http.StatusOK, cols)
}

type createCollectionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	OwnerID     string `json:"owner_id"`
}

func (h *KnowledgeHandler) create(c echo.Context) error {
	var req createCollectionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Name) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name required")
	}
	col, err := h.Library.CreateCollection(c.Request().Context(), req.Name, req.Description, req.OwnerID)
	if err != nil {
		return knowledgeError(err)
	}
	return c.JSON(http.StatusCreated, col)
}

func (h *KnowledgeHandler) get(c echo.Context) error {
	col, err := h.Library.GetCollection(c.Request().Context(), c.Param("id"))
	if err != nil {
		return knowledgeError(err)
	}
	return c.JSON(http.StatusOK, col)
}

func (h *KnowledgeHandler) delete(c echo.Context) error {
	if err := h.Library.DeleteCollection(c.Request().Context(), c.Param("id")); err != nil {
		return knowledgeError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type ingestRequest struct {
	Documents []knowledge.DocInput `json:"documents"`
}

func (h *KnowledgeHandler) ingest(c echo.Context) error {
	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	resp, err := h.Library.Ingest(c.Request().Context(), c.Param("id"), req.Documents)
	if err != nil {
		return knowledgeError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

type ingestURLsRequest struct {
	URLs []string `json:"urls"`
}

// FetchFailure is a url that yielded no document.
type FetchFailure struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

type ingestURLsResponse struct {
	knowledge.IngestResponse
	Failed []FetchFailure `json:"failed,omitempty"`
}

func (h *KnowledgeHandler) ingestURLs(c echo.Context) error {
	if h.Fetcher == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "url ingestion disabled")
	}
	var req ingestURLsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.URLs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "urls required")
	}
	ctx := c.Request().Context()
	id := c.Param("id")
	if _, err := h.Library.GetCollection(ctx, id); err != nil {
		return knowledgeError(err)
	}

	docs, failed := FetchDocuments(ctx, h.Fetcher, req.URLs, h.Logger)
	out := ingestURLsResponse{IngestResponse: knowledge.IngestResponse{CollectionID: id}, Failed: failed}
	if len(docs) == 0 {
		return c.JSON(http.StatusBadGateway, out)
	}
	resp, err := h.Library.Ingest(ctx, id, docs)
	if err != nil {
		return knowledgeError(err)
	}
	out.IngestResponse = resp
	return c.JSON(http.StatusOK, out)
}

// FetchDocuments renders every url and returns the extracted documents along
// with the urls that could not be fetched.
func FetchDocuments(ctx context.Context, fetcher web_fetch.WebFetcher, urls []string, logger *log.Logger) ([]knowledge.DocInput, []FetchFailure) {
	var (
		docs   []knowledge.DocInput
		failed []FetchFailure
	)
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		res, err := fetcher.Exec(ctx, u)
		if err == nil && strings.TrimSpace(res.Text) == "" {
			err = errors.New("no readable text")
		}
		if err != nil {
			logger.Printf("fetch %s failed: %v", u, err)
			failed = append(failed, FetchFailure{URL: u, Error: err.Error()})
			continue
		}
		if res.URL == "" {
			res.URL = u
		}
		docs = append(docs, knowledge.DocInput{URL: res.URL, Title: res.Title, Text: res.Text})
	}
	return docs, failed
}

type queryRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

func (h *KnowledgeHandler) query(c echo.Context) error {
	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}
	k := req.K
	if k <= 0 {
		k = h.TopK
	}
	hits, err := h.Library.Search(c.Request().Context(), c.Param("id"), req.Query, k)
	if err != nil {
		return knowledgeError(err)
	}
	if hits == nil {
		hits = []knowledge.SearchHit{}
	}
	return c.JSON(http.StatusOK, hits)
}
