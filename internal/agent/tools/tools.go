package tools

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/ragpipe/internal/agent/core"
	"github.com/mohammad-safakhou/ragpipe/knowledge"
	"github.com/mohammad-safakhou/ragpipe/models"
)

const (
	WebSearchName       = "web_search"
	KnowledgeSearchName = "personal_knowledge_search"

	NoQuery          = "Please provide a search query."
	NoKnowledgeBases = "You don't have any knowledge bases."

	webSearchDescription       = "Searches the web according to a given query"
	knowledgeSearchDescription = "Searches personal documents according to a given query"
)

// instructionParams is the parameter schema shared by both tools.
func instructionParams() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"search_instruction": map[string]any{
				"type":        "string",
				"description": "search instruction",
			},
		},
		"required": []any{"search_instruction"},
	}
}

func instruction(args map[string]any) string {
	s, _ := args["search_instruction"].(string)
	return strings.TrimSpace(s)
}

// Searcher runs a query against a web search backend and returns its text.
type Searcher interface {
	Run(ctx context.Context, query string) (string, error)
}

// Retriever is the knowledge backend the knowledge tool queries.
type Retriever interface {
	ListCollections(ctx context.Context, userID string) ([]knowledge.Collection, error)
	QueryCollections(ctx context.Context, ids []string, query string, k int) ([][]string, error)
}

// WebSearch distils an instruction into a query with the generic role, then
// runs it against the search backend.
type WebSearch struct {
	Runner   core.RoleRunner
	Distill  core.Role
	Searcher Searcher
	Logger   *log.Logger
	Now      func() time.Time
}

func (w WebSearch) Tool() core.Tool {
	return core.Tool{
		Name:        WebSearchName,
		Description: webSearchDescription,
		Parameters:  instructionParams(),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return w.Search(ctx, instruction(args)), nil
		},
	}
}

// Search never fails; backend errors are returned as text for the model.
func (w WebSearch) Search(ctx context.Context, instruction string) string {
	if strings.TrimSpace(instruction) == "" {
		return NoQuery
	}
	logger := orDiscard(w.Logger)
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}

	msg := models.Message{Role: models.RoleUser, Name: core.DriverName, Content: core.SearchTermMessage(now().Format("2006-01-02"), instruction)}
	ex, err := w.Runner.Reply(ctx, w.Distill, []models.Message{msg}, 1)
	if err != nil {
		logger.Printf("search term distillation failed: %v", err)
		return fmt.Sprintf("Web search failed: could not derive a search query: %v", err)
	}
	query := strings.Trim(strings.TrimSpace(ex.Content()), `"`)
	if query == "" {
		query = instruction
	}

	result, err := w.Searcher.Run(ctx, query)
	if err != nil {
		logger.Printf("web search %q failed: %v", query, err)
		return fmt.Sprintf("Web search failed: %v", err)
	}
	logger.Printf("web search %q returned %d bytes", query, len(result))
	return result
}

// KnowledgeSearch queries every knowledge collection visible to UserID.
type KnowledgeSearch struct {
	Retriever Retriever
	UserID    string
	TopK      int
	Logger    *log.Logger
}

func (k KnowledgeSearch) Tool() core.Tool {
	return core.Tool{
		Name:        KnowledgeSearchName,
		Description: knowledgeSearchDescription,
		Parameters:  instructionParams(),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return k.Search(ctx, instruction(args)), nil
		},
	}
}

// Search returns every retrieved passage, in retrieval order, separated by a
// blank line. Backend errors are returned as text.
func (k KnowledgeSearch) Search(ctx context.Context, instruction string) string {
	if strings.TrimSpace(instruction) == "" {
		return NoQuery
	}
	logger := orDiscard(k.Logger)
	if k.Retriever == nil {
		return NoKnowledgeBases
	}

	cols, err := k.Retriever.ListCollections(ctx, k.UserID)
	if err != nil {
		logger.Printf("listing knowledge collections failed: %v", err)
		return fmt.Sprintf("Knowledge search failed: %v", err)
	}
	if len(cols) == 0 {
		return NoKnowledgeBases
	}
	ids := make([]string, len(cols))
	for i, c := range cols {
		ids[i] = c.ID
	}

	topK := k.TopK
	if topK <= 0 {
		topK = 5
	}
	groups, err := k.Retriever.QueryCollections(ctx, ids, instruction, topK)
	if err != nil {
		logger.Printf("knowledge query failed: %v", err)
		return fmt.Sprintf("Knowledge search failed: %v", err)
	}
	var passages []string
	for _, group := range groups {
		passages = append(passages, group...)
	}
	logger.Printf("knowledge query over %d collections returned %d passages", len(ids), len(passages))
	return strings.Join(passages, "\n\n")
}

func orDiscard(l *log.Logger) *log.Logger {
	if l == nil {
		return log.New(io.Discard, "", 0)
	}
	return l
}
