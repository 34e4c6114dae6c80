package knowledge

import (
	"errors"
	"time"
)

var (
	ErrCollectionNotFound = errors.New("knowledge collection not found")
	ErrNoDocuments        = errors.New("no documents provided")
)

// Collection is a named set of indexed documents. An empty OwnerID marks a
// collection shared with every user.
type Collection struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"owner_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Chunks      int       `json:"chunks"`
}

type DocInput struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Text        string `json:"text"`
	PublishedAt string `json:"published_at,omitempty"`
}

type DocChunk struct {
	DocID        string    `json:"doc_id"`
	CollectionID string    `json:"collection_id"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	Text         string    `json:"text"`
	PublishedAt  string    `json:"published_at,omitempty"`
	ContentHash  string    `json:"content_hash"`
	IngestedAt   time.Time `json:"ingested_at"`
	ChunkIndex   int       `json:"chunk_index"`
	Vector       []float32 `json:"vector,omitempty"`
}

type SearchHit struct {
	DocID string  `json:"doc_id"`
	URL   string  `json:"url"`
	Title string  `json:"title"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

type IngestResponse struct {
	CollectionID string `json:"collection_id"`
	Chunks       int    `json:"chunks"`
	IndexedBM    int    `json:"indexed_bm"`
	IndexedVec   int    `json:"indexed_vec"`
}
