package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Embedder turns texts into vectors. provider.Provider satisfies it.
type Embedder interface {
	CreateEmbedding(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// Backend persists collections and their chunks. Indexes are always held in
// memory and rebuilt from the backend when a Library starts.
type Backend interface {
	LoadCollections(ctx context.Context) ([]Collection, error)
	LoadChunks(ctx context.Context, collectionID string) ([]DocChunk, error)
	SaveCollection(ctx context.Context, c Collection) error
	SaveChunks(ctx context.Context, collectionID string, chunks []DocChunk) error
	DeleteCollection(ctx context.Context, id string) error
}

type Options struct {
	ChunkSize      int
	ChunkOverlap   int
	EmbeddingModel string
	Embedder       Embedder
	Backend        Backend
	Logger         *log.Logger
}

// Library is the set of knowledge collections a user can search.
type Library struct {
	mu          sync.RWMutex
	collections map[string]*collection
	opts        Options
	logger      *log.Logger
	now         func() time.Time
}

type collection struct {
	info Collection
	idx  *index
}

// NewLibrary creates a library and, when a backend is configured, loads and
// re-indexes every persisted collection.
func NewLibrary(ctx context.Context, opts Options) (*Library, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1000
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = 200
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	l := &Library{
		collections: map[string]*collection{},
		opts:        opts,
		logger:      logger,
		now:         time.Now,
	}
	if opts.Backend == nil {
		return l, nil
	}

	stored, err := opts.Backend.LoadCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("load collections: %w", err)
	}
	for _, info := range stored {
		idx, err := newIndex()
		if err != nil {
			return nil, err
		}
		chunks, err := opts.Backend.LoadChunks(ctx, info.ID)
		if err != nil {
			return nil, fmt.Errorf("load chunks of %s: %w", info.ID, err)
		}
		for _, c := range chunks {
			if err := idx.add(c); err != nil {
				return nil, fmt.Errorf("index chunk %s: %w", c.DocID, err)
			}
		}
		info.Chunks = idx.size()
		l.collections[info.ID] = &collection{info: info, idx: idx}
	}
	logger.Printf("loaded %d knowledge collections", len(stored))
	return l, nil
}

func (l *Library) CreateCollection(ctx context.Context, name, description, ownerID string) (Collection, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Collection{}, fmt.Errorf("collection name is required")
	}
	idx, err := newIndex()
	if err != nil {
		return Collection{}, err
	}
	info := Collection{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(description),
		OwnerID:     ownerID,
		CreatedAt:   l.now().UTC(),
	}
	if l.opts.Backend != nil {
		if err := l.opts.Backend.SaveCollection(ctx, info); err != nil {
			return Collection{}, fmt.Errorf("save collection: %w", err)
		}
	}
	l.mu.Lock()
	l.collections[info.ID] = &collection{info: info, idx: idx}
	l.mu.Unlock()
	l.logger.Printf("created collection %s (%q)", info.ID, info.Name)
	return info, nil
}

func (l *Library) GetCollection(ctx context.Context, id string) (Collection, error) {
	c, err := l.lookup(id)
	if err != nil {
		return Collection{}, err
	}
	info := c.info
	info.Chunks = c.idx.size()
	return info, nil
}

// ListCollections returns the collections owned by userID together with the
// shared ones, oldest first.
func (l *Library) ListCollections(ctx context.Context, userID string) ([]Collection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	out := make([]Collection, 0, len(l.collections))
	for _, c := range l.collections {
		if c.info.OwnerID != "" && c.info.OwnerID != userID {
			continue
		}
		info := c.info
		info.Chunks = c.idx.size()
		out = append(out, info)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (l *Library) DeleteCollection(ctx context.Context, id string) error {
	l.mu.Lock()
	c, ok := l.collections[id]
	if !ok {
		l.mu.Unlock()
		return ErrCollectionNotFound
	}
	delete(l.collections, id)
	l.mu.Unlock()

	if err := c.idx.close(); err != nil {
		l.logger.Printf("closing index of %s: %v", id, err)
	}
	if l.opts.Backend != nil {
		if err := l.opts.Backend.DeleteCollection(ctx, id); err != nil {
			return fmt.Errorf("delete collection: %w", err)
		}
	}
	l.logger.Printf("deleted collection %s", id)
	return nil
}

// Ingest chunks, indexes and persists docs into the collection. Chunk ids are
// derived from the content hash, so ingesting the same text twice replaces
// the earlier chunks instead of duplicating them.
func (l *Library) Ingest(ctx context.Context, collectionID string, docs []DocInput) (IngestResponse, error) {
	if len(docs) == 0 {
		return IngestResponse{}, ErrNoDocuments
	}
	c, err := l.lookup(collectionID)
	if err != nil {
		return IngestResponse{}, err
	}

	var chunks []DocChunk
	now := l.now().UTC()
	for _, doc := range docs {
		doc = cleanDoc(doc)
		if doc.Text == "" {
			continue
		}
		hash := sha1Hex(doc.Text)
		for i, part := range makeChunks(doc.Text, l.opts.ChunkSize, l.opts.ChunkOverlap) {
			chunks = append(chunks, DocChunk{
				DocID:        fmt.Sprintf("%s#%03d", hash, i),
				CollectionID: collectionID,
				URL:          doc.URL,
				Title:        doc.Title,
				Text:         part,
				PublishedAt:  doc.PublishedAt,
				ContentHash:  hash,
				IngestedAt:   now,
				ChunkIndex:   i,
			})
		}
	}
	if len(chunks) == 0 {
		return IngestResponse{}, ErrNoDocuments
	}

	resp := IngestResponse{CollectionID: collectionID, Chunks: len(chunks)}
	if vecs := l.embed(ctx, chunkTexts(chunks)); vecs != nil {
		for i := range chunks {
			chunks[i].Vector = vecs[i]
		}
		resp.IndexedVec = len(chunks)
	}
	if l.opts.Backend != nil {
		if err := l.opts.Backend.SaveChunks(ctx, collectionID, chunks); err != nil {
			return IngestResponse{}, fmt.Errorf("save chunks: %w", err)
		}
	}
	for _, chunk := range chunks {
		if err := c.idx.add(chunk); err != nil {
			return resp, fmt.Errorf("failed to add chunk: %w", err)
		}
		resp.IndexedBM++
	}
	l.logger.Printf("ingested %d docs into %s: %d chunks, %d vectors", len(docs), collectionID, resp.Chunks, resp.IndexedVec)
	return resp, nil
}

// Search ranks the collection's chunks for q. With an embedding model
// configured the BM25 and vector rankings are fused.
func (l *Library) Search(ctx context.Context, collectionID, q string, k int) ([]SearchHit, error) {
	c, err := l.lookup(collectionID)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 5
	}
	bm, err := c.idx.bm25Search(q, k)
	if err != nil {
		return nil, fmt.Errorf("bm25 search: %w", err)
	}
	if !c.idx.hasVectors() {
		return bm, nil
	}
	vecs := l.embed(ctx, []string{q})
	if vecs == nil {
		return bm, nil
	}
	return fuseRRF(k, bm, c.idx.vectorSearch(vecs[0], k)), nil
}

// QueryCollections runs q against every collection in ids and returns the
// passage texts per collection, in the order of ids. Unknown ids yield an
// empty group.
func (l *Library) QueryCollections(ctx context.Context, ids []string, q string, k int) ([][]string, error) {
	out := make([][]string, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hits, err := l.Search(ctx, id, q, k)
		if errors.Is(err, ErrCollectionNotFound) {
			l.logger.Printf("query skipped unknown collection %s", id)
			out = append(out, nil)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", id, err)
		}
		texts := make([]string, len(hits))
		for i, h := range hits {
			texts[i] = h.Text
		}
		out = append(out, texts)
	}
	return out, nil
}

func (l *Library) lookup(id string) (*collection, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.collections[id]
	if !ok {
		return nil, ErrCollectionNotFound
	}
	return c, nil
}

// embed returns one vector per text, or nil when embeddings are disabled or
// the backend fails. Failures are logged; retrieval falls back to BM25.
func (l *Library) embed(ctx context.Context, texts []string) [][]float32 {
	if l.opts.Embedder == nil || l.opts.EmbeddingModel == "" || len(texts) == 0 {
		return nil
	}
	vecs, err := l.opts.Embedder.CreateEmbedding(ctx, l.opts.EmbeddingModel, texts)
	if err != nil {
		l.logger.Printf("embedding %d texts failed: %v", len(texts), err)
		return nil
	}
	if len(vecs) != len(texts) {
		l.logger.Printf("embedding returned %d vectors for %d texts", len(vecs), len(texts))
		return nil
	}
	return vecs
}

func chunkTexts(chunks []DocChunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}
