package knowledge

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
)

const rrfK = 60 // reciprocal-rank-fusion constant

// indexedDoc is the part of a chunk that goes into the full-text index.
type indexedDoc struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// index holds one collection's chunks: a bleve BM25 index plus the raw
// chunks and their vectors for cosine search.
type index struct {
	mu      sync.RWMutex
	bleve   bleve.Index
	meta    map[string]DocChunk
	vectors map[string][]float32
}

func newIndex() (*index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &index{bleve: idx, meta: map[string]DocChunk{}, vectors: map[string][]float32{}}, nil
}

func (x *index) add(chunk DocChunk) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.bleve.Index(chunk.DocID, indexedDoc{Title: chunk.Title, Text: chunk.Text}); err != nil {
		return err
	}
	x.meta[chunk.DocID] = chunk
	if len(chunk.Vector) > 0 {
		x.vectors[chunk.DocID] = chunk.Vector
	}
	return nil
}

func (x *index) size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.meta)
}

func (x *index) close() error {
	return x.bleve.Close()
}

func (x *index) hasVectors() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vectors) > 0
}

func (x *index) bm25Search(q string, k int) ([]SearchHit, error) {
	if strings.TrimSpace(q) == "" || k <= 0 {
		return nil, nil
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(q), k*3, 0, false)
	res, err := x.bleve.Search(req)
	if err != nil {
		return nil, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []SearchHit
	for _, hit := range res.Hits {
		doc, ok := x.meta[hit.ID]
		if !ok {
			continue
		}
		out = append(out, SearchHit{
			DocID: hit.ID, URL: doc.URL, Title: doc.Title, Text: doc.Text,
			Score: hit.Score, Rank: len(out) + 1,
		})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

func (x *index) vectorSearch(q []float32, k int) []SearchHit {
	x.mu.RLock()
	defer x.mu.RUnlock()
	type scored struct {
		id    string
		score float64
	}
	scoreds := make([]scored, 0, len(x.vectors))
	for id, v := range x.vectors {
		scoreds = append(scoreds, scored{id: id, score: cosine(q, v)})
	}
	sort.Slice(scoreds, func(i, j int) bool {
		if scoreds[i].score == scoreds[j].score {
			return scoreds[i].id < scoreds[j].id
		}
		return scoreds[i].score > scoreds[j].score
	})
	var out []SearchHit
	for i, sc := range scoreds {
		if i >= k {
			break
		}
		doc := x.meta[sc.id]
		out = append(out, SearchHit{
			DocID: sc.id, URL: doc.URL, Title: doc.Title, Text: doc.Text,
			Score: sc.score, Rank: i + 1,
		})
	}
	return out
}

// fuseRRF merges ranked lists with reciprocal-rank fusion and keeps the top k.
func fuseRRF(k int, lists ...[]SearchHit) []SearchHit {
	type agg struct {
		hit   SearchHit
		score float64
		first int
	}
	m := map[string]*agg{}
	seq := 0
	for _, list := range lists {
		for _, h := range list {
			x, ok := m[h.DocID]
			if !ok {
				x = &agg{hit: h, first: seq}
				m[h.DocID] = x
				seq++
			}
			x.score += 1.0 / float64(rrfK+h.Rank)
		}
	}
	items := make([]*agg, 0, len(m))
	for _, v := range m {
		items = append(items, v)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].score == items[j].score {
			return items[i].first < items[j].first
		}
		return items[i].score > items[j].score
	})
	n := min(k, len(items))
	out := make([]SearchHit, 0, n)
	for i := 0; i < n; i++ {
		h := items[i].hit
		h.Score = items[i].score
		h.Rank = i + 1
		out = append(out, h)
	}
	return out
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
