package redis_knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mohammad-safakhou/ragpipe/knowledge"
	"github.com/redis/go-redis/v9"
)

// Store keeps collections in one hash and each collection's chunks in a hash
// keyed by chunk id.
type Store struct {
	client *redis.Client
	prefix string
}

var _ knowledge.Backend = (*Store)(nil)

func NewRedisKnowledgeStore(addr, password string, db int, prefix string) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewStore(rdb, prefix)
}

func NewStore(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "ragpipe:knowledge"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) collectionsKey() string { return s.prefix + ":collections" }

func (s *Store) chunksKey(id string) string { return fmt.Sprintf("%s:chunks:%s", s.prefix, id) }

func (s *Store) LoadCollections(ctx context.Context) ([]knowledge.Collection, error) {
	vals, err := s.client.HGetAll(ctx, s.collectionsKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]knowledge.Collection, 0, len(vals))
	for id, raw := range vals {
		var c knowledge.Collection
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("decode collection %s: %w", id, err)
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) LoadChunks(ctx context.Context, collectionID string) ([]knowledge.DocChunk, error) {
	vals, err := s.client.HGetAll(ctx, s.chunksKey(collectionID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]knowledge.DocChunk, 0, len(vals))
	for id, raw := range vals {
		var c knowledge.DocChunk
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("decode chunk %s: %w", id, err)
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out, nil
}

func (s *Store) SaveCollection(ctx context.Context, c knowledge.Collection) error {
	c.Chunks = 0
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.collectionsKey(), c.ID, data).Err()
}

func (s *Store) SaveChunks(ctx context.Context, collectionID string, chunks []knowledge.DocChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	values := make([]any, 0, len(chunks)*2)
	for _, c := range chunks {
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		values = append(values, c.DocID, data)
	}
	return s.client.HSet(ctx, s.chunksKey(collectionID), values...).Err()
}

func (s *Store) DeleteCollection(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, s.collectionsKey(), id)
	pipe.Del(ctx, s.chunksKey(id))
	_, err := pipe.Exec(ctx)
	return err
}
