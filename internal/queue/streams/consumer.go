package streams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Reader tails a stream without a consumer group.
type Reader struct {
	client   *redis.Client
	registry *SchemaRegistry
}

// Message represents a consumed stream entry.
type Message struct {
	ID       string
	Envelope Envelope
}

func NewReader(client *redis.Client, registry *SchemaRegistry) *Reader {
	return &Reader{client: client, registry: registry}
}

// Read returns up to count entries after lastID ("0" for the beginning, "$"
// for new entries only), blocking for at most block. The returned id is the
// position to continue from. Entries that fail to decode or validate are
// skipped.
func (r *Reader) Read(ctx context.Context, stream, lastID string, count int64, block time.Duration) ([]Message, string, error) {
	if stream == "" {
		return nil, lastID, fmt.Errorf("stream name is required")
	}
	if lastID == "" {
		lastID = "0"
	}
	args := &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   count,
		Block:   block,
	}
	if block <= 0 {
		args.Block = -1
	}
	streams, err := r.client.XRead(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, lastID, nil
		}
		return nil, lastID, fmt.Errorf("xread: %w", err)
	}

	var out []Message
	next := lastID
	for _, st := range streams {
		for _, msg := range st.Messages {
			next = msg.ID
			if decoded, ok := r.decodeMessage(msg); ok {
				out = append(out, decoded)
			}
		}
	}
	return out, next, nil
}

func (r *Reader) decodeMessage(msg redis.XMessage) (Message, bool) {
	raw, ok := msg.Values["envelope"]
	if !ok {
		return Message{}, false
	}
	var bytesData []byte
	switch v := raw.(type) {
	case string:
		bytesData = []byte(v)
	case []byte:
		bytesData = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return Message{}, false
		}
		bytesData = data
	}

	env, err := UnmarshalEnvelope(bytesData)
	if err != nil {
		return Message{}, false
	}
	if r.registry != nil {
		if err := r.registry.Validate(env.EventType, env.PayloadVersion, env.Data); err != nil {
			return Message{}, false
		}
	}
	return Message{ID: msg.ID, Envelope: env}, true
}
