package redis_knowledge_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/ragpipe/knowledge"
	redis_knowledge "github.com/mohammad-safakhou/ragpipe/knowledge/redis"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestRedisStoreRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	defer func() { _ = redisC.Terminate(ctx) }()

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}

	store := redis_knowledge.NewRedisKnowledgeStore(fmt.Sprintf("%s:%s", host, port.Port()), "", 0, "test:knowledge")
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	lib, err := knowledge.NewLibrary(ctx, knowledge.Options{Backend: store})
	if err != nil {
		t.Fatalf("NewLibrary: %v", err)
	}
	kept, err := lib.CreateCollection(ctx, "handbook", "", "alice")
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	dropped, _ := lib.CreateCollection(ctx, "scratch", "", "alice")
	if _, err := lib.Ingest(ctx, kept.ID, []knowledge.DocInput{{Title: "Expenses", Text: "Travel expenses are reimbursed within two weeks."}}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, err := lib.Ingest(ctx, dropped.ID, []knowledge.DocInput{{Text: "temporary"}}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := lib.DeleteCollection(ctx, dropped.ID); err != nil {
		t.Fatalf("DeleteCollection: %v", err)
	}

	reloaded, err := knowledge.NewLibrary(ctx, knowledge.Options{Backend: store})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	cols, err := reloaded.ListCollections(ctx, "alice")
	if err != nil {
		t.Fatalf("ListCollections: %v", err)
	}
	if len(cols) != 1 || cols[0].ID != kept.ID || cols[0].Chunks != 1 {
		t.Fatalf("unexpected collections after reload %+v", cols)
	}
	groups, err := reloaded.QueryCollections(ctx, []string{kept.ID}, "travel expenses", 3)
	if err != nil {
		t.Fatalf("QueryCollections: %v", err)
	}
	if len(groups) != 1 || len(groups[0]) != 1 || !strings.Contains(groups[0][0], "reimbursed") {
		t.Fatalf("unexpected passages %q", groups)
	}
}
