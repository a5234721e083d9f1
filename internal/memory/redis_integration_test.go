package memory

import (
	"bytes"
	"context"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/boardroom/config"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
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
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := c.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	client := NewRedisClient(config.RedisConfig{Host: host, Port: port.Port(), Timeout: 5 * time.Second})
	t.Cleanup(func() { _ = client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis ping: %v", err)
	}
	return client
}

func TestRedisStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	client := startRedis(t)
	ctx := context.Background()
	quiet := log.New(&bytes.Buffer{}, "", 0)

	s := NewRedisStore(client, config.MemoryConfig{KeyPrefix: "test:memory"}, quiet)
	defer s.Close()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = clockFrom(start, 24*time.Hour)

	if err := s.Add(ctx, "u1", "User asked: extend runway\nAgents: CFO\nKey advice: cut burn", map[string]interface{}{"agents": []string{"CFO"}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(ctx, "u1", "User asked: pricing tiers\nAgents: CPO\nKey advice: anchor on value", nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if n, err := s.Count(ctx, "u1"); err != nil || n != 2 {
		t.Fatalf("expected 2 memories, got %d (%v)", n, err)
	}

	got, err := s.Search(ctx, "u1", "runway", 5)
	if err != nil || len(got) != 1 || !strings.Contains(got[0], "cut burn") {
		t.Fatalf("expected runway memory, got %v (%v)", got, err)
	}

	// a second store sharing the keyspace rebuilds its index from redis
	other := NewRedisStore(client, config.MemoryConfig{KeyPrefix: "test:memory"}, quiet)
	defer other.Close()
	if got, err := other.Search(ctx, "u1", "pricing", 5); err != nil || len(got) != 1 {
		t.Fatalf("expected pricing memory from a fresh store, got %v (%v)", got, err)
	}
	other.now = clockFrom(start.Add(10*24*time.Hour), time.Hour)
	if err := other.Add(ctx, "u1", "User asked: runway again", nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got, _ := s.Search(ctx, "u1", "runway", 5); len(got) != 2 {
		t.Fatalf("stale index should be rebuilt, got %v", got)
	}

	users, err := s.Users(ctx)
	if err != nil || len(users) != 1 || users[0] != "u1" {
		t.Fatalf("unexpected users %v (%v)", users, err)
	}

	j, err := NewJanitor(s, client, config.MemoryConfig{KeyPrefix: "test:memory", MaxPerUser: 1}, quiet)
	if err != nil {
		t.Fatalf("NewJanitor: %v", err)
	}
	if err := client.Set(ctx, "test:memory:janitor:lock", "1", time.Minute).Err(); err != nil {
		t.Fatalf("seed lock: %v", err)
	}
	if removed, err := j.RunOnce(ctx); err != nil || removed != 0 {
		t.Fatalf("held lock should skip the run, got %d (%v)", removed, err)
	}
	client.Del(ctx, "test:memory:janitor:lock")

	removed, err := j.RunOnce(ctx)
	if err != nil || removed != 2 {
		t.Fatalf("expected 2 pruned, got %d (%v)", removed, err)
	}
	if got, _ := s.Search(ctx, "u1", "zzzz", 5); len(got) != 1 || !strings.Contains(got[0], "runway again") {
		t.Fatalf("expected only the newest memory to survive, got %v", got)
	}
	if exists, _ := client.Exists(ctx, "test:memory:janitor:lock").Result(); exists != 0 {
		t.Fatalf("lock should be released after the run")
	}
}
