package status_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mohammad-safakhou/deepresearch/internal/status"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestRedisBusOrderAndTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
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
	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	defer client.Close()

	factory := status.RedisFactory(client, status.RedisOptions{TTL: time.Minute, MaxLen: 1000})
	bus, err := factory("run-redis")
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	rb, ok := bus.(*status.RedisBus)
	if !ok {
		t.Fatalf("factory returned %T", bus)
	}
	stream := rb.Stream()
	if stream != "research:status:run-redis" {
		t.Fatalf("stream key = %q", stream)
	}

	if _, ok, err := bus.Poll(ctx, 20*time.Millisecond); err != nil || ok {
		t.Fatalf("empty poll: ok=%v err=%v", ok, err)
	}
	for _, m := range []string{"one", "two", "three"} {
		if err := bus.Publish(ctx, m); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	for _, want := range []string{"one", "two", "three"} {
		ev, ok, err := bus.Poll(ctx, 100*time.Millisecond)
		if err != nil || !ok {
			t.Fatalf("poll: ok=%v err=%v", ok, err)
		}
		if ev.Message != want {
			t.Fatalf("got %q want %q", ev.Message, want)
		}
	}
	if n, err := client.Exists(ctx, stream).Result(); err != nil || n != 1 {
		t.Fatalf("stream should exist before close: n=%d err=%v", n, err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if n, _ := client.Exists(ctx, stream).Result(); n != 0 {
		t.Fatalf("stream not removed on close")
	}
}
