package status

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultStreamPrefix = "research:status"

// RedisOptions configures stream-backed buses.
type RedisOptions struct {
	Prefix string
	MaxLen int64
	TTL    time.Duration
}

// RedisBus stores a run's narration in its own Redis stream so a consumer in
// another process can follow the run.
type RedisBus struct {
	client redis.UniversalClient
	runID  string
	stream string
	opts   RedisOptions

	mu     sync.Mutex
	lastID string
	closed bool
}

// NewRedisBus opens a stream-backed bus for runID.
func NewRedisBus(client redis.UniversalClient, runID string, opts RedisOptions) (*RedisBus, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if strings.TrimSpace(runID) == "" {
		return nil, fmt.Errorf("run id is required")
	}
	if opts.Prefix == "" {
		opts.Prefix = defaultStreamPrefix
	}
	return &RedisBus{
		client: client,
		runID:  runID,
		stream: strings.TrimSuffix(opts.Prefix, ":") + ":" + runID,
		opts:   opts,
		lastID: "0-0",
	}, nil
}

// RedisFactory returns a Factory that opens a RedisBus per run.
func RedisFactory(client redis.UniversalClient, opts RedisOptions) Factory {
	return func(runID string) (Bus, error) {
		return NewRedisBus(client, runID, opts)
	}
}

// Stream returns the Redis key backing this bus.
func (b *RedisBus) Stream() string { return b.stream }

func (b *RedisBus) Publish(ctx context.Context, message string) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}
	args := &redis.XAddArgs{
		Stream: b.stream,
		Values: map[string]interface{}{
			"message": message,
			"at":      time.Now().UTC().Format(time.RFC3339Nano),
		},
	}
	if b.opts.MaxLen > 0 {
		args.MaxLen = b.opts.MaxLen
		args.Approx = true
	}
	pipe := b.client.TxPipeline()
	pipe.XAdd(ctx, args)
	if b.opts.TTL > 0 {
		pipe.Expire(ctx, b.stream, b.opts.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("xadd: %w", err)
	}
	return nil
}

func (b *RedisBus) Poll(ctx context.Context, timeout time.Duration) (Event, bool, error) {
	b.mu.Lock()
	closed, lastID := b.closed, b.lastID
	b.mu.Unlock()
	if closed {
		return Event{}, false, ErrClosed
	}
	if timeout < time.Millisecond {
		timeout = time.Millisecond
	}
	streams, err := b.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{b.stream, lastID},
		Count:   1,
		Block:   timeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Event{}, false, nil
		}
		if ctx.Err() != nil {
			return Event{}, false, ctx.Err()
		}
		return Event{}, false, fmt.Errorf("xread: %w", err)
	}
	for _, st := range streams {
		for _, msg := range st.Messages {
			b.mu.Lock()
			b.lastID = msg.ID
			b.mu.Unlock()
			return decodeStreamMessage(b.runID, msg), true, nil
		}
	}
	return Event{}, false, nil
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	if err := b.client.Del(context.Background(), b.stream).Err(); err != nil {
		return fmt.Errorf("del stream: %w", err)
	}
	return nil
}

func decodeStreamMessage(runID string, msg redis.XMessage) Event {
	ev := Event{RunID: runID, Seq: streamSeq(msg.ID)}
	if v, ok := msg.Values["message"].(string); ok {
		ev.Message = v
	}
	if v, ok := msg.Values["at"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			ev.At = ts
		}
	}
	return ev
}

// streamSeq folds a stream ID ("ms-n") into a sortable integer.
func streamSeq(id string) int64 {
	ms, n, _ := strings.Cut(id, "-")
	msi, _ := strconv.ParseInt(ms, 10, 64)
	ni, _ := strconv.ParseInt(n, 10, 64)
	return msi*1000 + ni
}
