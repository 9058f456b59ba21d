package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrClosed is returned when publishing to or polling a closed bus.
var ErrClosed = errors.New("status bus closed")

// Event is a single narration line published during a run.
type Event struct {
	RunID   string    `json:"run_id"`
	Seq     int64     `json:"seq"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Publisher is the producer side of a bus. Publish must not block the caller
// waiting for a consumer.
type Publisher interface {
	Publish(ctx context.Context, message string) error
}

// Bus carries status events for exactly one run. Events are delivered in
// publish order, each at most once.
type Bus interface {
	Publisher
	// Poll waits up to timeout for the next event. ok is false when the
	// timeout elapsed without a message; that case is not an error.
	Poll(ctx context.Context, timeout time.Duration) (ev Event, ok bool, err error)
	Close() error
}

// Factory builds a fresh bus for a run.
type Factory func(runID string) (Bus, error)

// PublisherFunc adapts a plain function to Publisher.
type PublisherFunc func(ctx context.Context, message string) error

func (f PublisherFunc) Publish(ctx context.Context, message string) error { return f(ctx, message) }

// Discard drops every message.
var Discard Publisher = PublisherFunc(func(context.Context, string) error { return nil })

// NewFactory selects a backend by name: "memory" (the default) or "redis".
func NewFactory(backend string, client redis.UniversalClient, opts RedisOptions) (Factory, error) {
	switch backend {
	case "", "memory":
		return MemoryFactory, nil
	case "redis":
		if client == nil {
			return nil, errors.New("redis status backend needs a client")
		}
		return RedisFactory(client, opts), nil
	default:
		return nil, fmt.Errorf("unknown status backend %q", backend)
	}
}
