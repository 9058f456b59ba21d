package status

import (
	"context"
	"sync"
	"time"
)

// MemoryBus is an unbounded in-process FIFO. Publish appends under a mutex and
// signals a one-slot channel, so producers never wait on the consumer.
type MemoryBus struct {
	runID  string
	mu     sync.Mutex
	queue  []Event
	seq    int64
	closed bool
	notify chan struct{}
	now    func() time.Time
}

// NewMemoryBus returns an empty bus for runID.
func NewMemoryBus(runID string) *MemoryBus {
	return &MemoryBus{
		runID:  runID,
		notify: make(chan struct{}, 1),
		now:    time.Now,
	}
}

// MemoryFactory satisfies Factory with in-memory buses.
func MemoryFactory(runID string) (Bus, error) { return NewMemoryBus(runID), nil }

func (b *MemoryBus) Publish(_ context.Context, message string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.seq++
	b.queue = append(b.queue, Event{RunID: b.runID, Seq: b.seq, Message: message, At: b.now().UTC()})
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

func (b *MemoryBus) Poll(ctx context.Context, timeout time.Duration) (Event, bool, error) {
	var timer *time.Timer
	for {
		if ev, ok, closed := b.pop(); ok {
			return ev, true, nil
		} else if closed {
			return Event{}, false, ErrClosed
		}
		if timer == nil {
			if timeout <= 0 {
				return Event{}, false, nil
			}
			timer = time.NewTimer(timeout)
			defer timer.Stop()
		}
		select {
		case <-b.notify:
		case <-timer.C:
			if ev, ok, _ := b.pop(); ok {
				return ev, true, nil
			}
			return Event{}, false, nil
		case <-ctx.Done():
			return Event{}, false, ctx.Err()
		}
	}
}

// pop removes the head of the queue. closed is reported only once the queue
// has been fully drained.
func (b *MemoryBus) pop() (ev Event, ok bool, closed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return Event{}, false, b.closed
	}
	ev = b.queue[0]
	b.queue[0] = Event{}
	b.queue = b.queue[1:]
	return ev, true, false
}

// Len reports the number of queued events.
func (b *MemoryBus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}
