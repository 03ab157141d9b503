// Package queue provides the reaction inbox between the gateway adapter
// and the dispatcher. Deliveries are at-least-once; the dispatcher owns
// deduplication.
package queue

import (
	"context"
	"sync"

	"github.com/yhlam/guildcore/internal/domain/model"
	"github.com/yhlam/guildcore/pkg/metrics"
)

const defaultBufferSize = 4096

// Inbox provides non-blocking enqueue and channel-based dequeue of
// reaction notifications.
type Inbox interface {
	// Enqueue adds a reaction to the inbox. Returns false if the inbox
	// is full or closed and the reaction was dropped.
	Enqueue(ctx context.Context, r model.Reaction) bool

	// Dequeue returns a channel receiving reactions as they arrive.
	// The channel closes when the inbox is closed and drained.
	Dequeue(ctx context.Context) <-chan model.Reaction

	// Len returns the current number of buffered reactions.
	Len(ctx context.Context) int

	// Close stops the inbox. Buffered reactions remain consumable.
	Close() error

	IsClosed() bool
}

// InMemoryInbox implements Inbox on a buffered channel.
type InMemoryInbox struct {
	reactions chan model.Reaction
	buffer    int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryInbox creates an inbox with configuration options.
func NewInMemoryInbox(opts ...Option) *InMemoryInbox {
	q := &InMemoryInbox{
		buffer: defaultBufferSize,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.reactions = make(chan model.Reaction, q.buffer)
	metrics.UpdateInboxSize(0)
	return q
}

// Enqueue adds a reaction to the inbox.
func (q *InMemoryInbox) Enqueue(ctx context.Context, r model.Reaction) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordInboxDrop("closed")
		return false
	}

	select {
	case q.reactions <- r:
		metrics.RecordInboxEnqueue()
		metrics.UpdateInboxSize(len(q.reactions))
		return true
	case <-ctx.Done():
		metrics.RecordInboxDrop("context_cancelled")
		return false
	default:
		metrics.RecordInboxDrop("full")
		return false
	}
}

// Dequeue returns a channel receiving reactions as they arrive.
func (q *InMemoryInbox) Dequeue(ctx context.Context) <-chan model.Reaction {
	out := make(chan model.Reaction)
	go func() {
		defer close(out)
		for r := range q.reactions {
			select {
			case out <- r:
				metrics.UpdateInboxSize(len(q.reactions))
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the current number of buffered reactions.
func (q *InMemoryInbox) Len(_ context.Context) int {
	size := len(q.reactions)
	metrics.UpdateInboxSize(size)
	return size
}

// Close stops the inbox. Already-buffered reactions stay consumable.
func (q *InMemoryInbox) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.reactions)
	q.closed = true
	return nil
}

// IsClosed reports whether the inbox has been closed.
func (q *InMemoryInbox) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
