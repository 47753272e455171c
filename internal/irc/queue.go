package irc

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultSendInterval spaces outbound lines to stay under server flood
// limits: two lines per second.
const DefaultSendInterval = 500 * time.Millisecond

// defaultQueueDepth bounds how many lines can wait. A burst beyond this
// is dropped with a log line; blocking the enqueuer is never an option.
const defaultQueueDepth = 256

// OutboundQueue is the per-network FIFO of pending protocol lines.
// Enqueue never blocks; a drain goroutine emits lines in order at a
// fixed maximum rate. Every outbound line for a network — direct
// replies and scheduler notices alike — passes through one queue, so
// the rate ceiling holds regardless of source.
type OutboundQueue struct {
	network string
	lines   chan string
	limiter *rate.Limiter

	mu     sync.Mutex
	closed bool
}

// NewOutboundQueue creates a queue with the given minimum interval
// between sends. A non-positive interval falls back to the default.
func NewOutboundQueue(network string, interval time.Duration) *OutboundQueue {
	if interval <= 0 {
		interval = DefaultSendInterval
	}
	return &OutboundQueue{
		network: network,
		lines:   make(chan string, defaultQueueDepth),
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Enqueue adds a line without blocking the caller. Lines beyond the
// buffer are dropped: the wire protocol is best-effort and a stalled
// network must not stall the producer.
func (q *OutboundQueue) Enqueue(line string) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.mu.Unlock()

	select {
	case q.lines <- line:
		return nil
	default:
		log.Printf("[%s] outbound queue full, dropping line", q.network)
		return ErrQueueFull
	}
}

// Drain writes queued lines to w in FIFO order, sleeping out the
// remainder of each interval rather than busy-polling. It returns when
// the context is cancelled or a write fails; queued lines survive for
// the next drain after a reconnect.
func (q *OutboundQueue) Drain(ctx context.Context, w io.Writer) error {
	for {
		// Pace before dequeuing: a cancellation mid-wait then leaves
		// every undelivered line in the queue for the next drain.
		if err := q.limiter.Wait(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line := <-q.lines:
			if _, err := w.Write([]byte(line + "\r\n")); err != nil {
				return err
			}
		}
	}
}

// Len reports how many lines are waiting.
func (q *OutboundQueue) Len() int {
	return len(q.lines)
}

// Close marks the queue closed for further enqueues. Already queued
// lines can still be drained, which is what lets a farewell line out
// during shutdown.
func (q *OutboundQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}
