// Package debounce collects switch operations until a quiet period passes and
// then hands the whole batch over in one piece.
package debounce

import (
	"errors"
	"sync"
	"time"

	"github.com/dokzlo13/nexad/internal/radio"
)

// DefaultWindow is the quiet period used when none is configured.
const DefaultWindow = time.Second

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("queue closed")

// FlushFunc receives a closed batch. It runs on the timer goroutine and may block.
type FlushFunc func(batch radio.Batch)

// Queue is a trailing-edge debouncer: every Submit restarts the full window,
// and the batch closes only once the window elapses with no new submissions.
type Queue struct {
	mu      sync.Mutex
	pending radio.Batch
	timer   *time.Timer
	gen     uint64
	window  time.Duration
	onFlush FlushFunc
	closed  bool
	// flushing counts callbacks that have drained a batch and not returned yet.
	flushing int
}

// New creates a Queue. A non-positive window falls back to DefaultWindow.
func New(window time.Duration, onFlush FlushFunc) *Queue {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Queue{
		window:  window,
		onFlush: onFlush,
	}
}

// Submit appends op and restarts the window. Returns the pending batch size.
// A closed queue rejects op with ErrClosed.
func (q *Queue) Submit(op radio.Operation) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, ErrClosed
	}
	q.pending = append(q.pending, op)
	q.rearm()
	return len(q.pending), nil
}

// Requeue puts a batch that could not be executed back in front of any
// operations submitted since, keeping arrival order, and restarts the window.
func (q *Queue) Requeue(batch radio.Batch) {
	if len(batch) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	merged := make(radio.Batch, 0, len(batch)+len(q.pending))
	merged = append(merged, batch...)
	q.pending = append(merged, q.pending...)
	q.rearm()
}

// rearm cancels the pending fire and schedules a new one. Caller holds q.mu.
func (q *Queue) rearm() {
	if q.closed {
		return
	}
	if q.timer != nil {
		q.timer.Stop()
	}
	q.gen++
	gen := q.gen
	q.timer = time.AfterFunc(q.window, func() { q.fire(gen) })
}

// fire drains the batch if no submission re-armed the timer in the meantime.
func (q *Queue) fire(gen uint64) {
	q.mu.Lock()
	if gen != q.gen || q.closed {
		q.mu.Unlock()
		return
	}
	batch := q.drain()
	q.timer = nil
	q.mu.Unlock()

	q.deliver(batch)
}

// drain takes the pending batch and counts it as flushing. Caller holds q.mu.
func (q *Queue) drain() radio.Batch {
	batch := q.pending
	q.pending = nil
	if len(batch) > 0 {
		q.flushing++
	}
	return batch
}

// deliver runs the callback for a batch taken with drain.
func (q *Queue) deliver(batch radio.Batch) {
	if len(batch) == 0 {
		return
	}

	defer func() {
		q.mu.Lock()
		q.flushing--
		q.mu.Unlock()
	}()

	q.onFlush(batch)
}

// Flush closes the current window immediately. It runs the flush callback on
// the calling goroutine.
func (q *Queue) Flush() {
	q.mu.Lock()
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.gen++
	batch := q.drain()
	q.mu.Unlock()

	q.deliver(batch)
}

// Pending returns the number of operations waiting for the window to close.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Armed reports whether a window is currently running.
func (q *Queue) Armed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.timer != nil
}

// Idle reports whether nothing is queued, no window is running and no flush
// callback is in progress.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) == 0 && q.timer == nil && q.flushing == 0
}

// Window returns the configured quiet period.
func (q *Queue) Window() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.window
}

// SetWindow changes the quiet period for windows started after the call.
func (q *Queue) SetWindow(d time.Duration) {
	if d <= 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.window = d
}

// Close stops the timer. Pending operations stay queued and are returned.
func (q *Queue) Close() radio.Batch {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.gen++
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	batch := q.pending
	q.pending = nil
	return batch
}
