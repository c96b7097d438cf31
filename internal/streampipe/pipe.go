// Package streampipe provides the bounded event queue between the upstream
// reader and the client writer of one stream. When the client reads slower
// than the upstream produces, content deltas coalesce in place instead of
// growing the queue; lifecycle events are never dropped or merged.
package streampipe

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ferryman-dev/ferryman/internal/translate"
)

var (
	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("streampipe: closed")

	// ErrEnqueueTimeout is returned when the queue stayed full past the
	// enqueue timeout and the pending event could not coalesce. The caller
	// aborts the upstream read and synthesizes a terminal failure.
	ErrEnqueueTimeout = errors.New("streampipe: enqueue timeout, client too slow")
)

// Pipe is a bounded FIFO of stream events, safe for one producer and one
// consumer.
type Pipe struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []translate.Event
	cap    int
	closed bool

	enqueueTimeout time.Duration
	onBackpressure func()
}

// Option configures a Pipe.
type Option func(*Pipe)

// WithBackpressureHook installs a callback invoked once per queue-full
// occurrence, used to feed the backpressure metric.
func WithBackpressureHook(fn func()) Option {
	return func(p *Pipe) { p.onBackpressure = fn }
}

// New creates a pipe holding at most capacity events. enqueueTimeout bounds
// how long a non-coalescable enqueue may wait on a full queue.
func New(capacity int, enqueueTimeout time.Duration, opts ...Option) *Pipe {
	if capacity <= 0 {
		capacity = 1
	}
	p := &Pipe{
		cap:            capacity,
		enqueueTimeout: enqueueTimeout,
	}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Enqueue adds one event, blocking while the queue is full. A full queue is
// resolved in order of preference: merge the event into a coalescable tail,
// wait for the consumer, fail after the enqueue timeout.
func (p *Pipe) Enqueue(ctx context.Context, ev translate.Event) error {
	if ev.Kind == translate.KindIgnore {
		return nil
	}

	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	var deadline time.Time
	counted := false
	timedOut := false
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.closed {
			return ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if len(p.queue) < p.cap {
			p.queue = append(p.queue, ev)
			p.cond.Signal()
			return nil
		}

		// Queue full.
		if p.onBackpressure != nil && !counted {
			counted = true
			p.onBackpressure()
		}
		if tail := &p.queue[len(p.queue)-1]; ev.Coalescable() &&
			tail.Coalescable() && tail.Kind == ev.Kind && tail.ToolIndex == ev.ToolIndex {
			tail.MergeFrom(&ev)
			return nil
		}

		if p.enqueueTimeout > 0 {
			if deadline.IsZero() {
				deadline = time.Now().Add(p.enqueueTimeout)
				timer = time.AfterFunc(p.enqueueTimeout, func() {
					p.mu.Lock()
					timedOut = true
					p.cond.Broadcast()
					p.mu.Unlock()
				})
			}
			if timedOut {
				return ErrEnqueueTimeout
			}
		}
		p.cond.Wait()
	}
}

// Dequeue removes the oldest event, blocking until one is available. ok is
// false once the pipe is closed and drained, or the context ends.
func (p *Pipe) Dequeue(ctx context.Context) (ev translate.Event, ok bool, err error) {
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if len(p.queue) > 0 {
			ev = p.queue[0]
			p.queue = p.queue[1:]
			p.cond.Broadcast()
			return ev, true, nil
		}
		if p.closed {
			return translate.Event{}, false, nil
		}
		if err := ctx.Err(); err != nil {
			return translate.Event{}, false, err
		}
		p.cond.Wait()
	}
}

// Close marks the end of input. Queued events remain readable.
func (p *Pipe) Close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Len reports the current queue depth.
func (p *Pipe) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}
