package transcript

import (
	"context"
	"sync"
)

// Bridge adapts a recognition backend that invokes callbacks on its own
// goroutine into a pull-driven sequence for a single consumer. Emit never
// blocks and never drops; Next blocks until an event is available and returns
// events strictly in emission order. One producer, one consumer.
type Bridge struct {
	mu     sync.Mutex
	buf    []Event
	notify chan struct{}
}

func NewBridge() *Bridge {
	return &Bridge{notify: make(chan struct{}, 1)}
}

// Emit appends an event to the internal buffer. Safe to call from the
// producing goroutine at any rate; buffering is unbounded.
func (b *Bridge) Emit(ev Event) {
	b.mu.Lock()
	b.buf = append(b.buf, ev)
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Next returns the oldest unconsumed event, blocking until one arrives or the
// context is done.
func (b *Bridge) Next(ctx context.Context) (Event, error) {
	for {
		b.mu.Lock()
		if len(b.buf) > 0 {
			ev := b.buf[0]
			b.buf = b.buf[1:]
			b.mu.Unlock()
			return ev, nil
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-b.notify:
		}
	}
}

// Pending reports the number of buffered, unconsumed events.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}
