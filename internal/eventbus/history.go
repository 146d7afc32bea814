package eventbus

import (
	"context"
	"sync"
)

// History keeps the most recent events from a bus.
type History struct {
	mu   sync.Mutex
	buf  []Event
	next int
	full bool
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = 50
	}
	return &History{buf: make([]Event, size)}
}

func (h *History) Add(e Event) {
	h.mu.Lock()
	h.buf[h.next] = e
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}
	h.mu.Unlock()
}

// Recent returns events oldest first.
func (h *History) Recent() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		return append([]Event(nil), h.buf[:h.next]...)
	}
	out := make([]Event, 0, len(h.buf))
	out = append(out, h.buf[h.next:]...)
	return append(out, h.buf[:h.next]...)
}

// Record feeds h from bus until ctx is done. each, when non-nil, sees every
// event as well.
func (h *History) Record(ctx context.Context, bus Bus, each func(Event)) {
	ch, unsub := bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			h.Add(e)
			if each != nil {
				each(e)
			}
		}
	}
}
