package eventbus

import (
	"context"
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TypeNotifySent, Tenant: "1"})
	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != TypeNotifySent || e.Time.IsZero() {
				t.Fatalf("event=%+v", e)
			}
		default:
			t.Fatal("subscriber missed event")
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	if b.Dropped() != 1 {
		t.Fatalf("dropped=%d", b.Dropped())
	}
	unsub()
	unsub()
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: "c"})
}

func TestHistoryWraps(t *testing.T) {
	h := NewHistory(3)
	for _, typ := range []string{"a", "b", "c", "d"} {
		h.Add(Event{Type: typ})
	}
	got := h.Recent()
	if len(got) != 3 || got[0].Type != "b" || got[2].Type != "d" {
		t.Fatalf("recent=%+v", got)
	}
}

func TestHistoryRecord(t *testing.T) {
	b := New()
	h := NewHistory(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	seen := make(chan Event, 1)
	done := make(chan struct{})
	go func() {
		h.Record(ctx, b, func(e Event) {
			select {
			case seen <- e:
			default:
			}
		})
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		b.Publish(Event{Type: TypeTickFinished})
		select {
		case <-seen:
			cancel()
			<-done
			if len(h.Recent()) == 0 {
				t.Fatal("history empty")
			}
			return
		case <-deadline:
			t.Fatal("event not recorded")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
