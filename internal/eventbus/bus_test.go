package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(2)
	c, unsubC := b.Subscribe(2)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: ConnectionEstablished, Data: Details{Peer: "AA:BB:CC:DD:EE:FF"}})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != ConnectionEstablished {
				t.Fatalf("type = %q", e.Type)
			}
			if e.Time.IsZero() {
				t.Fatal("time not stamped")
			}
			if d, _ := e.Data.(Details); d.Peer != "AA:BB:CC:DD:EE:FF" {
				t.Fatalf("data = %#v", e.Data)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Type: WaitingConnection})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked")
	}
	if got := Dropped(b); got != 9 {
		t.Fatalf("dropped = %d, want 9", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel still open")
	}
	b.Publish(Event{Type: ServiceStopped})
}
