package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// System event types. Details travel in Event.Data as Details.
const (
	ServiceStarted        = "SERVICE_STARTED"
	WaitingConnection     = "WAITING_CONNECTION"
	ConnectionEstablished = "CONNECTION_ESTABLISHED"
	ConnectionClosed      = "CONNECTION_CLOSED"
	ConnectionRejected    = "CONNECTION_REJECTED"
	LinkError             = "LINK_ERROR"
	ServiceStopped        = "SERVICE_STOPPED"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish never blocks.
//   - Subscribers get buffered channels.
//   - Slow subscribers drop events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Details is the payload attached to system events.
type Details struct {
	Peer    string `json:"peer,omitempty"`
	Channel int    `json:"channel,omitempty"`
	Message string `json:"message,omitempty"`

	// Set on CONNECTION_CLOSED.
	Frames   uint64        `json:"frames,omitempty"`
	Bytes    uint64        `json:"bytes,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			// Publish holds the read lock while sending, so closing under the
			// write lock cannot race a send.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func Dropped(b Bus) uint64 {
	if mb, ok := b.(*memBus); ok {
		return mb.dropped.Load()
	}
	return 0
}
