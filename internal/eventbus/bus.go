package eventbus

import (
	"sync"

	"github.com/google/uuid"
)

// DefaultQueueSize bounds each subscriber queue. A slow consumer loses its
// oldest events rather than stalling the publisher; streaming endpoints
// compensate by sending a full snapshot on subscribe.
const DefaultQueueSize = 100

// Event types published over the bus. Snapshot is only ever sent directly
// to a new stream, never through Publish.
const (
	EventSnapshot  = "session.snapshot"
	EventChecklist = "checklist.update"
	EventStatus    = "status.update"
	EventReady     = "ready"
	EventFailed    = "failed"
)

// Event is an ephemeral lifecycle notification scoped to one session.
// Events are never persisted.
type Event struct {
	Type string
	Data any
}

// Subscriber is one bounded receive queue registered for a session.
type Subscriber struct {
	C chan Event
}

// Bus is the in-process pub/sub used for checklist and status streaming.
// It is constructed once in main and handed down; there is no package-level
// instance.
type Bus struct {
	mu        sync.Mutex
	subs      map[uuid.UUID]map[*Subscriber]struct{}
	queueSize int
}

// New creates a bus with the given per-subscriber queue size.
func New(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		subs:      make(map[uuid.UUID]map[*Subscriber]struct{}),
		queueSize: queueSize,
	}
}

// Publish broadcasts to all current subscribers for the session. It never
// blocks: a full queue evicts its oldest item to make room for the new one.
// Sessions with no subscribers drop the event.
func (b *Bus) Publish(sessionID uuid.UUID, event Event) {
	b.mu.Lock()
	subs := make([]*Subscriber, 0, len(b.subs[sessionID]))
	for sub := range b.subs[sessionID] {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.C <- event:
		default:
			// Queue full: drop oldest, then retry once.
			select {
			case <-sub.C:
			default:
			}
			select {
			case sub.C <- event:
			default:
			}
		}
	}
}

// Subscribe registers a new bounded queue for the session.
func (b *Bus) Subscribe(sessionID uuid.UUID) *Subscriber {
	sub := &Subscriber{C: make(chan Event, b.queueSize)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[*Subscriber]struct{})
	}
	b.subs[sessionID][sub] = struct{}{}
	return sub
}

// Unsubscribe removes the queue and drains anything still buffered.
func (b *Bus) Unsubscribe(sessionID uuid.UUID, sub *Subscriber) {
	b.mu.Lock()
	if set, ok := b.subs[sessionID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sessionID)
		}
	}
	b.mu.Unlock()

	for {
		select {
		case <-sub.C:
		default:
			return
		}
	}
}

// SubscriberCount reports how many queues are registered for a session.
func (b *Bus) SubscriberCount(sessionID uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[sessionID])
}
