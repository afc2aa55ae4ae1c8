package chat

import (
	"sync"

	"github.com/zhouzirui/webchat/backend/internal/model/chat"
)

// EventType 推送给前端的事件类型。
type EventType string

const (
	EventSnapshot EventType = "snapshot"
	EventNotice   EventType = "notice"
)

// Event is one item of a session's render feed.
type Event struct {
	Type     EventType      `json:"type"`
	Snapshot *chat.Snapshot `json:"snapshot,omitempty"`
	Notice   *chat.Notice   `json:"notice,omitempty"`
}

// Broadcaster fans session snapshots and notices out to feed subscribers.
// It never blocks the session: when a subscriber falls behind, its oldest
// buffered event is dropped to make room for the newest.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int
	last        *chat.Snapshot
	closed      bool
}

// NewBroadcaster 创建事件广播器。
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[int]chan Event)}
}

// Render implements Observer.
func (b *Broadcaster) Render(snapshot chat.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.last = &snapshot
	b.publishLocked(Event{Type: EventSnapshot, Snapshot: &snapshot})
}

// Notify implements Notifier.
func (b *Broadcaster) Notify(notice chat.Notice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.publishLocked(Event{Type: EventNotice, Notice: &notice})
}

// Subscribe registers a feed. The latest snapshot, if any, is delivered first.
// The returned cancel func unregisters the feed and closes the channel.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	if b.last != nil {
		ch <- Event{Type: EventSnapshot, Snapshot: b.last}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Close closes every feed.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}

func (b *Broadcaster) publishLocked(event Event) {
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
			continue
		default:
		}

		select {
		case <-ch:
		default:
		}
		select {
		case ch <- event:
		default:
		}
	}
}
