package task

import (
	"sync"
	"time"
)

// Event is a progress update for one task.
type Event struct {
	TaskID   string    `json:"task_id"`
	Status   Status    `json:"status"`
	Stage    Stage     `json:"stage"`
	Progress float64   `json:"progress"`
	Detail   string    `json:"detail,omitempty"`
	Time     time.Time `json:"time"`
}

const eventBuffer = 16

// broadcaster fans events out to subscribers. Sends never block; a subscriber
// that falls behind loses events rather than stalling the pipeline.
type broadcaster struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[chan Event]struct{})}
}

// Subscribe returns an event channel and a cancel func that must be called
// when the subscriber is done.
func (b *broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, eventBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *broadcaster) publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
