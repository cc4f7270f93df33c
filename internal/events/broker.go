package events

import (
	"context"
	"sync"
)

// Broker delivers events to in-process subscribers keyed by user id.
type Broker struct {
	mu     sync.RWMutex
	nextID int64
	subs   map[string]map[int64]func(Event)
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[int64]func(Event))}
}

// Subscribe registers fn for every event whose audience contains userID.
// The returned function removes the subscription; calling it twice is safe.
func (b *Broker) Subscribe(userID string, fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[int64]func(Event))
	}
	b.subs[userID][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if conns, ok := b.subs[userID]; ok {
				delete(conns, id)
				if len(conns) == 0 {
					delete(b.subs, userID)
				}
			}
		})
	}
}

// Publish delivers e to local subscribers. It never fails.
func (b *Broker) Publish(_ context.Context, e Event) error {
	b.Deliver(e)
	return nil
}

// Deliver invokes the callbacks of e's audience. Callbacks run outside the
// broker lock and may subscribe or unsubscribe.
func (b *Broker) Deliver(e Event) {
	var targets []func(Event)
	b.mu.RLock()
	for _, uid := range e.Audience() {
		for _, fn := range b.subs[uid] {
			targets = append(targets, fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range targets {
		fn(e)
	}
}

// Subscribers returns the number of active subscriptions for userID.
func (b *Broker) Subscribers(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[userID])
}
