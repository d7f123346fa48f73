// Package transport implements the primitives the helper bootstrap runs on:
// an SSH transport for remote targets, the local ensure primitive, and the
// process-wide write-progress stream.
package transport

import (
	"sync"

	"github.com/jaterm/jaterm/internal/core/bootstrap"
)

// Broadcaster is the write-progress stream shared by every transport in the
// process. Subscribers receive every event and filter by path themselves.
type Broadcaster struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]func(bootstrap.WriteProgress)
}

// NewBroadcaster creates an empty stream.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uint64]func(bootstrap.WriteProgress))}
}

// SubscribeWriteProgress registers handler. The returned func removes it and
// may be called any number of times.
func (b *Broadcaster) SubscribeWriteProgress(handler func(bootstrap.WriteProgress)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = handler
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers p to a snapshot of the current subscribers. Handlers run
// on the caller's goroutine without the lock held, so a handler may
// unsubscribe itself.
func (b *Broadcaster) Publish(p bootstrap.WriteProgress) {
	b.mu.RLock()
	handlers := make([]func(bootstrap.WriteProgress), 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(p)
	}
}

// Subscribers reports how many handlers are registered.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
