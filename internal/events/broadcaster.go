// Package events fans account state changes out to live subscribers.
package events

import (
	"sync"

	"github.com/vadiminshakov/equitydash/internal/domain"
)

// Broadcaster fans out feed entries to all subscribers via buffered channels.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[chan domain.FeedRecordEntry]struct{}
	buffer int
}

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = 64
	}
	return &Broadcaster{
		subs:   make(map[chan domain.FeedRecordEntry]struct{}),
		buffer: buffer,
	}
}

// Publish sends the entry to all subscribers, dropping it for slow readers.
// Subscribers recover dropped entries from the feed log.
func (b *Broadcaster) Publish(e domain.FeedRecordEntry) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel that receives entries until Unsubscribe is called.
func (b *Broadcaster) Subscribe() chan domain.FeedRecordEntry {
	ch := make(chan domain.FeedRecordEntry, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *Broadcaster) Unsubscribe(ch chan domain.FeedRecordEntry) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Subscribers returns the number of live subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
