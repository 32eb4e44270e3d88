// Package live fans committed timing updates out to live-feed followers.
package live

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/playperu/simple5k/internal/timing"
)

// subscriberBuffer is how many updates a follower may fall behind before
// it starts missing them.
const subscriberBuffer = 16

// Broker publishes timing updates and hands out per-race subscriptions.
// Subscribers receive JSON-encoded timing.Update values.
type Broker interface {
	timing.Publisher
	Subscribe(raceID int64) (<-chan []byte, func())
}

// MemoryBroker is an in-process pub/sub keyed by race.
type MemoryBroker struct {
	mu   sync.RWMutex
	subs map[int64]map[chan []byte]struct{}
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[int64]map[chan []byte]struct{})}
}

// Subscribe returns a channel of updates for raceID and a func that ends
// the subscription. The channel is never closed.
func (b *MemoryBroker) Subscribe(raceID int64) (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)
	b.mu.Lock()
	if b.subs[raceID] == nil {
		b.subs[raceID] = make(map[chan []byte]struct{})
	}
	b.subs[raceID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[raceID], ch)
			if len(b.subs[raceID]) == 0 {
				delete(b.subs, raceID)
			}
			b.mu.Unlock()
		})
	}
}

func (b *MemoryBroker) Publish(_ context.Context, u timing.Update) {
	data, err := json.Marshal(u)
	if err != nil {
		return
	}
	b.fanout(u.RaceID, data)
}

func (b *MemoryBroker) fanout(raceID int64, data []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[raceID] {
		select {
		case ch <- data:
		default:
			// Drop if subscriber is slow.
		}
	}
}

// Subscribers reports how many followers raceID has.
func (b *MemoryBroker) Subscribers(raceID int64) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[raceID])
}
