// Package local provides in-process stand-ins for the Redis-backed signal bus
// and lock manager, used when no Redis is configured.
package local

import (
	"context"
	"sync"

	"github.com/alanyoungcy/bundlerlab/internal/domain"
)

const subscriberBuffer = 64

// Bus is an in-memory domain.SignalBus. Like the Redis bus it remembers the
// latest payload of each channel. Slow subscribers drop messages rather than
// block publishers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[chan []byte]struct{}
	latest map[string][]byte
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{
		subs:   make(map[string]map[chan []byte]struct{}),
		latest: make(map[string][]byte),
	}
}

var _ domain.SignalBus = (*Bus)(nil)

// Publish delivers payload to every current subscriber of channel.
func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	msg := append([]byte(nil), payload...)

	b.mu.Lock()
	b.latest[channel] = msg
	b.mu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[channel] {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

// Latest returns the last payload of channel or domain.ErrNotFound.
func (b *Bus) Latest(_ context.Context, channel string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	msg, ok := b.latest[channel]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return msg, nil
}

// Subscribe returns a channel closed when ctx is done.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, subscriberBuffer)

	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan []byte]struct{})
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[channel], ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}
