package domain

import (
	"context"
	"time"
)

// Signal bus channels.
const (
	ChannelPositions  = "positions"
	ChannelSimulation = "simulation"
	ChannelResults    = "results"
)

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub between the harness services and the push hub.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
