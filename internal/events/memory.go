package events

import (
	"context"
	"errors"
	"sync"
)

// ErrBusFull is returned when the in-memory buffer has no room.
var ErrBusFull = errors.New("event bus full")

// MemoryBus is a buffered channel shared by publishers and one consumer.
type MemoryBus struct {
	ch        chan PermissionChange
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryBus creates a bus holding up to buffer pending changes.
func NewMemoryBus(buffer int) *MemoryBus {
	if buffer < 1 {
		buffer = 128
	}
	return &MemoryBus{
		ch:   make(chan PermissionChange, buffer),
		done: make(chan struct{}),
	}
}

func (b *MemoryBus) Publish(ctx context.Context, change PermissionChange) error {
	select {
	case <-b.done:
		return ErrBusClosed
	default:
	}

	select {
	case b.ch <- change:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrBusFull
	}
}

func (b *MemoryBus) Subscribe(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.done:
			return nil
		case change := <-b.ch:
			handler(change)
		}
	}
}

func (b *MemoryBus) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	return nil
}
