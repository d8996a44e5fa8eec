// Package events carries permission-change notifications from the
// application to the index writer.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/davidschrooten/docvault-search/config"
)

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = errors.New("event bus closed")

// PermissionChange announces that the owner or read access of a document changed.
type PermissionChange struct {
	DocumentID string    `json:"documentId"`
	At         time.Time `json:"at"`
}

// Handler consumes one change.
type Handler func(PermissionChange)

// Bus is a permission-change queue. Publish never waits for consumers;
// Subscribe blocks, calling handler for each change, until ctx is done or
// the bus is closed.
type Bus interface {
	Publish(ctx context.Context, change PermissionChange) error
	Subscribe(ctx context.Context, handler Handler) error
	Close() error
}

// NewBus returns the bus selected by cfg.Backend.
func NewBus(cfg config.EventsConfig, logger *zap.Logger) (Bus, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryBus(cfg.Buffer), nil
	case "redis":
		bus, err := NewRedisBus(cfg, logger)
		if err != nil {
			return nil, err
		}
		return bus, nil
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
	}
}
