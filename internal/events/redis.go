package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/davidschrooten/docvault-search/config"
)

const (
	popTimeout   = time.Second
	retryBackoff = time.Second
)

// RedisBus queues changes on a Redis list: LPUSH to publish, BRPOP to
// consume. Changes survive a restart of the consumer.
type RedisBus struct {
	client *redis.Client
	key    string
	logger *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewRedisBus connects and pings Redis.
func NewRedisBus(cfg config.EventsConfig, logger *zap.Logger) (*RedisBus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	key := cfg.RedisKey
	if key == "" {
		key = "docsearch:permissions"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  time.Second * 5,
		ReadTimeout:  popTimeout + time.Second*3,
		WriteTimeout: time.Second * 3,
		PoolSize:     10,
		PoolTimeout:  time.Second * 4,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisBus{
		client: client,
		key:    key,
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

func (b *RedisBus) Publish(ctx context.Context, change PermissionChange) error {
	select {
	case <-b.done:
		return ErrBusClosed
	default:
	}

	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to encode permission change: %w", err)
	}
	if err := b.client.LPush(ctx, b.key, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish permission change: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, handler Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-b.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		res, err := b.client.BRPop(ctx, popTimeout, b.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Error("failed to pop permission change", zap.String("key", b.key), zap.Error(err))
			select {
			case <-time.After(retryBackoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		// BRPOP returns the key followed by the value.
		if len(res) != 2 {
			continue
		}
		change, err := decodeChange(res[1])
		if err != nil {
			b.logger.Warn("dropping malformed permission change", zap.String("payload", res[1]), zap.Error(err))
			continue
		}
		handler(change)
	}
}

func (b *RedisBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		err = b.client.Close()
	})
	return err
}

func decodeChange(payload string) (PermissionChange, error) {
	var change PermissionChange
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		return change, err
	}
	if change.DocumentID == "" {
		return change, errors.New("missing documentId")
	}
	return change, nil
}
