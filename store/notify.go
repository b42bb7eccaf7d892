package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	backend "github.com/redis/go-redis/v9"
)

const defaultChannelPrefix = "steward:tasks:"

type RedisConfig struct {
	Addr     string `envconfig:"ADDR" split_words:"true"`
	Password string `envconfig:"PASSWORD" split_words:"true"`
	DB       int    `envconfig:"DB" split_words:"true" default:"0"`
}

// Enabled reports whether a notification backend is configured. The
// reconciler falls back to polling alone when it is not.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type BusOption func(*Bus)

func WithChannelPrefix(prefix string) BusOption {
	return func(b *Bus) {
		trimmed := strings.TrimSpace(prefix)
		if trimmed != "" {
			b.prefix = trimmed
		}
	}
}

// Bus carries per-conversation task-change nudges over Redis pub/sub.
// It serves both the notifier and listener sides.
type Bus struct {
	client *backend.Client
	prefix string
}

func NewBus(cfg RedisConfig, opts ...BusOption) (*Bus, error) {
	if !cfg.Enabled() {
		return nil, errors.New("redis addr is required")
	}
	client := backend.NewClient(&backend.Options{
		Addr:     strings.TrimSpace(cfg.Addr),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewBusFromClient(client, opts...), nil
}

// NewBusFromClient wires an existing client, mainly for tests.
func NewBusFromClient(client *backend.Client, opts ...BusOption) *Bus {
	bus := &Bus{
		client: client,
		prefix: defaultChannelPrefix,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(bus)
		}
	}
	return bus
}

func (b *Bus) channel(conversationID int64) string {
	return b.prefix + strconv.FormatInt(conversationID, 10)
}

func (b *Bus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *Bus) Notify(ctx context.Context, conversationID int64) error {
	if err := b.client.Publish(ctx, b.channel(conversationID), "changed").Err(); err != nil {
		return fmt.Errorf("publish task change: %w", err)
	}
	return nil
}

// Listen yields one signal per publish on the conversation's channel,
// coalescing bursts into the single buffered slot. The returned channel
// closes when ctx ends.
func (b *Bus) Listen(ctx context.Context, conversationID int64) (<-chan struct{}, error) {
	sub := b.client.Subscribe(ctx, b.channel(conversationID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe task changes: %w", err)
	}

	out := make(chan struct{}, 1)
	messages := sub.Channel()
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-messages:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}

func (b *Bus) Close() error {
	return b.client.Close()
}
