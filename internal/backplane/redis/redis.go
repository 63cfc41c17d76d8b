// Package redis implements the backplane on Redis PUBLISH/SUBSCRIBE.
//
// A subscription owns one dedicated connection. When that connection fails the
// subscription ends and reports the error; it does not reconnect.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/leninjo/pairrelay/internal/backplane"
	"github.com/redis/go-redis/v9"
)

// Config contains configuration options for the Redis backplane.
type Config struct {
	// Client is the Redis client to use. If nil, one is created from Addr.
	Client redis.UniversalClient
	// Addr like "localhost:6379". Ignored when Client is set.
	Addr     string
	Password string
	DB       int
	// Channel defaults to backplane.DefaultChannel.
	Channel string
}

// Backplane publishes and subscribes on a single Redis channel.
type Backplane struct {
	client  redis.UniversalClient
	channel string
	owned   bool
}

var _ backplane.Backplane = (*Backplane)(nil)

// New creates a Redis backplane. It does not contact the server.
func New(cfg Config) *Backplane {
	client := cfg.Client
	owned := false
	if client == nil {
		addr := cfg.Addr
		if addr == "" {
			addr = "localhost:6379"
		}
		client = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		owned = true
	}
	channel := cfg.Channel
	if channel == "" {
		channel = backplane.DefaultChannel
	}
	return &Backplane{client: client, channel: channel, owned: owned}
}

// Ping checks that the server is reachable.
func (b *Backplane) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Channel returns the channel name in use.
func (b *Backplane) Channel() string { return b.channel }

// Publish sends body on the channel.
func (b *Backplane) Publish(ctx context.Context, body string) error {
	if err := b.client.Publish(ctx, b.channel, body).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", b.channel, err)
	}
	return nil
}

// Subscribe opens a dedicated connection, waits for the subscription to be
// confirmed, then delivers messages on its own goroutine.
func (b *Backplane) Subscribe(ctx context.Context, handler backplane.Handler) (backplane.Subscription, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	ps := b.client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", b.channel, err)
	}

	s := &subscription{ps: ps, done: make(chan struct{})}
	go s.watch(ctx)
	go s.deliver(ctx, handler)
	return s, nil
}

// Close closes the client if the backplane created it.
func (b *Backplane) Close() error {
	if !b.owned {
		return nil
	}
	return b.client.Close()
}

type subscription struct {
	ps        *redis.PubSub
	done      chan struct{}
	closing   atomic.Bool
	closeOnce sync.Once
	err       error
}

// watch closes the pubsub when ctx ends so a blocked receive returns.
func (s *subscription) watch(ctx context.Context) {
	select {
	case <-ctx.Done():
		_ = s.Close()
	case <-s.done:
	}
}

func (s *subscription) deliver(ctx context.Context, handler backplane.Handler) {
	defer close(s.done)
	for {
		msg, err := s.ps.ReceiveMessage(ctx)
		if err != nil {
			if !s.closing.Load() && ctx.Err() == nil {
				s.err = fmt.Errorf("receive: %w", err)
			}
			return
		}
		handler(ctx, msg.Payload)
	}
}

func (s *subscription) Wait() error {
	<-s.done
	return s.err
}

func (s *subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		err = s.ps.Close()
	})
	return err
}
