// Package memory is an in-process backplane. Every value returned by New is a
// separate channel; instances share one by sharing the value. It suits single
// instance deployments and tests.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/leninjo/pairrelay/internal/backplane"
)

const subscriberBuffer = 256

// ErrClosed is returned when publishing on or subscribing to a closed backplane.
var ErrClosed = errors.New("memory backplane closed")

// Backplane fans bodies out to every subscription in publish order.
type Backplane struct {
	mu     sync.RWMutex
	subs   map[*subscription]struct{}
	closed bool
}

var _ backplane.Backplane = (*Backplane)(nil)

// New creates an empty in-process channel.
func New() *Backplane {
	return &Backplane{subs: make(map[*subscription]struct{})}
}

// Publish enqueues body for every subscription. It blocks while a subscriber's
// buffer is full, until ctx is done.
func (b *Backplane) Publish(ctx context.Context, body string) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.queue <- body:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe registers handler and starts delivering on a dedicated goroutine.
func (b *Backplane) Subscribe(ctx context.Context, handler backplane.Handler) (backplane.Subscription, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	s := &subscription{
		owner: b,
		queue: make(chan string, subscriberBuffer),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.deliver(ctx, handler)
	return s, nil
}

// Close ends every subscription.
func (b *Backplane) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[*subscription]struct{})
	b.mu.Unlock()

	for s := range subs {
		s.stop()
	}
	return nil
}

func (b *Backplane) remove(s *subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

type subscription struct {
	owner    *Backplane
	queue    chan string
	done     chan struct{}
	stopOnce sync.Once
}

func (s *subscription) deliver(ctx context.Context, handler backplane.Handler) {
	for {
		select {
		case <-ctx.Done():
			s.stop()
			return
		case <-s.done:
			return
		case body := <-s.queue:
			handler(ctx, body)
		}
	}
}

func (s *subscription) stop() {
	s.stopOnce.Do(func() {
		s.owner.remove(s)
		close(s.done)
	})
}

func (s *subscription) Wait() error {
	<-s.done
	return nil
}

func (s *subscription) Close() error {
	s.stop()
	return nil
}
