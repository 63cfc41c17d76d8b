// Package backplanetest holds a conformance suite shared by backplane drivers.
package backplanetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leninjo/pairrelay/internal/backplane"
)

// Factory returns a fresh, empty backplane for one subtest.
type Factory func(t *testing.T) backplane.Backplane

// Run executes the suite against factory.
func Run(t *testing.T, factory Factory) {
	t.Run("DeliversToEverySubscriber", func(t *testing.T) {
		testDeliversToEverySubscriber(t, factory)
	})
	t.Run("PublisherReceivesOwnMessages", func(t *testing.T) {
		testPublisherReceivesOwnMessages(t, factory)
	})
	t.Run("PreservesOrderAndBytes", func(t *testing.T) {
		testPreservesOrderAndBytes(t, factory)
	})
	t.Run("CloseEndsSubscription", func(t *testing.T) {
		testCloseEndsSubscription(t, factory)
	})
	t.Run("ContextCancellationEndsSubscription", func(t *testing.T) {
		testContextCancellationEndsSubscription(t, factory)
	})
}

type collector struct {
	mu     sync.Mutex
	bodies []string
	notify chan struct{}
}

func newCollector() *collector {
	return &collector{notify: make(chan struct{}, 64)}
}

func (c *collector) handle(_ context.Context, body string) {
	c.mu.Lock()
	c.bodies = append(c.bodies, body)
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *collector) waitFor(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		c.mu.Lock()
		if len(c.bodies) >= n {
			out := append([]string(nil), c.bodies...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		select {
		case <-c.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d messages", n)
		}
	}
}

func testDeliversToEverySubscriber(t *testing.T, factory Factory) {
	bp := factory(t)
	defer bp.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, b := newCollector(), newCollector()
	subA, err := bp.Subscribe(ctx, a.handle)
	if err != nil {
		t.Fatalf("subscribe a: %v", err)
	}
	defer subA.Close()
	subB, err := bp.Subscribe(ctx, b.handle)
	if err != nil {
		t.Fatalf("subscribe b: %v", err)
	}
	defer subB.Close()

	if err := bp.Publish(ctx, "hello|||origin=1"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if got := a.waitFor(t, 1); got[0] != "hello|||origin=1" {
		t.Fatalf("subscriber a got %q", got[0])
	}
	if got := b.waitFor(t, 1); got[0] != "hello|||origin=1" {
		t.Fatalf("subscriber b got %q", got[0])
	}
}

func testPublisherReceivesOwnMessages(t *testing.T, factory Factory) {
	bp := factory(t)
	defer bp.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := newCollector()
	sub, err := bp.Subscribe(ctx, c.handle)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if err := bp.Publish(ctx, "echo"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := c.waitFor(t, 1); got[0] != "echo" {
		t.Fatalf("expected own message back, got %q", got[0])
	}
}

func testPreservesOrderAndBytes(t *testing.T, factory Factory) {
	bp := factory(t)
	defer bp.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := newCollector()
	sub, err := bp.Subscribe(ctx, c.handle)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	bodies := []string{
		`{"type":"send_to_app","data":{"to":"7","method":"getTerminal"}}|||origin=0`,
		`{"note":"ñandú ✅ |||origin=x"}|||origin=1`,
		"",
		"third",
	}
	for _, body := range bodies {
		if err := bp.Publish(ctx, body); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	got := c.waitFor(t, len(bodies))
	for i, want := range bodies {
		if got[i] != want {
			t.Fatalf("message %d: expected %q, got %q", i, want, got[i])
		}
	}
}

func testCloseEndsSubscription(t *testing.T, factory Factory) {
	bp := factory(t)
	defer bp.Close()

	sub, err := bp.Subscribe(context.Background(), func(context.Context, string) {})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	waitEnded(t, sub)
}

func testContextCancellationEndsSubscription(t *testing.T, factory Factory) {
	bp := factory(t)
	defer bp.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := bp.Subscribe(ctx, func(context.Context, string) {})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	waitEnded(t, sub)
}

func waitEnded(t *testing.T, sub backplane.Subscription) {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- sub.Wait() }()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("expected clean end, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not end")
	}
}
