package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leninjo/pairrelay/internal/backplane"
	"github.com/leninjo/pairrelay/internal/backplane/memory"
	"github.com/leninjo/pairrelay/internal/protocol"
	"github.com/leninjo/pairrelay/internal/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingHandle struct {
	id      string
	failErr error

	mu   sync.Mutex
	sent []string
	ch   chan string
}

func newRecordingHandle(id string) *recordingHandle {
	return &recordingHandle{id: id, ch: make(chan string, 16)}
}

func (h *recordingHandle) SessionID() string { return h.id }

func (h *recordingHandle) Send(text []byte) error {
	if h.failErr != nil {
		return h.failErr
	}
	h.mu.Lock()
	h.sent = append(h.sent, string(text))
	h.mu.Unlock()
	h.ch <- string(text)
	return nil
}

func (h *recordingHandle) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sent)
}

type instance struct {
	bridge   *Bridge
	registry *registry.Registry
	metrics  *Metrics
}

func startInstance(t *testing.T, ctx context.Context, bp backplane.Backplane, id string) instance {
	t.Helper()
	reg := registry.New()
	metrics := NewMetrics(prometheus.NewRegistry())
	bridge, err := NewBridge(Config{
		Log:        zaptest.NewLogger(t),
		Backplane:  bp,
		Registry:   reg,
		InstanceID: id,
		Metrics:    metrics,
	})
	require.NoError(t, err)
	require.NoError(t, bridge.Start(ctx))
	return instance{bridge: bridge, registry: reg, metrics: metrics}
}

func waitForCount(t *testing.T, c prometheus.Collector, want float64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(c) == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRemoteInstanceDeliversToLocalTarget(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bp := memory.New()
	defer bp.Close()
	a := startInstance(t, ctx, bp, "1")
	b := startInstance(t, ctx, bp, "2")

	app := newRecordingHandle("app-7")
	b.registry.Register("7", protocol.RoleApp, app)

	text := `{"type":"send_to_app","data":{"to":"7","method":"getTerminal"}}`
	require.NoError(t, a.bridge.Publish(ctx, []byte(text)))

	select {
	case got := <-app.ch:
		require.Equal(t, text, got)
	case <-time.After(2 * time.Second):
		t.Fatal("expected remote delivery")
	}
	waitForCount(t, a.metrics.echoSuppressed, 1)
	waitForCount(t, b.metrics.delivered, 1)
	require.Equal(t, float64(1), testutil.ToFloat64(a.metrics.published))
}

func TestOwnPublicationIsNeverForwarded(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bp := memory.New()
	defer bp.Close()
	a := startInstance(t, ctx, bp, "3")

	web := newRecordingHandle("web-42")
	app := newRecordingHandle("app-42")
	a.registry.Register("42", protocol.RoleWeb, web)
	a.registry.Register("42", protocol.RoleApp, app)

	payloads := []string{
		`{"type":"send_to_app","data":{"to":"42","method":"getCardData"}}`,
		`{"type":"send_to_web","data":{"to":"42","method":"getTerminal","response":{"terminal":"T"}}}`,
		`{"type":"send_to_app","data":{"to":"42","method":"printVoucher","body":{"x":"|||origin=9"}}}`,
		`not even json`,
	}
	for _, p := range payloads {
		require.NoError(t, a.bridge.Publish(ctx, []byte(p)))
	}

	waitForCount(t, a.metrics.echoSuppressed, float64(len(payloads)))
	require.Zero(t, web.count())
	require.Zero(t, app.count())
}

func TestEchoSuppressionComparesWholeOrigin(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bp := memory.New()
	defer bp.Close()
	one := startInstance(t, ctx, bp, "1")

	app := newRecordingHandle("app-7")
	one.registry.Register("7", protocol.RoleApp, app)

	// Origin "10" contains "1" but is a different instance.
	body := backplane.Encode(backplane.Message{
		Payload: `{"type":"send_to_app","data":{"to":"7","method":"getTerminal"}}`,
		Origin:  "10",
	})
	require.NoError(t, bp.Publish(ctx, body))

	select {
	case <-app.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("expected delivery from origin 10")
	}
}

func TestNoLocalTargetIsDropped(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bp := memory.New()
	defer bp.Close()
	a := startInstance(t, ctx, bp, "1")
	b := startInstance(t, ctx, bp, "2")

	web := newRecordingHandle("web-7")
	b.registry.Register("7", protocol.RoleWeb, web)

	require.NoError(t, a.bridge.Publish(ctx, []byte(`{"type":"send_to_app","data":{"to":"7","method":"getTerminal"}}`)))

	waitForCount(t, b.metrics.dropped.WithLabelValues("no_target"), 1)
	require.Zero(t, web.count())
	// No re-publish: the only publication is the original one.
	require.Equal(t, float64(0), testutil.ToFloat64(b.metrics.published))
}

func TestMalformedRemoteMessagesAreDropped(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bp := memory.New()
	defer bp.Close()
	a := startInstance(t, ctx, bp, "1")

	require.NoError(t, bp.Publish(ctx, "no tag here"))
	require.NoError(t, bp.Publish(ctx, `{"type":"register","data":{}}|||origin=2`))

	waitForCount(t, a.metrics.malformed, 1)
	waitForCount(t, a.metrics.dropped.WithLabelValues("malformed"), 1)
}

func TestFailedRemoteDeliveryReleasesHandle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bp := memory.New()
	defer bp.Close()
	b := startInstance(t, ctx, bp, "2")

	broken := newRecordingHandle("app-7")
	broken.failErr = errors.New("broken pipe")
	b.registry.Register("7", protocol.RoleApp, broken)

	body := backplane.Encode(backplane.Message{
		Payload: `{"type":"send_to_app","data":{"to":"7","method":"getTerminal"}}`,
		Origin:  "1",
	})
	require.NoError(t, bp.Publish(ctx, body))

	waitForCount(t, b.metrics.dropped.WithLabelValues("send_failed"), 1)
	_, ok := b.registry.Get("7")
	require.False(t, ok)
}

func TestStartOnlyOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bp := memory.New()
	a := startInstance(t, ctx, bp, "1")
	require.ErrorIs(t, a.bridge.Start(ctx), ErrAlreadyStarted)

	require.NoError(t, bp.Close())
	select {
	case <-a.bridge.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected subscriber to stop when backplane closes")
	}
	require.NoError(t, a.bridge.Err())
	require.Equal(t, float64(0), testutil.ToFloat64(a.metrics.subscriberUp))
}

type failingBackplane struct {
	backplane.Backplane
	err error
}

func (f failingBackplane) Publish(context.Context, string) error { return f.err }

func (f failingBackplane) Subscribe(context.Context, backplane.Handler) (backplane.Subscription, error) {
	return nil, f.err
}

func TestBackplaneErrorsAreReported(t *testing.T) {
	boom := fmt.Errorf("dial tcp: connection refused")
	metrics := NewMetrics(prometheus.NewRegistry())
	bridge, err := NewBridge(Config{
		Log:        zaptest.NewLogger(t),
		Backplane:  failingBackplane{err: boom},
		Registry:   registry.New(),
		InstanceID: "1",
		Metrics:    metrics,
	})
	require.NoError(t, err)

	require.ErrorIs(t, bridge.Start(context.Background()), boom)
	<-bridge.Done()
	require.ErrorIs(t, bridge.Err(), boom)

	require.ErrorIs(t, bridge.Publish(context.Background(), []byte("{}")), boom)
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.publishFailures))
}

func TestNewBridgeValidatesConfig(t *testing.T) {
	_, err := NewBridge(Config{Registry: registry.New()})
	require.Error(t, err)
	_, err = NewBridge(Config{Backplane: memory.New()})
	require.Error(t, err)
}
