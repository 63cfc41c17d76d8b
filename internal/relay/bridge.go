// Package relay bridges the process-local registry to the shared backplane so a
// send envelope with no local target can reach the instance that holds it.
//
// Delivery is best effort and at most one hop: a subscriber that finds no local
// target drops the message. Every instance receives its own publications back and
// discards them by comparing the origin tag with its own instance id.
package relay

import (
	"context"
	"errors"
	"sync"

	"github.com/leninjo/pairrelay/internal/backplane"
	"github.com/leninjo/pairrelay/internal/protocol"
	"github.com/leninjo/pairrelay/internal/registry"
	"go.uber.org/zap"
)

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("relay subscriber already started")

// Config wires dependencies for a Bridge.
type Config struct {
	Log        *zap.Logger
	Backplane  backplane.Backplane
	Registry   *registry.Registry
	InstanceID string
	Metrics    *Metrics
}

// Bridge publishes local routing misses and delivers remote ones.
type Bridge struct {
	log        *zap.Logger
	backplane  backplane.Backplane
	registry   *registry.Registry
	instanceID string
	metrics    *Metrics

	startOnce sync.Once
	done      chan struct{}
	err       error
}

// NewBridge validates cfg and returns an idle bridge; call Start to subscribe.
func NewBridge(cfg Config) (*Bridge, error) {
	if cfg.Backplane == nil {
		return nil, errors.New("backplane is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return &Bridge{
		log:        cfg.Log.With(zap.String("instance_id", cfg.InstanceID)),
		backplane:  cfg.Backplane,
		registry:   cfg.Registry,
		instanceID: cfg.InstanceID,
		metrics:    cfg.Metrics,
		done:       make(chan struct{}),
	}, nil
}

// Publish sends the original envelope text to every other instance.
func (b *Bridge) Publish(ctx context.Context, text []byte) error {
	body := backplane.Encode(backplane.Message{Payload: string(text), Origin: b.instanceID})
	if err := b.backplane.Publish(ctx, body); err != nil {
		b.metrics.RecordPublishFailure()
		return err
	}
	b.metrics.RecordPublished()
	return nil
}

// Start subscribes to the backplane and delivers on a background goroutine for
// the rest of the process lifetime. A transport failure ends delivery for good;
// Done is closed and Err reports the cause.
func (b *Bridge) Start(ctx context.Context) error {
	err := ErrAlreadyStarted
	b.startOnce.Do(func() {
		err = b.start(ctx)
	})
	return err
}

func (b *Bridge) start(ctx context.Context) error {
	sub, err := b.backplane.Subscribe(ctx, b.handle)
	if err != nil {
		b.err = err
		close(b.done)
		return err
	}
	b.metrics.SetSubscriberUp(true)
	b.log.Info("relay subscriber started")

	go func() {
		waitErr := sub.Wait()
		b.metrics.SetSubscriberUp(false)
		if waitErr != nil {
			b.err = waitErr
			b.log.Error("relay subscriber stopped; cross-instance delivery disabled", zap.Error(waitErr))
		} else {
			b.log.Info("relay subscriber stopped")
		}
		close(b.done)
	}()
	return nil
}

// Done is closed once the subscriber has stopped or failed to start.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// Err returns the error that ended the subscriber, if any. Valid after Done is closed.
func (b *Bridge) Err() error {
	select {
	case <-b.done:
		return b.err
	default:
		return nil
	}
}

func (b *Bridge) handle(_ context.Context, body string) {
	b.metrics.RecordReceived()

	msg, err := backplane.Decode(body)
	if err != nil {
		b.metrics.RecordMalformed()
		b.log.Warn("discarding backplane message", zap.Error(err))
		return
	}
	if msg.Origin == b.instanceID {
		b.metrics.RecordEchoSuppressed()
		return
	}

	dst, err := protocol.DecodeDestination([]byte(msg.Payload))
	if err != nil {
		b.metrics.RecordDropped("malformed")
		b.log.Warn("discarding remote envelope", zap.String("origin", msg.Origin), zap.Error(err))
		return
	}

	target, ok := b.registry.Lookup(dst.To, dst.Role)
	if !ok {
		b.metrics.RecordDropped("no_target")
		b.log.Debug("no local target for remote envelope",
			zap.String("origin", msg.Origin),
			zap.String("to", dst.To),
			zap.String("role", string(dst.Role)),
		)
		return
	}

	if err := target.Send([]byte(msg.Payload)); err != nil {
		b.registry.Release(dst.To, dst.Role, target.SessionID())
		b.metrics.RecordDropped("send_failed")
		b.log.Warn("remote delivery failed; released stale handle",
			zap.String("to", dst.To),
			zap.String("role", string(dst.Role)),
			zap.String("session_id", target.SessionID()),
			zap.Error(err),
		)
		return
	}
	b.metrics.RecordDelivered()
	b.log.Debug("delivered remote envelope",
		zap.String("origin", msg.Origin),
		zap.String("to", dst.To),
		zap.String("role", string(dst.Role)),
	)
}
