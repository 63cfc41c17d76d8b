// Package backplane carries relay messages between instances over a shared
// publish/subscribe channel.
//
// The transport moves opaque string bodies. Encode and Decode implement the wire
// format used on the channel: the envelope text, a literal delimiter, and the
// identifier of the publishing instance:
//
//	{"type":"send_to_app","data":{...}}|||origin=3
//
// The payload is not escaped, so a payload containing the delimiter is ambiguous
// for consumers that split on the first occurrence. Decode splits on the last one.
package backplane

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	// Delimiter separates the payload from the origin tag.
	Delimiter = "|||origin="
	// DefaultChannel is the channel name shared by every instance.
	DefaultChannel = "ws-channel"
)

// ErrMalformed is returned by Decode for bodies without an origin tag.
var ErrMalformed = errors.New("malformed backplane message")

// Message is a relay message as seen by instances; clients never see it.
type Message struct {
	Payload string
	Origin  string
}

// Encode renders m in the channel wire format.
func Encode(m Message) string {
	return m.Payload + Delimiter + m.Origin
}

// Decode parses a channel body produced by Encode.
func Decode(body string) (Message, error) {
	idx := strings.LastIndex(body, Delimiter)
	if idx < 0 {
		return Message{}, fmt.Errorf("%w: missing origin tag", ErrMalformed)
	}
	return Message{
		Payload: body[:idx],
		Origin:  body[idx+len(Delimiter):],
	}, nil
}

// Handler receives channel bodies in arrival order on a single goroutine.
type Handler func(ctx context.Context, body string)

// Backplane is a shared publish/subscribe channel.
type Backplane interface {
	// Publish sends body to every active subscription, including the publisher's own.
	Publish(ctx context.Context, body string) error
	// Subscribe returns once the subscription is active. Delivery stops when ctx is
	// cancelled, the subscription is closed, or the transport fails.
	Subscribe(ctx context.Context, handler Handler) (Subscription, error)
	// Close releases transport resources.
	Close() error
}

// Subscription is an active registration on the channel.
type Subscription interface {
	// Wait blocks until delivery stops. It returns nil after Close or context
	// cancellation and the transport error otherwise.
	Wait() error
	// Close stops delivery.
	Close() error
}
