// Package broker provides the fan-out event channel between a running
// session and its observers. Delivery is at-least-once and ordered per
// publisher; the broker does not buffer history, so consumers joining
// mid-session query the session status separately instead of replaying.
package broker

import "context"

// Subscription is one consumer's attachment to a session's event stream.
type Subscription interface {
	// Events is closed when the subscription ends. The channel buffer is
	// bounded; a slow consumer loses the oldest undelivered events rather
	// than blocking the publisher.
	Events() <-chan Event

	// Close detaches the subscription. Safe to call more than once.
	Close() error
}

// Broker fans events out from one publisher per session to any number of
// subscribers.
type Broker interface {
	// Publish delivers an event to every live subscriber of the session.
	Publish(ctx context.Context, sessionID string, event Event) error

	// Subscribe attaches a new consumer to the session's stream. Events
	// published before the subscription are not replayed.
	Subscribe(ctx context.Context, sessionID string) (Subscription, error)

	// Close tears down the broker and all subscriptions.
	Close() error
}
