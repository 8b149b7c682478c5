// Package publisher defines the event publishing contract.
package publisher

import "context"

// Publisher emits service events to a message broker.
type Publisher interface {
	// Publish sends payload to topic and returns the broker message ID.
	Publish(ctx context.Context, topic string, payload any) (string, error)
	Close() error
}
