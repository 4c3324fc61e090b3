// Package fanout pushes stored messages to whoever is currently listening
// on a recipient's address. Delivery is at-most-once: a message published
// while nobody is subscribed is gone, and history retrieval is the only way
// to catch up.
package fanout

import (
	"context"
	"strings"

	"github.com/Chase-Garrett/sealedchat/internal/protocol"
)

const addressPrefix = "messages/"

// Address returns the subscription address for a recipient.
func Address(username string) string {
	return addressPrefix + username
}

// Handler receives delivered messages. It must not block for long.
type Handler func(protocol.Message)

// Publisher publishes to an address.
type Publisher interface {
	Publish(ctx context.Context, address string, msg protocol.Message) error
}

// Subscription is an active subscription.
type Subscription interface {
	Unsubscribe() error
}

// Subscriber subscribes to an address.
type Subscriber interface {
	Subscribe(address string, h Handler) (Subscription, error)
}

// Broker is both sides of the fan-out.
type Broker interface {
	Publisher
	Subscriber
	Close() error
}

// subject maps an address onto a NATS subject: messages/alice -> messages.alice
func subject(address string) string {
	return strings.ReplaceAll(address, "/", ".")
}
