// Package bus carries room events between server instances. Each instance
// publishes to a per-room topic and subscribes to the room topic pattern;
// envelopes carry the origin instance id so subscribers can drop their own
// traffic, which was already delivered locally.
package bus

import (
	"context"
	"encoding/json"
)

// TopicPrefix namespaces room topics on the shared bus.
const TopicPrefix = "room:"

// RoomTopic returns the bus topic for a room.
func RoomTopic(roomID string) string { return TopicPrefix + roomID }

// RoomPattern matches every room topic.
const RoomPattern = TopicPrefix + "*"

// Envelope is the wire form of one fanned-out event.
type Envelope struct {
	Kind    string          `json:"kind"`
	Origin  string          `json:"origin"`
	Exclude []string        `json:"exclude,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Message is one delivery from a subscription.
type Message struct {
	Topic string
	Data  []byte
}

// Subscription is a live stream of bus messages.
type Subscription interface {
	// Messages yields deliveries until the subscription closes.
	Messages() <-chan Message
	// Close tears the subscription down and closes the channel.
	Close() error
}

// PubSub is the cross-instance fabric. Publish failures are logged by
// callers and never break local delivery.
type PubSub interface {
	Publish(ctx context.Context, topic string, data []byte) error
	// Subscribe opens a pattern subscription (e.g. RoomPattern).
	Subscribe(ctx context.Context, pattern string) (Subscription, error)
}
