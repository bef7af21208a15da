package hub

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/driftlab/driftchat/internal/bus"
	"github.com/driftlab/driftchat/internal/model/chat"
)

// Hub combines the connection registry and presence map into the fan-out
// surface the services use. Broadcast delivers locally and publishes to
// the bus; the Run loop relays bus traffic from other instances back into
// local sessions.
type Hub struct {
	Conns    *Connections
	Presence *Presence

	pubsub bus.PubSub
	origin string
	log    *zap.Logger
}

// New wires a hub. origin is this instance's id; envelopes carrying it
// are dropped by our own subscriber.
func New(conns *Connections, presence *Presence, pubsub bus.PubSub, origin string, log *zap.Logger) *Hub {
	return &Hub{Conns: conns, Presence: presence, pubsub: pubsub, origin: origin, log: log}
}

// Origin returns this instance's id.
func (h *Hub) Origin() string { return h.origin }

// BroadcastLocal delivers ev to every local session currently in roomID,
// except the excluded user ids.
func (h *Hub) BroadcastLocal(roomID string, ev chat.Event, exclude ...string) {
	for _, userID := range h.Presence.UsersIn(roomID) {
		if contains(exclude, userID) {
			continue
		}
		if sess, ok := h.Conns.Lookup(userID); ok {
			if !sess.Deliver(ev) {
				h.log.Debug("delivery dropped",
					zap.String("userId", userID), zap.String("event", ev.Name))
			}
		}
	}
}

// Broadcast delivers ev locally and publishes it for other instances.
// Publish failures log only; local delivery already happened.
func (h *Hub) Broadcast(ctx context.Context, roomID string, ev chat.Event, exclude ...string) {
	h.BroadcastLocal(roomID, ev, exclude...)

	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		h.log.Error("broadcast payload marshal failed",
			zap.String("event", ev.Name), zap.Error(err))
		return
	}
	env := bus.Envelope{Kind: ev.Name, Origin: h.origin, Exclude: exclude, Payload: payload}
	data, err := json.Marshal(env)
	if err != nil {
		h.log.Error("broadcast envelope marshal failed", zap.Error(err))
		return
	}
	if err := h.pubsub.Publish(ctx, bus.RoomTopic(roomID), data); err != nil {
		h.log.Warn("bus publish failed",
			zap.String("roomId", roomID), zap.String("event", ev.Name), zap.Error(err))
	}
}

// DeliverUser sends ev to the user's active session, if any.
func (h *Hub) DeliverUser(userID string, ev chat.Event) bool {
	sess, ok := h.Conns.Lookup(userID)
	if !ok {
		return false
	}
	return sess.Deliver(ev)
}

// Run subscribes to the room topic pattern and relays events from other
// instances to local sessions until ctx is cancelled. Events that
// originated here were already delivered locally and are dropped.
func (h *Hub) Run(ctx context.Context) error {
	sub, err := h.pubsub.Subscribe(ctx, bus.RoomPattern)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			h.relay(msg)
		}
	}
}

func (h *Hub) relay(msg bus.Message) {
	var env bus.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		h.log.Warn("undecodable bus envelope", zap.String("topic", msg.Topic), zap.Error(err))
		return
	}
	if env.Origin == h.origin {
		return
	}
	roomID := strings.TrimPrefix(msg.Topic, bus.TopicPrefix)
	h.BroadcastLocal(roomID, chat.Event{Name: env.Kind, Payload: env.Payload}, env.Exclude...)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
