package bus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis implements PubSub over redis publish/subscribe.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an existing redis client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Publish(ctx context.Context, topic string, data []byte) error {
	if err := r.client.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("bus publish %s: %w", topic, err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, pattern string) (Subscription, error) {
	ps := r.client.PSubscribe(ctx, pattern)
	// Force the subscription handshake so a dead redis fails fast here
	// instead of silently delivering nothing.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("bus subscribe %s: %w", pattern, err)
	}

	sub := &redisSubscription{ps: ps, out: make(chan Message, 64)}
	go sub.pump()
	return sub, nil
}

type redisSubscription struct {
	ps  *redis.PubSub
	out chan Message
}

func (s *redisSubscription) pump() {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		s.out <- Message{Topic: msg.Channel, Data: []byte(msg.Payload)}
	}
}

func (s *redisSubscription) Messages() <-chan Message { return s.out }

func (s *redisSubscription) Close() error { return s.ps.Close() }
