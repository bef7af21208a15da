package bus

import (
	"context"
	"path"
	"sync"
)

// Memory is an in-process PubSub used in tests. Pattern matching follows
// redis glob semantics as far as path.Match supports them.
type Memory struct {
	mu   sync.Mutex
	subs map[*memorySubscription]string
}

// NewMemory creates an empty in-process bus.
func NewMemory() *Memory {
	return &Memory{subs: make(map[*memorySubscription]string)}
}

func (m *Memory) Publish(_ context.Context, topic string, data []byte) error {
	m.mu.Lock()
	targets := make([]*memorySubscription, 0, len(m.subs))
	for sub, pattern := range m.subs {
		if ok, _ := path.Match(pattern, topic); ok {
			targets = append(targets, sub)
		}
	}
	m.mu.Unlock()

	for _, sub := range targets {
		sub.deliver(Message{Topic: topic, Data: append([]byte(nil), data...)})
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, pattern string) (Subscription, error) {
	sub := &memorySubscription{bus: m, out: make(chan Message, 64)}
	m.mu.Lock()
	m.subs[sub] = pattern
	m.mu.Unlock()
	return sub, nil
}

type memorySubscription struct {
	bus    *Memory
	out    chan Message
	mu     sync.Mutex
	closed bool
}

func (s *memorySubscription) deliver(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.out <- msg:
	default:
	}
}

func (s *memorySubscription) Messages() <-chan Message { return s.out }

func (s *memorySubscription) Close() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
	return nil
}
