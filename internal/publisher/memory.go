package publisher

import (
	"context"
	"fmt"
	"sync"
)

// Recorded is one captured event.
type Recorded struct {
	Topic   string
	Payload any
}

// Memory records events in-process. It backs tests and runs without a
// configured event bus.
type Memory struct {
	mu     sync.Mutex
	events []Recorded
	nextID int
}

// NewMemory creates an empty Memory publisher.
func NewMemory() *Memory {
	return &Memory{}
}

// Publish records the event and returns a synthetic message ID.
func (m *Memory) Publish(_ context.Context, topic string, payload any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Recorded{Topic: topic, Payload: payload})
	m.nextID++
	return fmt.Sprintf("mem-%d", m.nextID), nil
}

// Events returns a copy of everything published so far.
func (m *Memory) Events() []Recorded {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Recorded(nil), m.events...)
}
