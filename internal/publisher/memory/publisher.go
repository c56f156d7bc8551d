// Package memory records published events in process, for tests and
// for running without a broker.
package memory

import (
	"context"
	"strconv"
	"sync"
)

// Event is one recorded publish.
type Event struct {
	ID      string
	Topic   string
	Payload any
}

// Publisher appends events to an in-memory log.
type Publisher struct {
	mu     sync.RWMutex
	events []Event
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish appends the event and returns its sequence-number ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := strconv.Itoa(len(p.events) + 1)
	p.events = append(p.events, Event{ID: id, Topic: topic, Payload: payload})
	return id, nil
}

// Messages returns a copy of every recorded event in publish order.
func (p *Publisher) Messages() []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// ByTopic returns the recorded events published to one topic.
func (p *Publisher) ByTopic(topic string) []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Event
	for _, evt := range p.events {
		if evt.Topic == topic {
			out = append(out, evt)
		}
	}
	return out
}
