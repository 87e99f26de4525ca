// Package events implements the history change broker. It is
// transport-agnostic: subscribers register, receive events through a
// non-blocking Send, and the engine publishes after each committed change.
package events

import (
	"log/slog"
	"sync"

	"go.klb.dev/clipvault/internal/history"
)

// Type names the kind of history change.
type Type string

const (
	Created Type = "created"
	Updated Type = "updated"
	Deleted Type = "deleted"
	Cleared Type = "cleared"
)

// Event is a history change delivered to subscribers. Entry is set for
// Created and Updated; ID is set for Deleted.
type Event struct {
	Type  Type           `json:"type"`
	Entry *history.Entry `json:"entry,omitempty"`
	ID    int64          `json:"id,omitempty"`
}

// Subscriber is anything that can receive history events from the hub.
type Subscriber interface {
	ID() string
	// Send delivers an event to the subscriber. Must be non-blocking.
	Send(Event)
}

// Hub fans events out to all registered subscribers.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]Subscriber
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]Subscriber)}
}

// Subscribe registers s. A second subscriber with the same ID replaces the first.
func (h *Hub) Subscribe(s Subscriber) {
	h.mu.Lock()
	h.subs[s.ID()] = s
	total := len(h.subs)
	h.mu.Unlock()

	slog.Debug("subscriber registered", "subscriber", s.ID(), "total", total)
}

// Unsubscribe removes s from the hub.
func (h *Hub) Unsubscribe(s Subscriber) {
	h.mu.Lock()
	delete(h.subs, s.ID())
	total := len(h.subs)
	h.mu.Unlock()

	slog.Debug("subscriber unregistered", "subscriber", s.ID(), "total", total)
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish delivers ev to every subscriber. It is safe to call on a nil Hub.
func (h *Hub) Publish(ev Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	targets := make([]Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		s.Send(ev)
	}
}

// Channel is a Subscriber backed by a buffered channel. Events that do not
// fit in the buffer are dropped.
type Channel struct {
	id string
	ch chan Event
}

// NewChannel returns a Channel subscriber with the given buffer size.
func NewChannel(id string, buffer int) *Channel {
	return &Channel{id: id, ch: make(chan Event, buffer)}
}

func (c *Channel) ID() string { return c.id }

// Events returns the receive side of the subscription.
func (c *Channel) Events() <-chan Event { return c.ch }

// Send implements Subscriber.
func (c *Channel) Send(ev Event) {
	select {
	case c.ch <- ev:
	default:
		slog.Warn("subscriber too slow, event dropped", "subscriber", c.id, "event", ev.Type)
	}
}
