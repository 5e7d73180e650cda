// Package events carries scene and pipeline notifications from the
// monitor to interested sinks (websocket hub, logs).
package events

import (
	"sync"
	"time"
)

type Type string

const (
	TypePersonDetected Type = "person_detected"
	TypeCarBlocking    Type = "car_blocking"
	TypeCarNotLeave    Type = "car_not_leave"
	TypeSceneClear     Type = "scene_clear"
	TypeRecordStarted  Type = "record_started"
	TypeRecordStopped  Type = "record_stopped"
	TypeCameraRestart  Type = "camera_restart"
)

type Event struct {
	Type    Type           `json:"type"`
	Message string         `json:"message"`
	At      time.Time      `json:"at"`
	Data    map[string]any `json:"data,omitempty"`
}

func New(t Type, message string) Event {
	return Event{Type: t, Message: message, At: time.Now()}
}

// Bus is a small synchronous pub/sub. Handlers must not block; slow sinks
// buffer internally (the websocket hub does).
type Bus struct {
	mu   sync.RWMutex
	subs map[int]func(Event)
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

// Subscribe registers a handler and returns its unsubscribe closure.
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()
	for _, fn := range handlers {
		safeCall(fn, e)
	}
}

func safeCall(fn func(Event), e Event) {
	defer func() { recover() }()
	fn(e)
}
