package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Event types published by the agent.
const (
	TypeSessionCreated   = "session.created"
	TypeOTPDispatched    = "otp.dispatched"
	TypeBookingConfirmed = "booking.confirmed"
	TypeTurnOffTrack     = "turn.off_track"
)

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
	Processed bool
}

// New builds an event with a JSON payload.
func New(eventType string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// SessionCreated is the payload of TypeSessionCreated.
type SessionCreated struct {
	SessionID string `json:"session_id"`
	Language  string `json:"language"`
}

// OTPDispatched is the payload of TypeOTPDispatched.
type OTPDispatched struct {
	SessionID string `json:"session_id"`
	Phone     string `json:"phone"` // masked
	Resend    bool   `json:"resend"`
}

// BookingConfirmed is the payload of TypeBookingConfirmed.
type BookingConfirmed struct {
	SessionID string `json:"session_id"`
	BookingID string `json:"booking_id"`
	Service   string `json:"service"`
	Package   string `json:"package"`
}

// TurnOffTrack is the payload of TypeTurnOffTrack.
type TurnOffTrack struct {
	SessionID string `json:"session_id"`
	Stage     string `json:"stage"`
	Count     int    `json:"off_track_count"`
}

// EventHandler reacts to an event.
type EventHandler func(event Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	all         []EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers a handler for every event type.
func (b *EventBus) SubscribeAll(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, handler)
}

// Publish notifies subscribers of the event type. Every handler runs; their
// errors are joined.
func (b *EventBus) Publish(event Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var errs []error
	for _, handler := range handlers {
		if err := handler(event); err != nil {
			errs = append(errs, fmt.Errorf("%s handler: %w", event.Type, err))
		}
	}
	return errors.Join(errs...)
}
