package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Event types published by the booking service and the monitor.
const (
	JourneyStatusChanged = "journey.status_changed"
	SeatsReleased        = "journey.seats_released"
	BookingCreated       = "booking.created"
	BookingConfirmed     = "booking.confirmed"
	BookingCancelled     = "booking.cancelled"
)

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the JSON payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// StatusChange is the payload of JourneyStatusChanged.
type StatusChange struct {
	JourneyID int64     `json:"journey_id"`
	BusID     string    `json:"bus_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// BookingChange is the payload of the booking.* events.
type BookingChange struct {
	BookingID string  `json:"booking_id"`
	JourneyID int64   `json:"journey_id"`
	UserID    string  `json:"user_id"`
	SeatIDs   []int64 `json:"seat_ids"`
	Status    string  `json:"status"`
}

// SeatRelease is the payload of SeatsReleased.
type SeatRelease struct {
	JourneyID int64     `json:"journey_id"`
	BusID     string    `json:"bus_id"`
	At        time.Time `json:"at"`
}

// EventHandler reacts to an event.
type EventHandler func(event Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	seq         atomic.Int64
	logger      *zerolog.Logger
}

// NewEventBus constructs an empty bus. Handler errors are logged to logger
// when it is not nil.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler), logger: logger}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type synchronously.
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.ID == 0 {
		event.ID = b.seq.Add(1)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		if err := handler(event); err != nil && b.logger != nil {
			b.logger.Error().Err(err).Str("event", event.Type).Int64("event_id", event.ID).Msg("Event handler failed")
		}
	}
}

// PublishJSON marshals payload and publishes it under eventType.
func (b *EventBus) PublishJSON(eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b.Publish(Event{Type: eventType, Payload: data})
	return nil
}
