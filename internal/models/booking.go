package models

import "time"

// BookingStatus values.
const (
	BookingPending   = "pending"
	BookingConfirmed = "confirmed"
	BookingCancelled = "cancelled"
)

// Booking is a passenger's hold on one or more seats of a journey.
type Booking struct {
	ID         string          `json:"id"`
	JourneyID  int64           `json:"journey_id"`
	UserID     string          `json:"user_id"`
	SeatIDs    []int64         `json:"seat_ids"`
	Passengers []PassengerForm `json:"passengers"`
	Contact    ContactForm     `json:"contact"`
	Status     string          `json:"status"`
	Total      int64           `json:"total"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// IsActive reports whether the booking still holds seats.
func (b *Booking) IsActive() bool {
	return b.Status == BookingPending || b.Status == BookingConfirmed
}

// OwnedBy checks the booking owner.
func (b *Booking) OwnedBy(userID string) bool {
	return userID != "" && b.UserID == userID
}
