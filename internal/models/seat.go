package models

import (
	"fmt"
	"time"
)

// SeatStatus is the stored state of a seat.
type SeatStatus string

const (
	SeatAvailable SeatStatus = "available"
	SeatSold      SeatStatus = "sold"
	SeatReserved  SeatStatus = "reserved"
)

// ParseSeatStatus validates a stored status string.
func ParseSeatStatus(s string) (SeatStatus, error) {
	switch SeatStatus(s) {
	case SeatAvailable, SeatSold, SeatReserved:
		return SeatStatus(s), nil
	default:
		return "", fmt.Errorf("unknown seat status: %s", s)
	}
}

// Seat is one seat on a journey.
type Seat struct {
	ID        int64      `json:"id"`
	JourneyID int64      `json:"journey_id"`
	Label     string     `json:"label"`
	Status    SeatStatus `json:"status"`
	BookingID string     `json:"booking_id,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// SeatLabel returns the label for the n-th seat (1-based) in a
// four-abreast layout: 1A, 1B, 1C, 1D, 2A...
func SeatLabel(n int) string {
	if n <= 0 {
		return ""
	}
	row := (n-1)/4 + 1
	col := 'A' + rune((n-1)%4)
	return fmt.Sprintf("%d%c", row, col)
}
