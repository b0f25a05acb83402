// Package repository declares the storage capabilities the booking service
// depends on. Each record type gets the same narrow set: fetch by id,
// query by a whitelisted field, create and update.
package repository

import (
	"context"
	"time"

	"easytrip/internal/domain"
	"easytrip/internal/models"
)

type JourneyRepository interface {
	GetJourney(ctx context.Context, id int64) (*models.Journey, error)
	FindJourneys(ctx context.Context, field, value string) ([]models.Journey, error)
	ListJourneys(ctx context.Context) ([]models.Journey, error)
	CreateJourney(ctx context.Context, j *models.Journey) error
	UpdateJourney(ctx context.Context, j *models.Journey) error
}

type SeatRepository interface {
	GetSeat(ctx context.Context, id int64) (*models.Seat, error)
	FindSeats(ctx context.Context, field, value string) ([]models.Seat, error)
	CreateSeat(ctx context.Context, s *models.Seat) error
	UpdateSeat(ctx context.Context, s *models.Seat) error

	// ReserveSeats marks every seat as reserved for bookingID, or none of
	// them when any seat is no longer available.
	ReserveSeats(ctx context.Context, journeyID int64, seatIDs []int64, bookingID string) error
	// ReleaseBookingSeats returns the seats held by bookingID to available.
	ReleaseBookingSeats(ctx context.Context, bookingID string) error
	// SellBookingSeats turns the reserved seats of bookingID into sold.
	SellBookingSeats(ctx context.Context, bookingID string) error
	// ResetSeats makes every seat of the journey available once per
	// journey cycle. It reports false when the reset already happened
	// at or after releaseAt.
	ResetSeats(ctx context.Context, journeyID int64, releaseAt time.Time) (bool, error)
}

type BookingRepository interface {
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	FindBookings(ctx context.Context, field, value string) ([]models.Booking, error)
	CreateBooking(ctx context.Context, b *models.Booking) error
	UpdateBooking(ctx context.Context, b *models.Booking) error
}

var (
	JourneyFields = []string{"bus_id", "origin", "destination"}
	SeatFields    = []string{"journey_id", "status", "booking_id"}
	BookingFields = []string{"journey_id", "user_id", "status"}
)

// CheckField rejects query fields outside the allowed set.
func CheckField(field string, allowed []string) error {
	for _, f := range allowed {
		if f == field {
			return nil
		}
	}
	return domain.ValidationError{Field: field, Msg: "is not a queryable field"}
}
