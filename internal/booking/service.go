// Package booking gates seat actions with the eligibility evaluator and
// drives the seat and booking repositories.
package booking

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"easytrip/internal/domain"
	"easytrip/internal/eligibility"
	"easytrip/internal/events"
	"easytrip/internal/metrics"
	"easytrip/internal/models"
	"easytrip/internal/repository"
	"easytrip/internal/session"
)

const maxSeatsPerJourney = 80

// journeyInvalidator is implemented by caches that must forget a journey
// after its seats were reset behind their back.
type journeyInvalidator interface {
	Invalidate(ctx context.Context, id int64)
}

type Service struct {
	journeys repository.JourneyRepository
	seats    repository.SeatRepository
	bookings repository.BookingRepository
	rules    *eligibility.RuleSet
	bus      *events.EventBus
	logger   *zerolog.Logger
	now      func() time.Time
}

func NewService(
	journeys repository.JourneyRepository,
	seats repository.SeatRepository,
	bookings repository.BookingRepository,
	rules *eligibility.RuleSet,
	bus *events.EventBus,
	logger *zerolog.Logger,
) *Service {
	return &Service{
		journeys: journeys,
		seats:    seats,
		bookings: bookings,
		rules:    rules,
		bus:      bus,
		logger:   logger,
		now:      time.Now,
	}
}

// Rules returns the rules snapshot in effect.
func (s *Service) Rules() eligibility.Rules {
	return s.rules.Rules()
}

func (s *Service) evaluate(j *models.Journey, rules eligibility.Rules) eligibility.Status {
	st := eligibility.Evaluate(s.now(), *j, rules)
	metrics.IncEvaluation(string(st.BusStatus))
	return st
}

// Status evaluates the journey at the current time.
func (s *Service) Status(ctx context.Context, journeyID int64) (*models.Journey, eligibility.Status, error) {
	j, err := s.journeys.GetJourney(ctx, journeyID)
	if err != nil {
		return nil, eligibility.Status{}, err
	}
	return j, s.evaluate(j, s.rules.Rules()), nil
}

// SeatMap is the status plus the rendered seat grid.
type SeatMap struct {
	Journey models.Journey         `json:"journey"`
	Status  eligibility.Status     `json:"status"`
	Seats   []eligibility.SeatView `json:"seats"`
}

func (s *Service) SeatMap(ctx context.Context, journeyID int64) (*SeatMap, error) {
	j, st, err := s.Status(ctx, journeyID)
	if err != nil {
		return nil, err
	}
	if st.BusStatus == eligibility.BusNextJourney && !st.SeatsReleased {
		if _, err := s.release(ctx, j, s.rules.Rules()); err != nil {
			// The logical reset still renders every seat free.
			s.logger.Warn().Err(err).Int64("journey_id", journeyID).Msg("Seat release on read failed")
		} else {
			st.SeatsReleased = true
		}
	}
	seats, err := s.seats.FindSeats(ctx, "journey_id", strconv.FormatInt(journeyID, 10))
	if err != nil {
		return nil, fmt.Errorf("load seats: %w", err)
	}
	return &SeatMap{Journey: *j, Status: st, Seats: eligibility.ViewSeats(st, seats)}, nil
}

// SearchResult is one journey found by Search.
type SearchResult struct {
	Journey models.Journey     `json:"journey"`
	Status  eligibility.Status `json:"status"`
}

// Search finds journeys leaving from on date (YYYY-MM-DD in the rules
// location). Empty to and date match any.
func (s *Service) Search(ctx context.Context, from, to, date string) ([]SearchResult, error) {
	from = strings.TrimSpace(from)
	if from == "" {
		return nil, domain.ValidationError{Field: "from", Msg: "is required"}
	}
	rules := s.rules.Rules()

	var day time.Time
	if date = strings.TrimSpace(date); date != "" {
		d, err := time.ParseInLocation("2006-01-02", date, rules.Location)
		if err != nil {
			return nil, domain.ValidationError{Field: "date", Msg: "must be YYYY-MM-DD"}
		}
		day = d
	}

	found, err := s.journeys.FindJourneys(ctx, "origin", from)
	if err != nil {
		return nil, fmt.Errorf("find journeys: %w", err)
	}

	out := make([]SearchResult, 0, len(found))
	for i := range found {
		j := &found[i]
		if !j.ServesRoute(from, to) {
			continue
		}
		if !day.IsZero() && !j.DepartsOn(day, rules.Location) {
			continue
		}
		out = append(out, SearchResult{Journey: *j, Status: s.evaluate(j, rules)})
	}
	return out, nil
}

// ReserveRequest selects seats and carries one passenger form per seat.
type ReserveRequest struct {
	SeatIDs    []int64                `json:"seat_ids"`
	Passengers []models.PassengerForm `json:"passengers"`
	Contact    models.ContactForm     `json:"contact"`
}

// Reserve holds seats for the session user and creates a pending booking.
// Eligibility is evaluated again right before the seats are touched.
func (s *Service) Reserve(ctx context.Context, sess *session.Session, journeyID int64, req ReserveRequest) (*models.Booking, error) {
	if sess == nil {
		return nil, domain.ForbiddenError{Msg: "a session is required to book seats"}
	}

	seatIDs, err := uniqueSeats(req.SeatIDs)
	if err != nil {
		return nil, err
	}
	if len(req.Passengers) != len(seatIDs) {
		return nil, domain.ValidationError{Field: "passengers", Msg: "one passenger per selected seat is required"}
	}
	if err := models.ValidateBookingForms(req.Passengers, req.Contact); err != nil {
		return nil, err
	}
	contact := req.Contact
	contact.Phone, _ = models.NormalizePhone(contact.Phone)

	j, err := s.journeys.GetJourney(ctx, journeyID)
	if err != nil {
		return nil, err
	}
	rules := s.rules.Rules()
	st := s.evaluate(j, rules)
	if !st.IsBookingOpen {
		metrics.IncReservation("closed")
		return nil, domain.ClosedError{Reason: string(st.ReasonCode), Msg: st.Message}
	}
	if st.BusStatus == eligibility.BusNextJourney {
		if _, err := s.release(ctx, j, rules); err != nil {
			return nil, err
		}
		st.SeatsReleased = true
	}

	current, err := s.seats.FindSeats(ctx, "journey_id", strconv.FormatInt(j.ID, 10))
	if err != nil {
		return nil, fmt.Errorf("load seats: %w", err)
	}
	byID := make(map[int64]models.Seat, len(current))
	for _, seat := range current {
		byID[seat.ID] = seat
	}
	for _, id := range seatIDs {
		seat, ok := byID[id]
		if !ok {
			return nil, domain.ValidationError{Field: "seat_ids", Msg: fmt.Sprintf("seat %d does not belong to journey %d", id, j.ID)}
		}
		if !eligibility.CanInteract(st, seat) || seat.Status != models.SeatAvailable {
			metrics.IncReservation("conflict")
			return nil, domain.ConflictError{Resource: "seat", Msg: fmt.Sprintf("seat %s is not available", seat.Label)}
		}
	}

	b := &models.Booking{
		ID:         uuid.NewString(),
		JourneyID:  j.ID,
		UserID:     sess.UserID,
		SeatIDs:    seatIDs,
		Passengers: req.Passengers,
		Contact:    contact,
		Status:     models.BookingPending,
		Total:      j.Fare * int64(len(seatIDs)),
	}

	if err := s.seats.ReserveSeats(ctx, j.ID, seatIDs, b.ID); err != nil {
		if domain.IsConflict(err) {
			metrics.IncReservation("conflict")
		}
		return nil, err
	}
	if err := s.bookings.CreateBooking(ctx, b); err != nil {
		if rerr := s.seats.ReleaseBookingSeats(ctx, b.ID); rerr != nil {
			s.logger.Error().Err(rerr).Str("booking_id", b.ID).Msg("Failed to release seats after booking error")
		}
		return nil, fmt.Errorf("create booking: %w", err)
	}

	metrics.IncReservation("ok")
	s.logger.Info().Str("booking_id", b.ID).Int64("journey_id", j.ID).Int("seats", len(seatIDs)).Msg("Seats reserved")
	s.publishBooking(events.BookingCreated, b)
	return b, nil
}

func uniqueSeats(ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, domain.ValidationError{Field: "seat_ids", Msg: "at least one seat is required"}
	}
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return nil, domain.ValidationError{Field: "seat_ids", Msg: fmt.Sprintf("seat %d selected twice", id)}
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// Confirm turns a pending booking into a sold one. Operators and admins only.
func (s *Service) Confirm(ctx context.Context, sess *session.Session, bookingID string) (*models.Booking, error) {
	if sess == nil || !sess.CanManage() {
		return nil, domain.ForbiddenError{Msg: "only operators can confirm bookings"}
	}
	b, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BookingPending {
		return nil, domain.ConflictError{Resource: "booking", Msg: fmt.Sprintf("booking is %s", b.Status)}
	}

	if err := s.seats.SellBookingSeats(ctx, b.ID); err != nil {
		return nil, err
	}
	b.Status = models.BookingConfirmed
	if err := s.bookings.UpdateBooking(ctx, b); err != nil {
		return nil, fmt.Errorf("update booking: %w", err)
	}

	metrics.IncBookingDecision("confirmed")
	s.logger.Info().Str("booking_id", b.ID).Str("by", sess.UserID).Msg("Booking confirmed")
	s.publishBooking(events.BookingConfirmed, b)
	return b, nil
}

// Cancel frees the seats of a booking. Owners may cancel their own
// bookings, operators any.
func (s *Service) Cancel(ctx context.Context, sess *session.Session, bookingID string) (*models.Booking, error) {
	if sess == nil {
		return nil, domain.ForbiddenError{Msg: "a session is required"}
	}
	b, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.OwnedBy(sess.UserID) && !sess.CanManage() {
		return nil, domain.ForbiddenError{Msg: "booking belongs to another user"}
	}
	if !b.IsActive() {
		return nil, domain.ConflictError{Resource: "booking", Msg: "booking is already cancelled"}
	}

	if err := s.seats.ReleaseBookingSeats(ctx, b.ID); err != nil {
		return nil, err
	}
	b.Status = models.BookingCancelled
	if err := s.bookings.UpdateBooking(ctx, b); err != nil {
		return nil, fmt.Errorf("update booking: %w", err)
	}

	metrics.IncBookingDecision("cancelled")
	s.logger.Info().Str("booking_id", b.ID).Str("by", sess.UserID).Msg("Booking cancelled")
	s.publishBooking(events.BookingCancelled, b)
	return b, nil
}

// MyBookings lists the session user's bookings.
func (s *Service) MyBookings(ctx context.Context, sess *session.Session) ([]models.Booking, error) {
	if sess == nil {
		return nil, domain.ForbiddenError{Msg: "a session is required"}
	}
	return s.bookings.FindBookings(ctx, "user_id", sess.UserID)
}

// ReleaseForNextJourney resets the journey's seats once it has reached
// next_journey. It reports whether a reset happened; calling it again in
// the same cycle is a no-op.
func (s *Service) ReleaseForNextJourney(ctx context.Context, journeyID int64) (bool, error) {
	j, err := s.journeys.GetJourney(ctx, journeyID)
	if err != nil {
		return false, err
	}
	rules := s.rules.Rules()
	if st := eligibility.Evaluate(s.now(), *j, rules); st.BusStatus != eligibility.BusNextJourney {
		return false, nil
	}
	return s.release(ctx, j, rules)
}

func (s *Service) release(ctx context.Context, j *models.Journey, rules eligibility.Rules) (bool, error) {
	releaseAt := j.Arrival.Add(rules.RebookingWait)
	reset, err := s.seats.ResetSeats(ctx, j.ID, releaseAt)
	if err != nil {
		return false, fmt.Errorf("reset seats: %w", err)
	}
	j.SeatsReleasedAt = &releaseAt
	if !reset {
		return false, nil
	}

	if inv, ok := s.journeys.(journeyInvalidator); ok {
		inv.Invalidate(ctx, j.ID)
	}
	metrics.IncSeatsReleased()
	s.logger.Info().Int64("journey_id", j.ID).Str("bus_id", j.BusID).Msg("Seats released for next journey")
	if s.bus != nil {
		_ = s.bus.PublishJSON(events.SeatsReleased, events.SeatRelease{JourneyID: j.ID, BusID: j.BusID, At: s.now()})
	}
	return true, nil
}

func (s *Service) publishBooking(eventType string, b *models.Booking) {
	if s.bus == nil {
		return
	}
	_ = s.bus.PublishJSON(eventType, events.BookingChange{
		BookingID: b.ID,
		JourneyID: b.JourneyID,
		UserID:    b.UserID,
		SeatIDs:   b.SeatIDs,
		Status:    b.Status,
	})
}
