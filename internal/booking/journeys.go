package booking

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"easytrip/internal/domain"
	"easytrip/internal/eligibility"
	"easytrip/internal/models"
	"easytrip/internal/report"
	"easytrip/internal/session"
)

// ScheduleRequest describes a new journey. Times use the layouts accepted
// by eligibility.ParseTimestamp and are read in the rules location.
type ScheduleRequest struct {
	BusID     string `json:"bus_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Departure string `json:"departure"`
	Arrival   string `json:"arrival"`
	Fare      int64  `json:"fare"`
	SeatCount int    `json:"seat_count"`
}

// RescheduleRequest moves an existing journey.
type RescheduleRequest struct {
	Departure string `json:"departure"`
	Arrival   string `json:"arrival"`
}

func requireOperator(sess *session.Session) error {
	if sess == nil || !sess.CanManage() {
		return domain.ForbiddenError{Msg: "operator access required"}
	}
	return nil
}

func (s *Service) parseSchedule(departure, arrival string) (models.Journey, error) {
	loc := s.rules.Rules().Location
	var errs domain.ValidationErrors
	dep, err := eligibility.ParseTimestamp(departure, loc)
	if err != nil {
		errs = append(errs, domain.ValidationError{Field: "departure", Msg: err.Error()})
	}
	arr, err := eligibility.ParseTimestamp(arrival, loc)
	if err != nil {
		errs = append(errs, domain.ValidationError{Field: "arrival", Msg: err.Error()})
	}
	if len(errs) > 0 {
		return models.Journey{}, errs
	}
	j := models.Journey{Departure: dep, Arrival: arr}
	if !j.HasSchedule() {
		return models.Journey{}, domain.ValidationError{Field: "arrival", Msg: "must not be before departure"}
	}
	return j, nil
}

// ScheduleJourney creates a journey and its seats. Operators only.
func (s *Service) ScheduleJourney(ctx context.Context, sess *session.Session, req ScheduleRequest) (*models.Journey, error) {
	if err := requireOperator(sess); err != nil {
		return nil, err
	}

	var errs domain.ValidationErrors
	req.BusID = strings.TrimSpace(req.BusID)
	req.From = strings.TrimSpace(req.From)
	req.To = strings.TrimSpace(req.To)
	if req.BusID == "" {
		errs = append(errs, domain.ValidationError{Field: "bus_id", Msg: "is required"})
	}
	if req.From == "" {
		errs = append(errs, domain.ValidationError{Field: "from", Msg: "is required"})
	}
	if req.To == "" {
		errs = append(errs, domain.ValidationError{Field: "to", Msg: "is required"})
	}
	if req.Fare < 0 {
		errs = append(errs, domain.ValidationError{Field: "fare", Msg: "cannot be negative"})
	}
	if req.SeatCount < 1 || req.SeatCount > maxSeatsPerJourney {
		errs = append(errs, domain.ValidationError{Field: "seat_count", Msg: fmt.Sprintf("must be between 1 and %d", maxSeatsPerJourney)})
	}
	if len(errs) > 0 {
		return nil, errs
	}

	j, err := s.parseSchedule(req.Departure, req.Arrival)
	if err != nil {
		return nil, err
	}
	j.BusID = req.BusID
	j.From = req.From
	j.To = req.To
	j.Fare = req.Fare
	j.SeatCount = req.SeatCount

	if err := s.journeys.CreateJourney(ctx, &j); err != nil {
		return nil, fmt.Errorf("create journey: %w", err)
	}
	s.logger.Info().Int64("journey_id", j.ID).Str("bus_id", j.BusID).Str("by", sess.UserID).Msg("Journey scheduled")
	return &j, nil
}

// Reschedule moves a journey to new times. The seat release mark is kept,
// so the new trip gets its own release once it arrives.
func (s *Service) Reschedule(ctx context.Context, sess *session.Session, journeyID int64, req RescheduleRequest) (*models.Journey, error) {
	if err := requireOperator(sess); err != nil {
		return nil, err
	}
	sched, err := s.parseSchedule(req.Departure, req.Arrival)
	if err != nil {
		return nil, err
	}
	j, err := s.journeys.GetJourney(ctx, journeyID)
	if err != nil {
		return nil, err
	}
	j.Departure = sched.Departure
	j.Arrival = sched.Arrival
	if err := s.journeys.UpdateJourney(ctx, j); err != nil {
		return nil, fmt.Errorf("update journey: %w", err)
	}
	s.logger.Info().Int64("journey_id", j.ID).Time("departure", j.Departure).Str("by", sess.UserID).Msg("Journey rescheduled")
	return j, nil
}

// Manifest gathers the operator export for a journey.
func (s *Service) Manifest(ctx context.Context, sess *session.Session, journeyID int64) (*report.Manifest, error) {
	if err := requireOperator(sess); err != nil {
		return nil, err
	}
	j, st, err := s.Status(ctx, journeyID)
	if err != nil {
		return nil, err
	}
	id := strconv.FormatInt(journeyID, 10)
	seats, err := s.seats.FindSeats(ctx, "journey_id", id)
	if err != nil {
		return nil, fmt.Errorf("load seats: %w", err)
	}
	bookings, err := s.bookings.FindBookings(ctx, "journey_id", id)
	if err != nil {
		return nil, fmt.Errorf("load bookings: %w", err)
	}
	return &report.Manifest{Journey: *j, Status: st, Seats: seats, Bookings: bookings, GeneratedAt: s.now()}, nil
}
