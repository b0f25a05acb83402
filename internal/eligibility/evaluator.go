// Package eligibility classifies the current moment in a journey's
// lifecycle and decides whether new bookings may be accepted.
//
// Evaluation is a pure function of (now, journey, rules): nothing is
// remembered between calls, so it is safe to call from any goroutine as
// often as needed.
package eligibility

import (
	"fmt"
	"strings"
	"time"

	"easytrip/internal/models"
)

// BusStatus is the lifecycle phase of a bus relative to one journey.
type BusStatus string

const (
	BusMaintenance    BusStatus = "maintenance"
	BusScheduled      BusStatus = "scheduled"
	BusBoarding       BusStatus = "boarding"
	BusDeparted       BusStatus = "departed"
	BusArrivedWaiting BusStatus = "arrived_waiting"
	BusNextJourney    BusStatus = "next_journey"
	BusUnknown        BusStatus = "unknown"
)

// AllBusStatuses lists every phase in lifecycle order.
var AllBusStatuses = []BusStatus{
	BusMaintenance,
	BusScheduled,
	BusBoarding,
	BusDeparted,
	BusArrivedWaiting,
	BusNextJourney,
	BusUnknown,
}

// ReasonCode explains a Status in machine-readable form.
type ReasonCode string

const (
	ReasonOpen            ReasonCode = "open"
	ReasonMaintenance     ReasonCode = "maintenance"
	ReasonCutoffReached   ReasonCode = "cutoff_reached"
	ReasonDeparted        ReasonCode = "departed"
	ReasonAwaitingRelease ReasonCode = "awaiting_release"
	ReasonNextJourney     ReasonCode = "next_journey"
	ReasonInvalidSchedule ReasonCode = "invalid_schedule"
)

// Status is the derived booking state. It is never persisted.
type Status struct {
	IsBookingOpen        bool       `json:"is_booking_open"`
	NextJourneyAvailable bool       `json:"next_journey_available"`
	MaintenanceMode      bool       `json:"maintenance_mode"`
	BusStatus            BusStatus  `json:"bus_status"`
	Message              string     `json:"message"`
	TimeRemaining        string     `json:"time_remaining"`
	ReasonCode           ReasonCode `json:"reason_code"`
	// SeatsReleased is set in next_journey once the stored seats were reset
	// for this cycle. Until then the stored seat state belongs to the
	// finished trip.
	SeatsReleased bool `json:"seats_released"`
}

// Evaluate derives the booking status of j at now.
//
// The maintenance window is checked first and overrides everything else.
// A boundary instant belongs to the later phase. An incomplete or
// inverted schedule closes booking instead of failing.
func Evaluate(now time.Time, j models.Journey, rules Rules) Status {
	rules = rules.normalized()

	if rules.InMaintenance(now) {
		end := rules.maintenanceEnd(now)
		return Status{
			MaintenanceMode: true,
			BusStatus:       BusMaintenance,
			ReasonCode:      ReasonMaintenance,
			Message:         fmt.Sprintf("Booking is paused for scheduled maintenance until %s.", end.Format("15:04")),
			TimeRemaining:   FormatRemaining(end.Sub(now)),
		}
	}

	if !j.HasSchedule() {
		return closedStatus("Journey schedule is unavailable; booking is closed.")
	}

	closesAt := j.Departure.Add(-rules.Cutoff)
	releaseAt := j.Arrival.Add(rules.RebookingWait)

	switch {
	case now.Before(closesAt):
		return Status{
			IsBookingOpen: true,
			BusStatus:     BusScheduled,
			ReasonCode:    ReasonOpen,
			Message:       "Seats are open for booking.",
			TimeRemaining: FormatRemaining(closesAt.Sub(now)),
		}
	case now.Before(j.Departure):
		return Status{
			BusStatus:     BusBoarding,
			ReasonCode:    ReasonCutoffReached,
			Message:       fmt.Sprintf("Booking closes %d minutes before departure; the bus is boarding.", int(rules.Cutoff/time.Minute)),
			TimeRemaining: FormatRemaining(j.Departure.Sub(now)),
		}
	case now.Before(j.Arrival):
		return Status{
			BusStatus:     BusDeparted,
			ReasonCode:    ReasonDeparted,
			Message:       "The bus has departed and is on its way.",
			TimeRemaining: FormatRemaining(j.Arrival.Sub(now)),
		}
	case now.Before(releaseAt):
		return Status{
			BusStatus:     BusArrivedWaiting,
			ReasonCode:    ReasonAwaitingRelease,
			Message:       "The bus has arrived; seats reopen for the next journey shortly.",
			TimeRemaining: FormatRemaining(releaseAt.Sub(now)),
		}
	default:
		return Status{
			IsBookingOpen:        true,
			NextJourneyAvailable: true,
			BusStatus:            BusNextJourney,
			ReasonCode:           ReasonNextJourney,
			Message:              "Seats have been released; booking is open for the next journey.",
			SeatsReleased:        j.SeatsReleasedAt != nil && !j.SeatsReleasedAt.Before(releaseAt),
		}
	}
}

// EvaluateRaw parses departure and arrival strings in the rules location
// and evaluates them. Unparseable input yields a closed status.
func EvaluateRaw(now time.Time, busID, departure, arrival string, rules Rules) Status {
	rules = rules.normalized()
	if rules.InMaintenance(now) {
		return Evaluate(now, models.Journey{BusID: busID}, rules)
	}
	dep, err := ParseTimestamp(departure, rules.Location)
	if err != nil {
		return closedStatus("Departure time is invalid; booking is closed.")
	}
	arr, err := ParseTimestamp(arrival, rules.Location)
	if err != nil {
		return closedStatus("Arrival time is invalid; booking is closed.")
	}
	return Evaluate(now, models.Journey{BusID: busID, Departure: dep, Arrival: arr}, rules)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseTimestamp accepts RFC 3339 and the common date-time layouts used by
// journey records. Layouts without an offset are read in loc.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// FormatRemaining renders a countdown such as "1h 05m" or "12m 30s".
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	d = d.Truncate(time.Second)
	if d < time.Second {
		return "0s"
	}
	days := int(d / (24 * time.Hour))
	hours := int(d%(24*time.Hour)) / int(time.Hour)
	mins := int(d%time.Hour) / int(time.Minute)
	secs := int(d%time.Minute) / int(time.Second)

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %02dm", hours, mins)
	case mins > 0:
		return fmt.Sprintf("%dm %02ds", mins, secs)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}

func closedStatus(msg string) Status {
	return Status{
		BusStatus:  BusUnknown,
		ReasonCode: ReasonInvalidSchedule,
		Message:    msg,
	}
}
