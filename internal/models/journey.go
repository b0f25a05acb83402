package models

import (
	"strings"
	"time"
)

// Journey is a single scheduled run of a bus between two stops.
type Journey struct {
	ID              int64      `json:"id"`
	BusID           string     `json:"bus_id"`
	From            string     `json:"from"`
	To              string     `json:"to"`
	Departure       time.Time  `json:"departure"`
	Arrival         time.Time  `json:"arrival"`
	Fare            int64      `json:"fare"` // minor currency units per seat
	SeatCount       int        `json:"seat_count"`
	SeatsReleasedAt *time.Time `json:"seats_released_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Duration returns the scheduled travel time.
func (j *Journey) Duration() time.Duration {
	return j.Arrival.Sub(j.Departure)
}

// HasSchedule reports whether both timestamps are set and ordered.
func (j *Journey) HasSchedule() bool {
	if j.Departure.IsZero() || j.Arrival.IsZero() {
		return false
	}
	return !j.Arrival.Before(j.Departure)
}

// ServesRoute matches origin and destination case-insensitively.
// An empty destination matches any.
func (j *Journey) ServesRoute(from, to string) bool {
	if !strings.EqualFold(strings.TrimSpace(j.From), strings.TrimSpace(from)) {
		return false
	}
	to = strings.TrimSpace(to)
	return to == "" || strings.EqualFold(strings.TrimSpace(j.To), to)
}

// DepartsOn checks the departure calendar date in loc.
func (j *Journey) DepartsOn(date time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	d := j.Departure.In(loc)
	return d.Year() == date.Year() && d.Month() == date.Month() && d.Day() == date.Day()
}
