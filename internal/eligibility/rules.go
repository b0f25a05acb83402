package eligibility

import (
	"sync/atomic"
	"time"
)

// Rules are the static booking constraints shared by every journey.
type Rules struct {
	// MaintenanceStartHour and MaintenanceEndHour bound a daily window
	// [start, end) in Location. start > end wraps past midnight, start == end
	// disables the window.
	MaintenanceStartHour int
	MaintenanceEndHour   int
	Cutoff               time.Duration
	RebookingWait        time.Duration
	Location             *time.Location
}

// DefaultRules returns the stock configuration.
func DefaultRules() Rules {
	return Rules{
		MaintenanceStartHour: 2,
		MaintenanceEndHour:   4,
		Cutoff:               30 * time.Minute,
		RebookingWait:        time.Minute,
		Location:             time.UTC,
	}
}

func (r Rules) normalized() Rules {
	if r.Location == nil {
		r.Location = time.UTC
	}
	if r.Cutoff < 0 {
		r.Cutoff = 0
	}
	if r.RebookingWait < 0 {
		r.RebookingWait = 0
	}
	return r
}

func validHour(h int) bool {
	return h >= 0 && h <= 23
}

// InMaintenance reports whether now falls inside the daily window.
func (r Rules) InMaintenance(now time.Time) bool {
	r = r.normalized()
	start, end := r.MaintenanceStartHour, r.MaintenanceEndHour
	if !validHour(start) || !validHour(end) || start == end {
		return false
	}
	h := now.In(r.Location).Hour()
	if start < end {
		return h >= start && h < end
	}
	return h >= start || h < end
}

// maintenanceEnd returns the first window end strictly after now.
func (r Rules) maintenanceEnd(now time.Time) time.Time {
	r = r.normalized()
	local := now.In(r.Location)
	end := time.Date(local.Year(), local.Month(), local.Day(), r.MaintenanceEndHour, 0, 0, 0, r.Location)
	if !end.After(local) {
		end = end.AddDate(0, 0, 1)
	}
	return end
}

// RuleSet holds the current rules snapshot. Readers always see a complete
// value; a reload replaces the pointer.
type RuleSet struct {
	p atomic.Pointer[Rules]
}

func NewRuleSet(r Rules) *RuleSet {
	rs := &RuleSet{}
	rs.Set(r)
	return rs
}

// Rules returns the current snapshot.
func (rs *RuleSet) Rules() Rules {
	if r := rs.p.Load(); r != nil {
		return *r
	}
	return DefaultRules()
}

func (rs *RuleSet) Set(r Rules) {
	r = r.normalized()
	rs.p.Store(&r)
}
