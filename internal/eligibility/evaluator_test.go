package eligibility

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"easytrip/internal/models"
)

func at(hour, min, sec int) time.Time {
	return time.Date(2026, 3, 10, hour, min, sec, 0, time.UTC)
}

func noMaintenance() Rules {
	r := DefaultRules()
	r.MaintenanceStartHour = 0
	r.MaintenanceEndHour = 0
	return r
}

func journey(dep, arr time.Time) models.Journey {
	return models.Journey{ID: 1, BusID: "BUS-7", Departure: dep, Arrival: arr}
}

func TestEvaluate_Lifecycle(t *testing.T) {
	rules := noMaintenance()
	rules.Cutoff = 30 * time.Minute
	rules.RebookingWait = time.Minute
	j := journey(at(10, 0, 0), at(14, 0, 0))

	tests := []struct {
		name     string
		now      time.Time
		status   BusStatus
		reason   ReasonCode
		open     bool
		nextOpen bool
	}{
		{"long before departure", at(6, 0, 0), BusScheduled, ReasonOpen, true, false},
		{"one minute before cutoff", at(9, 29, 0), BusScheduled, ReasonOpen, true, false},
		{"cutoff boundary", at(9, 30, 0), BusBoarding, ReasonCutoffReached, false, false},
		{"after cutoff", at(9, 31, 0), BusBoarding, ReasonCutoffReached, false, false},
		{"departure boundary", at(10, 0, 0), BusDeparted, ReasonDeparted, false, false},
		{"on the road", at(12, 0, 0), BusDeparted, ReasonDeparted, false, false},
		{"arrival boundary", at(14, 0, 0), BusArrivedWaiting, ReasonAwaitingRelease, false, false},
		{"waiting for release", at(14, 0, 30), BusArrivedWaiting, ReasonAwaitingRelease, false, false},
		{"release boundary", at(14, 1, 0), BusNextJourney, ReasonNextJourney, true, true},
		{"long after arrival", at(23, 0, 0), BusNextJourney, ReasonNextJourney, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := Evaluate(tt.now, j, rules)
			assert.Equal(t, tt.status, st.BusStatus)
			assert.Equal(t, tt.reason, st.ReasonCode)
			assert.Equal(t, tt.open, st.IsBookingOpen)
			assert.Equal(t, tt.nextOpen, st.NextJourneyAvailable)
			assert.False(t, st.MaintenanceMode)
			assert.NotEmpty(t, st.Message)
		})
	}
}

func TestEvaluate_PhaseRanges(t *testing.T) {
	rules := noMaintenance()
	rules.Cutoff = 45 * time.Minute
	rules.RebookingWait = 10 * time.Minute
	dep := at(10, 0, 0)
	arr := at(13, 30, 0)
	j := journey(dep, arr)
	closesAt := dep.Add(-rules.Cutoff)
	releaseAt := arr.Add(rules.RebookingWait)

	for now := at(5, 0, 0); now.Before(at(16, 0, 0)); now = now.Add(7 * time.Second) {
		st := Evaluate(now, j, rules)
		var want BusStatus
		switch {
		case now.Before(closesAt):
			want = BusScheduled
		case now.Before(dep):
			want = BusBoarding
		case now.Before(arr):
			want = BusDeparted
		case now.Before(releaseAt):
			want = BusArrivedWaiting
		default:
			want = BusNextJourney
		}
		require.Equal(t, want, st.BusStatus, "at %s", now.Format(time.TimeOnly))
		require.Equal(t, want == BusScheduled || want == BusNextJourney, st.IsBookingOpen, "at %s", now.Format(time.TimeOnly))
		require.Equal(t, want == BusNextJourney, st.NextJourneyAvailable)
	}
}

func TestEvaluate_MaintenanceOverridesEverything(t *testing.T) {
	rules := DefaultRules()
	rules.MaintenanceStartHour = 2
	rules.MaintenanceEndHour = 4

	journeys := map[string]models.Journey{
		"scheduled":   journey(at(12, 0, 0), at(15, 0, 0)),
		"boarding":    journey(at(3, 10, 0), at(6, 0, 0)),
		"departed":    journey(at(1, 0, 0), at(6, 0, 0)),
		"next":        journey(at(0, 0, 0), at(1, 0, 0)),
		"no schedule": {},
	}

	for name, j := range journeys {
		t.Run(name, func(t *testing.T) {
			st := Evaluate(at(3, 0, 0), j, rules)
			assert.True(t, st.MaintenanceMode)
			assert.False(t, st.IsBookingOpen)
			assert.False(t, st.NextJourneyAvailable)
			assert.Equal(t, BusMaintenance, st.BusStatus)
			assert.Equal(t, ReasonMaintenance, st.ReasonCode)
			assert.Equal(t, "1h 00m", st.TimeRemaining)
		})
	}
}

func TestEvaluate_MaintenanceBoundaries(t *testing.T) {
	rules := DefaultRules()
	rules.MaintenanceStartHour = 2
	rules.MaintenanceEndHour = 4
	j := journey(at(12, 0, 0), at(15, 0, 0))

	assert.Equal(t, BusScheduled, Evaluate(at(1, 59, 59), j, rules).BusStatus)
	assert.Equal(t, BusMaintenance, Evaluate(at(2, 0, 0), j, rules).BusStatus)
	assert.Equal(t, BusMaintenance, Evaluate(at(3, 59, 59), j, rules).BusStatus)
	assert.Equal(t, BusScheduled, Evaluate(at(4, 0, 0), j, rules).BusStatus)
}

func TestRules_InMaintenance(t *testing.T) {
	tests := []struct {
		name       string
		start, end int
		hour       int
		want       bool
	}{
		{"inside same-day window", 2, 4, 3, true},
		{"before same-day window", 2, 4, 1, false},
		{"end is exclusive", 2, 4, 4, false},
		{"wrapping window late", 23, 1, 23, true},
		{"wrapping window early", 23, 1, 0, true},
		{"wrapping window outside", 23, 1, 12, false},
		{"disabled window", 5, 5, 5, false},
		{"out of range hours", -1, 30, 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Rules{MaintenanceStartHour: tt.start, MaintenanceEndHour: tt.end}
			assert.Equal(t, tt.want, r.InMaintenance(at(tt.hour, 15, 0)))
		})
	}
}

func TestRules_MaintenanceUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	r := Rules{MaintenanceStartHour: 2, MaintenanceEndHour: 4, Location: loc}

	// 00:30 UTC is 03:30 at UTC+3.
	assert.True(t, r.InMaintenance(at(0, 30, 0)))
	assert.False(t, r.InMaintenance(at(3, 30, 0)))
}

func TestEvaluate_WrappingMaintenanceRemaining(t *testing.T) {
	rules := DefaultRules()
	rules.MaintenanceStartHour = 23
	rules.MaintenanceEndHour = 1
	j := journey(at(12, 0, 0), at(15, 0, 0))

	st := Evaluate(at(23, 30, 0), j, rules)
	require.True(t, st.MaintenanceMode)
	assert.Equal(t, "1h 30m", st.TimeRemaining)
}

func TestEvaluate_InvalidScheduleIsClosed(t *testing.T) {
	rules := noMaintenance()
	tests := map[string]models.Journey{
		"zero journey":      {},
		"missing arrival":   {Departure: at(10, 0, 0)},
		"missing departure": {Arrival: at(10, 0, 0)},
		"arrival first":     journey(at(12, 0, 0), at(10, 0, 0)),
	}

	for name, j := range tests {
		t.Run(name, func(t *testing.T) {
			st := Evaluate(at(8, 0, 0), j, rules)
			assert.False(t, st.IsBookingOpen)
			assert.False(t, st.NextJourneyAvailable)
			assert.Equal(t, BusUnknown, st.BusStatus)
			assert.Equal(t, ReasonInvalidSchedule, st.ReasonCode)
			assert.NotEmpty(t, st.Message)
		})
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	rules := noMaintenance()
	j := journey(at(10, 0, 0), at(14, 0, 0))
	now := at(9, 45, 12)

	first := Evaluate(now, j, rules)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Evaluate(now, j, rules))
	}
}

func TestEvaluate_TimeRemaining(t *testing.T) {
	rules := noMaintenance()
	j := journey(at(10, 0, 0), at(14, 0, 0))

	assert.Equal(t, "1h 05m", Evaluate(at(8, 25, 0), j, rules).TimeRemaining)
	assert.Equal(t, "12m 30s", Evaluate(at(9, 47, 30), j, rules).TimeRemaining)
	assert.Equal(t, "30s", Evaluate(at(14, 0, 30), j, rules).TimeRemaining)
	assert.Empty(t, Evaluate(at(15, 0, 0), j, rules).TimeRemaining)
}

func TestEvaluate_NegativeRulesClampToZero(t *testing.T) {
	rules := noMaintenance()
	rules.Cutoff = -time.Hour
	rules.RebookingWait = -time.Hour
	j := journey(at(10, 0, 0), at(14, 0, 0))

	assert.Equal(t, BusScheduled, Evaluate(at(9, 59, 59), j, rules).BusStatus)
	assert.Equal(t, BusNextJourney, Evaluate(at(14, 0, 0), j, rules).BusStatus)
}

func TestEvaluate_SeatsReleased(t *testing.T) {
	rules := noMaintenance()
	j := journey(at(10, 0, 0), at(14, 0, 0))
	now := at(14, 5, 0)

	assert.False(t, Evaluate(now, j, rules).SeatsReleased, "no reset yet")

	previous := at(9, 1, 0)
	j.SeatsReleasedAt = &previous
	assert.False(t, Evaluate(now, j, rules).SeatsReleased, "mark from an earlier cycle")

	mark := at(14, 1, 0)
	j.SeatsReleasedAt = &mark
	st := Evaluate(now, j, rules)
	assert.Equal(t, BusNextJourney, st.BusStatus)
	assert.True(t, st.SeatsReleased)

	assert.False(t, Evaluate(at(13, 0, 0), j, rules).SeatsReleased, "only reported in next_journey")
}

func TestEvaluateRaw(t *testing.T) {
	rules := noMaintenance()

	t.Run("valid strings", func(t *testing.T) {
		st := EvaluateRaw(at(9, 0, 0), "BUS-1", "2026-03-10T10:00", "2026-03-10 14:00", rules)
		assert.Equal(t, BusScheduled, st.BusStatus)
		assert.True(t, st.IsBookingOpen)
	})

	t.Run("rfc3339 with offset", func(t *testing.T) {
		st := EvaluateRaw(at(9, 45, 0), "BUS-1", "2026-03-10T12:00:00+02:00", "2026-03-10T16:00:00+02:00", rules)
		assert.Equal(t, BusBoarding, st.BusStatus)
	})

	bad := []struct{ name, dep, arr string }{
		{"empty departure", "", "2026-03-10 14:00"},
		{"garbage arrival", "2026-03-10 10:00", "tomorrow"},
		{"both broken", "10/03/2026", "14:00"},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				st := EvaluateRaw(at(9, 0, 0), "BUS-1", tt.dep, tt.arr, rules)
				assert.False(t, st.IsBookingOpen)
				assert.Equal(t, ReasonInvalidSchedule, st.ReasonCode)
			})
		})
	}

	t.Run("maintenance still wins on bad input", func(t *testing.T) {
		r := DefaultRules()
		st := EvaluateRaw(at(3, 0, 0), "BUS-1", "nope", "nope", r)
		assert.True(t, st.MaintenanceMode)
		assert.Equal(t, BusMaintenance, st.BusStatus)
	})
}

func TestParseTimestamp(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*60*60)

	got, err := ParseTimestamp("2026-03-10 10:00", loc)
	require.NoError(t, err)
	assert.Equal(t, loc, got.Location())
	assert.Equal(t, 10, got.Hour())

	got, err = ParseTimestamp(" 2026-03-10T10:00:00Z ", loc)
	require.NoError(t, err)
	assert.True(t, got.Equal(at(10, 0, 0)))

	_, err = ParseTimestamp("", loc)
	assert.Error(t, err)
	_, err = ParseTimestamp("10:00", loc)
	assert.Error(t, err)
}

func TestFormatRemaining(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{-time.Minute, "0s"},
		{0, "0s"},
		{500 * time.Millisecond, "0s"},
		{45 * time.Second, "45s"},
		{90 * time.Second, "1m 30s"},
		{time.Hour + 5*time.Minute + 59*time.Second, "1h 05m"},
		{26 * time.Hour, "1d 2h"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatRemaining(tt.d), "duration %s", tt.d)
	}
}

func TestRuleSet(t *testing.T) {
	rs := NewRuleSet(Rules{Cutoff: 10 * time.Minute})
	got := rs.Rules()
	assert.Equal(t, 10*time.Minute, got.Cutoff)
	assert.Equal(t, time.UTC, got.Location)

	rs.Set(Rules{Cutoff: 20 * time.Minute, Location: time.UTC})
	assert.Equal(t, 20*time.Minute, rs.Rules().Cutoff)

	var empty RuleSet
	assert.Equal(t, DefaultRules(), empty.Rules())
}
