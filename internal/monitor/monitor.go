// Package monitor re-evaluates every journey on a fixed interval.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"easytrip/internal/eligibility"
	"easytrip/internal/events"
	"easytrip/internal/metrics"
	"easytrip/internal/models"
)

// JourneyLister supplies the journeys to watch.
type JourneyLister interface {
	ListJourneys(ctx context.Context) ([]models.Journey, error)
}

// Releaser resets seats of journeys that reached next_journey.
type Releaser interface {
	ReleaseForNextJourney(ctx context.Context, journeyID int64) (bool, error)
}

// TickResult summarises one pass over all journeys.
type TickResult struct {
	Evaluated   int
	Transitions int
	Released    int
	Counts      map[eligibility.BusStatus]int
}

// Monitor keeps only the last observed status per journey; every
// evaluation itself is independent.
type Monitor struct {
	journeys JourneyLister
	releaser Releaser
	rules    *eligibility.RuleSet
	bus      *events.EventBus
	interval time.Duration
	logger   *zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	last    map[int64]eligibility.BusStatus
	running bool
	stopCh  chan struct{}
}

func New(
	journeys JourneyLister,
	releaser Releaser,
	rules *eligibility.RuleSet,
	bus *events.EventBus,
	interval time.Duration,
	logger *zerolog.Logger,
) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Monitor{
		journeys: journeys,
		releaser: releaser,
		rules:    rules,
		bus:      bus,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		last:     make(map[int64]eligibility.BusStatus),
		stopCh:   make(chan struct{}),
	}
}

// Start runs a tick immediately and then once per interval. It blocks
// until ctx is done or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	m.logger.Info().Dur("interval", m.interval).Msg("Journey monitor started")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.tickAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Journey monitor stopped by context")
			return
		case <-m.stopCh:
			m.logger.Info().Msg("Journey monitor stopped")
			return
		case <-ticker.C:
			m.tickAndLog(ctx)
		}
	}
}

// Stop ends a running Start loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.running {
		m.running = false
		close(m.stopCh)
	}
	m.mu.Unlock()
}

func (m *Monitor) tickAndLog(ctx context.Context) {
	res, err := m.Tick(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("Journey monitor tick failed")
		return
	}
	m.logger.Debug().
		Int("evaluated", res.Evaluated).
		Int("transitions", res.Transitions).
		Int("released", res.Released).
		Msg("Journey monitor tick")
}

// Tick evaluates every journey once.
func (m *Monitor) Tick(ctx context.Context) (TickResult, error) {
	list, err := m.journeys.ListJourneys(ctx)
	if err != nil {
		return TickResult{}, err
	}

	now := m.now()
	rules := m.rules.Rules()
	res := TickResult{Counts: make(map[eligibility.BusStatus]int)}
	seen := make(map[int64]struct{}, len(list))

	for i := range list {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		j := &list[i]
		seen[j.ID] = struct{}{}

		st := eligibility.Evaluate(now, *j, rules)
		metrics.IncEvaluation(string(st.BusStatus))
		res.Evaluated++
		res.Counts[st.BusStatus]++

		m.mu.Lock()
		prev, known := m.last[j.ID]
		m.last[j.ID] = st.BusStatus
		m.mu.Unlock()

		if known && prev != st.BusStatus {
			res.Transitions++
			m.logger.Info().Int64("journey_id", j.ID).Str("from", string(prev)).Str("to", string(st.BusStatus)).Msg("Journey status changed")
			if m.bus != nil {
				_ = m.bus.PublishJSON(events.JourneyStatusChanged, events.StatusChange{
					JourneyID: j.ID,
					BusID:     j.BusID,
					From:      string(prev),
					To:        string(st.BusStatus),
					Message:   st.Message,
					At:        now,
				})
			}
		}

		if st.BusStatus == eligibility.BusNextJourney && m.releaser != nil {
			released, err := m.releaser.ReleaseForNextJourney(ctx, j.ID)
			if err != nil {
				m.logger.Error().Err(err).Int64("journey_id", j.ID).Msg("Seat release failed")
				continue
			}
			if released {
				res.Released++
			}
		}
	}

	m.mu.Lock()
	for id := range m.last {
		if _, ok := seen[id]; !ok {
			delete(m.last, id)
		}
	}
	m.mu.Unlock()

	labels := make([]string, len(eligibility.AllBusStatuses))
	counts := make(map[string]int, len(res.Counts))
	for i, s := range eligibility.AllBusStatuses {
		labels[i] = string(s)
		counts[string(s)] = res.Counts[s]
	}
	metrics.SetJourneysByStatus(labels, counts)
	return res, nil
}

// LastStatus returns the status observed for a journey on the last tick.
func (m *Monitor) LastStatus(journeyID int64) (eligibility.BusStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.last[journeyID]
	return st, ok
}
