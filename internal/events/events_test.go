package events

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishJSON(t *testing.T) {
	bus := NewEventBus(nil)

	var got []StatusChange
	bus.Subscribe(JourneyStatusChanged, func(e Event) error {
		var sc StatusChange
		if err := e.Decode(&sc); err != nil {
			return err
		}
		assert.NotZero(t, e.ID)
		assert.False(t, e.CreatedAt.IsZero())
		got = append(got, sc)
		return nil
	})
	bus.Subscribe(BookingCreated, func(Event) error {
		t.Fatal("wrong event type delivered")
		return nil
	})

	require.NoError(t, bus.PublishJSON(JourneyStatusChanged, StatusChange{JourneyID: 4, From: "scheduled", To: "boarding"}))
	require.Len(t, got, 1)
	assert.Equal(t, int64(4), got[0].JourneyID)
	assert.Equal(t, "boarding", got[0].To)

	assert.Error(t, bus.PublishJSON(JourneyStatusChanged, make(chan int)))
}

func TestHandlerErrorsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	bus := NewEventBus(&logger)

	calls := 0
	bus.Subscribe(BookingCancelled, func(Event) error {
		calls++
		return errors.New("telegram down")
	})
	bus.Subscribe(BookingCancelled, func(Event) error {
		calls++
		return nil
	})

	bus.Publish(Event{Type: BookingCancelled})
	assert.Equal(t, 2, calls)
	assert.Contains(t, buf.String(), "telegram down")
	assert.Contains(t, buf.String(), BookingCancelled)
}
