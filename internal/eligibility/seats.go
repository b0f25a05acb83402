package eligibility

import "easytrip/internal/models"

// SeatStyle is the visual treatment of a seat in the seat map.
type SeatStyle string

const (
	StyleAvailable   SeatStyle = "available"
	StyleSold        SeatStyle = "sold"
	StyleReserved    SeatStyle = "reserved"
	StyleDisabled    SeatStyle = "disabled"
	StyleMaintenance SeatStyle = "maintenance"
)

// SeatView is what the seat map renders for one seat.
type SeatView struct {
	ID        int64             `json:"id"`
	Label     string            `json:"label"`
	Status    models.SeatStatus `json:"status"`
	Style     SeatStyle         `json:"style"`
	Clickable bool              `json:"clickable"`
}

// logicalReset reports whether stored seat state must be ignored: the bus
// is in next_journey but its seats have not been reset for this cycle.
func logicalReset(st Status) bool {
	return st.BusStatus == BusNextJourney && !st.SeatsReleased
}

// CanInteract reports whether a seat may be selected under st.
// Before the physical reset of a next_journey cycle every seat counts as
// available; afterwards the stored state applies again.
func CanInteract(st Status, seat models.Seat) bool {
	if !st.IsBookingOpen || st.MaintenanceMode {
		return false
	}
	if logicalReset(st) {
		return true
	}
	return seat.Status == models.SeatAvailable
}

// ViewSeat builds the rendered state of one seat.
func ViewSeat(st Status, seat models.Seat) SeatView {
	v := SeatView{
		ID:        seat.ID,
		Label:     seat.Label,
		Status:    seat.Status,
		Clickable: CanInteract(st, seat),
	}
	switch {
	case st.MaintenanceMode:
		v.Style = StyleMaintenance
	case logicalReset(st):
		v.Status = models.SeatAvailable
		v.Style = StyleAvailable
	case seat.Status == models.SeatSold:
		v.Style = StyleSold
	case seat.Status == models.SeatReserved:
		v.Style = StyleReserved
	case seat.Status == models.SeatAvailable && st.IsBookingOpen:
		v.Style = StyleAvailable
	default:
		v.Style = StyleDisabled
	}
	return v
}

// ViewSeats maps ViewSeat over a seat list.
func ViewSeats(st Status, seats []models.Seat) []SeatView {
	out := make([]SeatView, len(seats))
	for i, s := range seats {
		out[i] = ViewSeat(st, s)
	}
	return out
}
