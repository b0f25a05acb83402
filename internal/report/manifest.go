// Package report renders journey manifests as XLSX workbooks.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"easytrip/internal/eligibility"
	"easytrip/internal/models"
)

// Manifest is everything an operator sheet shows for one journey.
type Manifest struct {
	Journey     models.Journey
	Status      eligibility.Status
	Seats       []models.Seat
	Bookings    []models.Booking
	GeneratedAt time.Time
}

// sheetWriter appends rows to the sheets of one workbook.
type sheetWriter struct {
	file  *excelize.File
	sheet string
	row   int
}

func newSheetWriter() *sheetWriter {
	return &sheetWriter{file: excelize.NewFile()}
}

func (w *sheetWriter) addSheet(name string) error {
	if len(name) > 31 {
		name = name[:31]
	}
	if w.sheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}
	w.sheet = name
	w.row = 1
	return nil
}

func (w *sheetWriter) header(columns ...string) error {
	values := make([]any, len(columns))
	for i, c := range columns {
		values[i] = c
	}
	start := w.row
	if err := w.write(values...); err != nil {
		return err
	}
	style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil
	}
	first, _ := excelize.CoordinatesToCellName(1, start)
	last, _ := excelize.CoordinatesToCellName(len(columns), start)
	_ = w.file.SetCellStyle(w.sheet, first, last, style)
	return nil
}

func (w *sheetWriter) write(values ...any) error {
	cell, err := excelize.CoordinatesToCellName(1, w.row)
	if err != nil {
		return err
	}
	if err := w.file.SetSheetRow(w.sheet, cell, &values); err != nil {
		return err
	}
	w.row++
	return nil
}

// WriteManifest writes the workbook for m to out. Sheets: Journey, Seats,
// Passengers.
func WriteManifest(out io.Writer, m Manifest) error {
	w := newSheetWriter()
	defer w.file.Close()

	if m.GeneratedAt.IsZero() {
		m.GeneratedAt = time.Now()
	}
	j := m.Journey

	if err := w.addSheet("Journey"); err != nil {
		return err
	}
	rows := [][]any{
		{"Journey", j.ID},
		{"Bus", j.BusID},
		{"From", j.From},
		{"To", j.To},
		{"Departure", j.Departure.Format(time.RFC3339)},
		{"Arrival", j.Arrival.Format(time.RFC3339)},
		{"Fare", j.Fare},
		{"Seats", j.SeatCount},
		{"Bus status", string(m.Status.BusStatus)},
		{"Booking open", m.Status.IsBookingOpen},
		{"Status message", m.Status.Message},
		{"Generated", m.GeneratedAt.Format(time.RFC3339)},
	}
	for _, r := range rows {
		if err := w.write(r...); err != nil {
			return err
		}
	}

	if err := w.addSheet("Seats"); err != nil {
		return err
	}
	if err := w.header("Seat", "Status", "Booking"); err != nil {
		return err
	}
	for _, s := range m.Seats {
		if err := w.write(s.Label, string(s.Status), s.BookingID); err != nil {
			return err
		}
	}

	if err := w.addSheet("Passengers"); err != nil {
		return err
	}
	if err := w.header("Booking", "Status", "Seats", "Name", "Age", "Gender", "Email", "Phone"); err != nil {
		return err
	}
	labels := make(map[int64]string, len(m.Seats))
	for _, s := range m.Seats {
		labels[s.ID] = s.Label
	}
	for _, b := range m.Bookings {
		if !b.IsActive() {
			continue
		}
		seatLabels := make([]string, 0, len(b.SeatIDs))
		for _, id := range b.SeatIDs {
			seatLabels = append(seatLabels, labels[id])
		}
		for _, p := range b.Passengers {
			if err := w.write(b.ID, b.Status, strings.Join(seatLabels, " "), p.Name, p.Age, p.Gender,
				b.Contact.Email, b.Contact.Phone); err != nil {
				return err
			}
		}
	}

	w.file.SetActiveSheet(0)
	return w.file.Write(out)
}
