package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"easytrip/internal/domain"
	"easytrip/internal/models"
	"easytrip/internal/repository"
)

const bookingColumns = `id, journey_id, user_id, seat_ids, passengers, contact, status, total, created_at, updated_at`

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b                          models.Booking
		seats, passengers, contact string
	)
	err := row.Scan(&b.ID, &b.JourneyID, &b.UserID, &seats, &passengers, &contact, &b.Status, &b.Total,
		&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(seats), &b.SeatIDs); err != nil {
		return nil, fmt.Errorf("decode seat ids: %w", err)
	}
	if err := json.Unmarshal([]byte(passengers), &b.Passengers); err != nil {
		return nil, fmt.Errorf("decode passengers: %w", err)
	}
	if err := json.Unmarshal([]byte(contact), &b.Contact); err != nil {
		return nil, fmt.Errorf("decode contact: %w", err)
	}
	return &b, nil
}

type encodedBooking struct {
	seats, passengers, contact string
}

func encodeBooking(b *models.Booking) (encodedBooking, error) {
	var (
		enc encodedBooking
		err error
		raw []byte
	)
	if raw, err = json.Marshal(b.SeatIDs); err != nil {
		return enc, err
	}
	enc.seats = string(raw)
	if raw, err = json.Marshal(b.Passengers); err != nil {
		return enc, err
	}
	enc.passengers = string(raw)
	if raw, err = json.Marshal(b.Contact); err != nil {
		return enc, err
	}
	enc.contact = string(raw)
	return enc, nil
}

func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	b, err := scanBooking(db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundError{Resource: "booking", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

func (db *DB) FindBookings(ctx context.Context, field, value string) ([]models.Booking, error) {
	if err := repository.CheckField(field, repository.BookingFields); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE `+field+` = ? ORDER BY created_at`, value)
	if err != nil {
		return nil, fmt.Errorf("query bookings: %w", err)
	}
	defer rows.Close()

	var out []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (db *DB) CreateBooking(ctx context.Context, b *models.Booking) error {
	enc, err := encodeBooking(b)
	if err != nil {
		return fmt.Errorf("encode booking: %w", err)
	}
	if b.Status == "" {
		b.Status = models.BookingPending
	}
	now := time.Now().UTC()
	_, err = db.ExecContext(ctx, `
		INSERT INTO bookings (id, journey_id, user_id, seat_ids, passengers, contact, status, total, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.JourneyID, b.UserID, enc.seats, enc.passengers, enc.contact, b.Status, b.Total, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	b.CreatedAt = now
	b.UpdatedAt = now
	return nil
}

func (db *DB) UpdateBooking(ctx context.Context, b *models.Booking) error {
	enc, err := encodeBooking(b)
	if err != nil {
		return fmt.Errorf("encode booking: %w", err)
	}
	now := time.Now().UTC()
	res, err := db.ExecContext(ctx, `
		UPDATE bookings
		SET seat_ids = ?, passengers = ?, contact = ?, status = ?, total = ?, updated_at = ?
		WHERE id = ?`,
		enc.seats, enc.passengers, enc.contact, b.Status, b.Total, now, b.ID,
	)
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NotFoundError{Resource: "booking", ID: b.ID}
	}
	b.UpdatedAt = now
	return nil
}
