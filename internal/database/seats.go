package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"easytrip/internal/domain"
	"easytrip/internal/models"
	"easytrip/internal/repository"
)

const seatColumns = `id, journey_id, label, status, booking_id, updated_at`

func scanSeat(row rowScanner) (*models.Seat, error) {
	var (
		s         models.Seat
		status    string
		bookingID sql.NullString
	)
	if err := row.Scan(&s.ID, &s.JourneyID, &s.Label, &status, &bookingID, &s.UpdatedAt); err != nil {
		return nil, err
	}
	st, err := models.ParseSeatStatus(status)
	if err != nil {
		return nil, err
	}
	s.Status = st
	s.BookingID = bookingID.String
	return &s, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (db *DB) GetSeat(ctx context.Context, id int64) (*models.Seat, error) {
	s, err := scanSeat(db.QueryRowContext(ctx, `SELECT `+seatColumns+` FROM seats WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundError{Resource: "seat", ID: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return nil, fmt.Errorf("get seat: %w", err)
	}
	return s, nil
}

func (db *DB) FindSeats(ctx context.Context, field, value string) ([]models.Seat, error) {
	if err := repository.CheckField(field, repository.SeatFields); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT `+seatColumns+` FROM seats WHERE `+field+` = ? ORDER BY id`, value)
	if err != nil {
		return nil, fmt.Errorf("query seats: %w", err)
	}
	defer rows.Close()

	var out []models.Seat
	for rows.Next() {
		s, err := scanSeat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan seat: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (db *DB) CreateSeat(ctx context.Context, s *models.Seat) error {
	if s.Status == "" {
		s.Status = models.SeatAvailable
	}
	now := time.Now().UTC()
	res, err := db.ExecContext(ctx,
		`INSERT INTO seats (journey_id, label, status, booking_id, updated_at) VALUES (?, ?, ?, ?, ?)`,
		s.JourneyID, s.Label, s.Status, nullString(s.BookingID), now,
	)
	if err != nil {
		return fmt.Errorf("insert seat: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last id: %w", err)
	}
	s.ID = id
	s.UpdatedAt = now
	return nil
}

func (db *DB) UpdateSeat(ctx context.Context, s *models.Seat) error {
	if _, err := models.ParseSeatStatus(string(s.Status)); err != nil {
		return domain.ValidationError{Field: "status", Msg: err.Error()}
	}
	now := time.Now().UTC()
	res, err := db.ExecContext(ctx,
		`UPDATE seats SET label = ?, status = ?, booking_id = ?, updated_at = ? WHERE id = ?`,
		s.Label, s.Status, nullString(s.BookingID), now, s.ID,
	)
	if err != nil {
		return fmt.Errorf("update seat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NotFoundError{Resource: "seat", ID: strconv.FormatInt(s.ID, 10)}
	}
	s.UpdatedAt = now
	return nil
}

// ReserveSeats holds all seatIDs for bookingID inside one transaction.
func (db *DB) ReserveSeats(ctx context.Context, journeyID int64, seatIDs []int64, bookingID string) error {
	if len(seatIDs) == 0 {
		return domain.ValidationError{Field: "seat_ids", Msg: "at least one seat is required"}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, id := range seatIDs {
		res, err := tx.ExecContext(ctx, `
			UPDATE seats SET status = ?, booking_id = ?, updated_at = ?
			WHERE id = ? AND journey_id = ? AND status = ?`,
			models.SeatReserved, bookingID, now, id, journeyID, models.SeatAvailable,
		)
		if err != nil {
			return fmt.Errorf("reserve seat %d: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ConflictError{Resource: "seat", Msg: fmt.Sprintf("seat %d is no longer available", id)}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (db *DB) ReleaseBookingSeats(ctx context.Context, bookingID string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE seats SET status = ?, booking_id = NULL, updated_at = ? WHERE booking_id = ?`,
		models.SeatAvailable, time.Now().UTC(), bookingID,
	)
	if err != nil {
		return fmt.Errorf("release seats: %w", err)
	}
	return nil
}

func (db *DB) SellBookingSeats(ctx context.Context, bookingID string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE seats SET status = ?, updated_at = ? WHERE booking_id = ? AND status = ?`,
		models.SeatSold, time.Now().UTC(), bookingID, models.SeatReserved,
	)
	if err != nil {
		return fmt.Errorf("sell seats: %w", err)
	}
	return nil
}

// ResetSeats frees every seat of the journey and records releaseAt as the
// journey's release mark. Pending bookings of the finished trip are
// cancelled. A journey whose mark is already at or after releaseAt is left
// alone, so repeated calls within one cycle are no-ops.
func (db *DB) ResetSeats(ctx context.Context, journeyID int64, releaseAt time.Time) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var released sql.NullTime
	err = tx.QueryRowContext(ctx, `SELECT seats_released_at FROM journeys WHERE id = ?`, journeyID).Scan(&released)
	if errors.Is(err, sql.ErrNoRows) {
		return false, domain.NotFoundError{Resource: "journey", ID: strconv.FormatInt(journeyID, 10)}
	}
	if err != nil {
		return false, fmt.Errorf("read release mark: %w", err)
	}
	if released.Valid && !released.Time.Before(releaseAt) {
		return false, nil
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE seats SET status = ?, booking_id = NULL, updated_at = ? WHERE journey_id = ?`,
		models.SeatAvailable, now, journeyID,
	); err != nil {
		return false, fmt.Errorf("reset seats: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE bookings SET status = ?, updated_at = ? WHERE journey_id = ? AND status = ?`,
		models.BookingCancelled, now, journeyID, models.BookingPending,
	); err != nil {
		return false, fmt.Errorf("expire bookings: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE journeys SET seats_released_at = ?, updated_at = ? WHERE id = ?`,
		releaseAt.UTC(), now, journeyID,
	); err != nil {
		return false, fmt.Errorf("mark released: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}
