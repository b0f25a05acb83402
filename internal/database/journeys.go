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

const journeyColumns = `id, bus_id, origin, destination, departure, arrival, fare, seat_count,
	seats_released_at, created_at, updated_at`

func scanJourney(row rowScanner) (*models.Journey, error) {
	var (
		j        models.Journey
		released sql.NullTime
	)
	err := row.Scan(&j.ID, &j.BusID, &j.From, &j.To, &j.Departure, &j.Arrival, &j.Fare, &j.SeatCount,
		&released, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if released.Valid {
		t := released.Time
		j.SeatsReleasedAt = &t
	}
	return &j, nil
}

func (db *DB) GetJourney(ctx context.Context, id int64) (*models.Journey, error) {
	row := db.QueryRowContext(ctx, `SELECT `+journeyColumns+` FROM journeys WHERE id = ?`, id)
	j, err := scanJourney(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundError{Resource: "journey", ID: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return nil, fmt.Errorf("get journey: %w", err)
	}
	return j, nil
}

// FindJourneys returns journeys whose field equals value. Route fields
// compare case-insensitively.
func (db *DB) FindJourneys(ctx context.Context, field, value string) ([]models.Journey, error) {
	if err := repository.CheckField(field, repository.JourneyFields); err != nil {
		return nil, err
	}
	return db.queryJourneys(ctx, `SELECT `+journeyColumns+` FROM journeys WHERE `+field+` = ? ORDER BY departure, id`, value)
}

func (db *DB) ListJourneys(ctx context.Context) ([]models.Journey, error) {
	return db.queryJourneys(ctx, `SELECT `+journeyColumns+` FROM journeys ORDER BY departure, id`)
}

func (db *DB) queryJourneys(ctx context.Context, query string, args ...any) ([]models.Journey, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journeys: %w", err)
	}
	defer rows.Close()

	var out []models.Journey
	for rows.Next() {
		j, err := scanJourney(rows)
		if err != nil {
			return nil, fmt.Errorf("scan journey: %w", err)
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// CreateJourney inserts the journey together with SeatCount available seats.
func (db *DB) CreateJourney(ctx context.Context, j *models.Journey) error {
	if j.SeatCount <= 0 {
		return domain.ValidationError{Field: "seat_count", Msg: "must be positive"}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO journeys (bus_id, origin, destination, departure, arrival, fare, seat_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.BusID, j.From, j.To, j.Departure.UTC(), j.Arrival.UTC(), j.Fare, j.SeatCount, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert journey: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO seats (journey_id, label, status, updated_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare seats: %w", err)
	}
	defer stmt.Close()
	for n := 1; n <= j.SeatCount; n++ {
		if _, err := stmt.ExecContext(ctx, id, models.SeatLabel(n), models.SeatAvailable, now); err != nil {
			return fmt.Errorf("insert seat %d: %w", n, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	j.ID = id
	j.CreatedAt = now
	j.UpdatedAt = now
	return nil
}

// UpdateJourney rewrites the schedule and route. The seat count is fixed at
// creation and the release mark is owned by ResetSeats, so neither is written.
func (db *DB) UpdateJourney(ctx context.Context, j *models.Journey) error {
	now := time.Now().UTC()
	res, err := db.ExecContext(ctx, `
		UPDATE journeys
		SET bus_id = ?, origin = ?, destination = ?, departure = ?, arrival = ?, fare = ?,
			updated_at = ?
		WHERE id = ?`,
		j.BusID, j.From, j.To, j.Departure.UTC(), j.Arrival.UTC(), j.Fare, now, j.ID,
	)
	if err != nil {
		return fmt.Errorf("update journey: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NotFoundError{Resource: "journey", ID: strconv.FormatInt(j.ID, 10)}
	}
	j.UpdatedAt = now
	return nil
}
