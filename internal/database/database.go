package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB wraps sql.DB and implements the journey, seat and booking
// repositories.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

// NewDB opens the database at path and runs migrations.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Immediate transactions take the write lock up front so two seat
	// reservations cannot deadlock upgrading a read lock.
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return &DB{DB: db, path: path, logger: logger}, nil
}

// Path returns the database file location.
func (db *DB) Path() string {
	return db.path
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS journeys (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			bus_id TEXT NOT NULL,
			origin TEXT NOT NULL COLLATE NOCASE,
			destination TEXT NOT NULL COLLATE NOCASE,
			departure DATETIME NOT NULL,
			arrival DATETIME NOT NULL,
			fare INTEGER NOT NULL DEFAULT 0,
			seat_count INTEGER NOT NULL,
			seats_released_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS seats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			journey_id INTEGER NOT NULL,
			label TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'available',
			booking_id TEXT,
			updated_at DATETIME NOT NULL,
			UNIQUE (journey_id, label),
			FOREIGN KEY (journey_id) REFERENCES journeys(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS bookings (
			id TEXT PRIMARY KEY,
			journey_id INTEGER NOT NULL,
			user_id TEXT NOT NULL,
			seat_ids TEXT NOT NULL,
			passengers TEXT NOT NULL,
			contact TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			total INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (journey_id) REFERENCES journeys(id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_journeys_route ON journeys(origin, destination)`,
		`CREATE INDEX IF NOT EXISTS idx_journeys_bus ON journeys(bus_id)`,
		`CREATE INDEX IF NOT EXISTS idx_seats_journey ON seats(journey_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_seats_booking ON seats(booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_journey ON bookings(journey_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_user ON bookings(user_id)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
