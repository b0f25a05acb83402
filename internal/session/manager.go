package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"easytrip/internal/domain"
)

// Manager owns the session lifecycle on top of a Store.
type Manager struct {
	store  Store
	ttl    time.Duration
	logger *zerolog.Logger
	now    func() time.Time
}

func NewManager(store Store, ttl time.Duration, logger *zerolog.Logger) *Manager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{store: store, ttl: ttl, logger: logger, now: time.Now}
}

// Login opens a session for an identity the caller has already verified.
func (m *Manager) Login(ctx context.Context, userID string, role Role) (*Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ValidationError{Field: "user_id", Msg: "is required"}
	}
	if role == "" {
		role = RoleCustomer
	}
	if !role.Valid() {
		return nil, domain.ValidationError{Field: "role", Msg: fmt.Sprintf("unknown role %q", role)}
	}

	now := m.now()
	s := &Session{
		Token:     uuid.NewString(),
		UserID:    userID,
		Role:      role,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	m.logger.Info().Str("user_id", userID).Str("role", string(role)).Msg("Session opened")
	return s, nil
}

// Lookup returns the live session for token.
func (m *Manager) Lookup(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	s, err := m.store.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if s.Expired(m.now()) {
		_ = m.store.Delete(ctx, token)
		return nil, ErrNotFound
	}
	return s, nil
}

// Logout ends the session. Unknown tokens are not an error.
func (m *Manager) Logout(ctx context.Context, token string) error {
	if err := m.store.Delete(ctx, token); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}
	m.logger.Debug().Msg("Session closed")
	return nil
}
