// Package session replaces ambient login state with explicit session
// objects. A session is created at login, deleted at logout and expires
// after its TTL; HTTP handlers receive it through the request context.
package session

import (
	"context"
	"errors"
	"time"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleOperator, RoleAdmin:
		return true
	}
	return false
}

// ErrNotFound is returned by stores for unknown or expired tokens.
var ErrNotFound = errors.New("session not found")

type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// CanManage reports whether the session may act on other users' bookings.
func (s *Session) CanManage() bool {
	return s.Role == RoleOperator || s.Role == RoleAdmin
}

// Store persists sessions by token.
type Store interface {
	Save(ctx context.Context, s *Session) error
	Get(ctx context.Context, token string) (*Session, error)
	Delete(ctx context.Context, token string) error
}

type ctxKey struct{}

// WithContext attaches s to ctx.
func WithContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session attached by WithContext, if any.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok && s != nil
}
