package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverStore reads from a primary store and switches to the fallback
// when the primary errors. While the primary is down it is retried once
// per recovery interval. Writes always reach the fallback so sessions
// survive a primary outage.
type FailoverStore struct {
	primary  Store
	fallback Store
	logger   *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverStore(primary, fallback Store, logger *zerolog.Logger) *FailoverStore {
	return &FailoverStore{primary: primary, fallback: fallback, logger: logger}
}

// usePrimary reports whether the primary should be tried now.
func (f *FailoverStore) usePrimary() bool {
	if !f.isDown.Load() {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if time.Since(f.lastCheck) < recoveryInterval {
		return false
	}
	f.lastCheck = time.Now()
	return true
}

func (f *FailoverStore) markDown(err error) {
	if !f.isDown.Swap(true) {
		f.logger.Warn().Err(err).Msg("Primary session store failed, switching to fallback")
	}
	f.mu.Lock()
	f.lastCheck = time.Now()
	f.mu.Unlock()
}

func (f *FailoverStore) markUp() {
	if f.isDown.Swap(false) {
		f.logger.Info().Msg("Primary session store recovered")
	}
}

func (f *FailoverStore) Save(ctx context.Context, s *Session) error {
	if err := f.fallback.Save(ctx, s); err != nil {
		return err
	}
	if !f.usePrimary() {
		return nil
	}
	if err := f.primary.Save(ctx, s); err != nil {
		f.markDown(err)
		return nil
	}
	f.markUp()
	return nil
}

func (f *FailoverStore) Get(ctx context.Context, token string) (*Session, error) {
	if f.usePrimary() {
		s, err := f.primary.Get(ctx, token)
		switch {
		case err == nil:
			f.markUp()
			return s, nil
		case errors.Is(err, ErrNotFound):
			f.markUp()
			return nil, ErrNotFound
		default:
			f.markDown(err)
		}
	}
	return f.fallback.Get(ctx, token)
}

func (f *FailoverStore) Delete(ctx context.Context, token string) error {
	if err := f.fallback.Delete(ctx, token); err != nil {
		return err
	}
	if !f.usePrimary() {
		return nil
	}
	if err := f.primary.Delete(ctx, token); err != nil {
		f.markDown(err)
		return nil
	}
	f.markUp()
	return nil
}
