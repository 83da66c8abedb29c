// Package session owns the lifecycle of persisted browser authentication
// state. At most one live handle exists per account system-wide: the Redis
// lock is the enforcement point for the no-overlapping-runs invariant, not a
// deployment convention.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/leadscout/leadscout/internal/domain"
	"github.com/leadscout/leadscout/internal/logger"
)

// AccountStore is the persistence surface the session store needs.
type AccountStore interface {
	Get(ctx context.Context, accountID string) (*domain.Account, error)
	SaveSessionBlob(ctx context.Context, accountID string, blob []byte) error
	MarkLoggedIn(ctx context.Context, accountID string, blob []byte, at time.Time) error
	MarkLoginFailed(ctx context.Context, accountID, loginError string) error
}

// releaseLockScript deletes the lock only when it is still owned by the
// releasing handle, so an expired lock reacquired by another process is
// never deleted from under it.
const releaseLockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// Handle is one live claim on an account's session. It carries the working
// copy of the authentication blob; Persist writes it back.
type Handle struct {
	AccountID     string
	Blob          []byte
	Authenticated bool

	token    string
	released bool
	mu       sync.Mutex
}

// SetBlob replaces the handle's working authentication state, e.g. after a
// fresh login.
func (h *Handle) SetBlob(blob []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Blob = blob
	h.Authenticated = len(blob) > 0
}

// Store manages session acquisition, persistence and release.
type Store struct {
	accounts AccountStore
	locks    redis.UniversalClient
	lockTTL  time.Duration
	logger   logger.Logger
}

// NewStore creates a session store. lockTTL bounds how long a crashed holder
// can keep an account locked before the lock expires.
func NewStore(accounts AccountStore, locks redis.UniversalClient, lockTTL time.Duration, log logger.Logger) *Store {
	return &Store{
		accounts: accounts,
		locks:    locks,
		lockTTL:  lockTTL,
		logger:   log,
	}
}

func (s *Store) lockKey(accountID string) string {
	return fmt.Sprintf("session:lock:%s", accountID)
}

// HasSession reports whether a persisted session blob exists for an account.
func (s *Store) HasSession(ctx context.Context, accountID string) (bool, error) {
	account, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load account: %w", err)
	}

	return account.HasSession(), nil
}

// Acquire claims the account's session and loads the persisted auth state.
// A missing or unreadable blob degrades to an unauthenticated handle and is
// recorded as a login error on the account, never a fatal failure. An
// account already held by a live handle returns domain.ErrSessionBusy.
func (s *Store) Acquire(ctx context.Context, accountID string) (*Handle, error) {
	token := uuid.NewString()

	ok, err := s.locks.SetNX(ctx, s.lockKey(accountID), token, s.lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire session lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionBusy, accountID)
	}

	handle := &Handle{AccountID: accountID, token: token}

	account, loadErr := s.accounts.Get(ctx, accountID)
	switch {
	case loadErr == nil && account.HasSession():
		handle.Blob = account.SessionBlob
		handle.Authenticated = true
	case loadErr == nil:
		// No persisted state: start unauthenticated.
	case errors.Is(loadErr, domain.ErrNotFound):
		s.unlock(ctx, handle)
		return nil, loadErr
	default:
		// Degrade rather than fail startup; surface on the account.
		s.logger.Warn("session blob unavailable, starting unauthenticated",
			logger.String("account_id", accountID),
			logger.Error(loadErr))
		if markErr := s.accounts.MarkLoginFailed(ctx, accountID, loadErr.Error()); markErr != nil {
			s.logger.Error("failed to record login error",
				logger.String("account_id", accountID),
				logger.Error(markErr))
		}
	}

	s.logger.Debug("session acquired",
		logger.String("account_id", accountID),
		logger.Bool("authenticated", handle.Authenticated))

	return handle, nil
}

// IsHeld reports whether a live handle currently holds the account's
// session. Used by the scheduler to test acquirability without acquiring.
func (s *Store) IsHeld(ctx context.Context, accountID string) (bool, error) {
	n, err := s.locks.Exists(ctx, s.lockKey(accountID)).Result()
	if err != nil {
		return false, fmt.Errorf("check session lock: %w", err)
	}
	return n > 0, nil
}

// Persist writes the handle's current authentication state back, replacing
// the prior blob. Idempotent; called on every exit path so a crash never
// loses a freshly re-authenticated session.
func (s *Store) Persist(ctx context.Context, handle *Handle) error {
	handle.mu.Lock()
	blob := handle.Blob
	handle.mu.Unlock()

	if err := s.accounts.SaveSessionBlob(ctx, handle.AccountID, blob); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	return nil
}

// Release persists the handle's state and then frees the account's lock.
// Safe to call more than once; only the first call does work.
func (s *Store) Release(ctx context.Context, handle *Handle) error {
	handle.mu.Lock()
	if handle.released {
		handle.mu.Unlock()
		return nil
	}
	handle.released = true
	handle.mu.Unlock()

	persistErr := s.Persist(ctx, handle)
	s.unlock(ctx, handle)

	if persistErr != nil {
		return persistErr
	}

	s.logger.Debug("session released", logger.String("account_id", handle.AccountID))
	return nil
}

// MarkExpired records that the platform rejected the persisted auth state.
// The blob is cleared so the next acquisition starts unauthenticated.
func (s *Store) MarkExpired(ctx context.Context, accountID string) error {
	if err := s.accounts.MarkLoginFailed(ctx, accountID, domain.ErrSessionExpired.Error()); err != nil {
		return fmt.Errorf("mark session expired: %w", err)
	}
	return nil
}

func (s *Store) unlock(ctx context.Context, handle *Handle) {
	err := s.locks.Eval(ctx, releaseLockScript, []string{s.lockKey(handle.AccountID)}, handle.token).Err()
	if err != nil && err != redis.Nil {
		s.logger.Error("failed to release session lock",
			logger.String("account_id", handle.AccountID),
			logger.Error(err))
	}
}
