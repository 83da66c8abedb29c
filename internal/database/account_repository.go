package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/leadscout/leadscout/internal/domain"
)

const accountSelectList = `id, username, credential_ref, is_logged_in, session_blob,
			last_login_at, login_error, created_at, updated_at`

// AccountRepository manages account records, including the persisted session
// blob. Session fields change only at session create/save/expire boundaries.
type AccountRepository struct {
	db *sqlx.DB
}

// NewAccountRepository creates a new repository.
func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Get returns one account by ID.
func (r *AccountRepository) Get(ctx context.Context, accountID string) (*domain.Account, error) {
	var account domain.Account
	query := `SELECT ` + accountSelectList + ` FROM accounts WHERE id = $1`

	if err := r.db.GetContext(ctx, &account, query, accountID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}

	return &account, nil
}

// List returns all accounts.
func (r *AccountRepository) List(ctx context.Context) ([]domain.Account, error) {
	var accounts []domain.Account
	query := `SELECT ` + accountSelectList + ` FROM accounts ORDER BY username`

	if err := r.db.SelectContext(ctx, &accounts, query); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	return accounts, nil
}

// Upsert registers a roster account, preserving session state on conflict.
func (r *AccountRepository) Upsert(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, username, credential_ref, is_logged_in, created_at, updated_at)
		VALUES ($1, $2, $3, FALSE, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			credential_ref = EXCLUDED.credential_ref,
			updated_at = NOW()
	`

	if _, err := r.db.ExecContext(ctx, query, account.ID, account.Username, account.CredentialRef); err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}

	return nil
}

// SaveSessionBlob replaces the persisted authentication state for an account.
// An empty blob is valid: it represents an unauthenticated account.
func (r *AccountRepository) SaveSessionBlob(ctx context.Context, accountID string, blob []byte) error {
	query := `
		UPDATE accounts
		SET session_blob = $2, updated_at = NOW()
		WHERE id = $1`

	if err := r.execExpectOneRow(ctx, query, accountID, blob); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("save session blob: %w", err)
	}

	return nil
}

// MarkLoggedIn records a successful login, stores the session blob, and
// clears any prior login error.
func (r *AccountRepository) MarkLoggedIn(ctx context.Context, accountID string, blob []byte, at time.Time) error {
	query := `
		UPDATE accounts
		SET is_logged_in = TRUE,
		    session_blob = $2,
		    last_login_at = $3,
		    login_error = NULL,
		    updated_at = NOW()
		WHERE id = $1`

	if err := r.execExpectOneRow(ctx, query, accountID, blob, at); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("mark logged in: %w", err)
	}

	return nil
}

// MarkLoginFailed records a failed or expired login. The session blob is
// cleared so the next acquisition starts unauthenticated.
func (r *AccountRepository) MarkLoginFailed(ctx context.Context, accountID, loginError string) error {
	query := `
		UPDATE accounts
		SET is_logged_in = FALSE,
		    session_blob = NULL,
		    login_error = $2,
		    updated_at = NOW()
		WHERE id = $1`

	if err := r.execExpectOneRow(ctx, query, accountID, loginError); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("mark login failed: %w", err)
	}

	return nil
}

// execExpectOneRow runs an exec and returns domain.ErrNotFound when no row
// was affected.
func (r *AccountRepository) execExpectOneRow(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return fmt.Errorf("get affected rows: %w", rowsErr)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}
