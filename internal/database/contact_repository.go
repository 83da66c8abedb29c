package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/leadscout/leadscout/internal/domain"
)

const contactSelectList = `id, account_id, external_key, name, state, lead_id,
			last_activity_at, created_at, updated_at`

// ContactRepository manages messenger contacts for the conversation agent.
type ContactRepository struct {
	db *sqlx.DB
}

// NewContactRepository creates a new repository.
func NewContactRepository(db *sqlx.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

// Get returns one contact by ID.
func (r *ContactRepository) Get(ctx context.Context, contactID string) (*domain.Contact, error) {
	var contact domain.Contact
	query := `SELECT ` + contactSelectList + ` FROM contacts WHERE id = $1`

	if err := r.db.GetContext(ctx, &contact, query, contactID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get contact: %w", err)
	}

	return &contact, nil
}

// GetOrCreate returns the contact for an account/external key pair, creating
// it in the NEW state on first observation.
func (r *ContactRepository) GetOrCreate(ctx context.Context, accountID, externalKey, name string) (*domain.Contact, error) {
	query := `
		INSERT INTO contacts (id, account_id, external_key, name, state,
			last_activity_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW(), NOW())
		ON CONFLICT (account_id, external_key) DO UPDATE SET updated_at = NOW()
		RETURNING ` + contactSelectList

	var contact domain.Contact
	err := r.db.GetContext(ctx, &contact, query,
		uuid.NewString(), accountID, externalKey, name, domain.ConversationNew)
	if err != nil {
		return nil, fmt.Errorf("get or create contact: %w", err)
	}

	return &contact, nil
}

// SetState moves a contact to a new state, validating the transition, and
// returns the updated contact.
func (r *ContactRepository) SetState(ctx context.Context, contactID string, state domain.ConversationState) (*domain.Contact, error) {
	if !state.IsValid() {
		return nil, fmt.Errorf("%w: unknown state %q", domain.ErrInvalidTransition, state)
	}

	contact, err := r.Get(ctx, contactID)
	if err != nil {
		return nil, err
	}

	if !contact.State.CanTransitionTo(state) {
		return nil, fmt.Errorf("%w: contact %s %s -> %s", domain.ErrInvalidTransition, contactID, contact.State, state)
	}

	query := `
		UPDATE contacts
		SET state = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + contactSelectList

	var updated domain.Contact
	if err := r.db.GetContext(ctx, &updated, query, contactID, state); err != nil {
		return nil, fmt.Errorf("set contact state: %w", err)
	}

	return &updated, nil
}

// Touch advances a contact's last-activity timestamp, cancelling any pending
// idle closure.
func (r *ContactRepository) Touch(ctx context.Context, contactID string, at time.Time) error {
	query := `
		UPDATE contacts
		SET last_activity_at = $2, updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, contactID, at)
	if err != nil {
		return fmt.Errorf("touch contact: %w", err)
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

// LinkLead associates a contact with the lead it originated from.
func (r *ContactRepository) LinkLead(ctx context.Context, contactID, leadID string) error {
	query := `UPDATE contacts SET lead_id = $2, updated_at = NOW() WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, contactID, leadID); err != nil {
		return fmt.Errorf("link contact lead: %w", err)
	}

	return nil
}

// ListIdleCandidates returns open contacts whose last activity is older than
// the idle boundary.
func (r *ContactRepository) ListIdleCandidates(ctx context.Context, accountID string, olderThan time.Time) ([]domain.Contact, error) {
	var contacts []domain.Contact
	query := `
		SELECT ` + contactSelectList + `
		FROM contacts
		WHERE account_id = $1
		  AND state <> $2
		  AND last_activity_at < $3
		ORDER BY last_activity_at`

	err := r.db.SelectContext(ctx, &contacts, query, accountID, domain.ConversationIdleClosed, olderThan)
	if err != nil {
		return nil, fmt.Errorf("list idle candidates: %w", err)
	}

	return contacts, nil
}

// ListOpenByAccount returns the account's contacts that are not idle-closed,
// oldest activity first, so the agent serialises contact handling in a
// deterministic order.
func (r *ContactRepository) ListOpenByAccount(ctx context.Context, accountID string) ([]domain.Contact, error) {
	var contacts []domain.Contact
	query := `
		SELECT ` + contactSelectList + `
		FROM contacts
		WHERE account_id = $1 AND state <> $2
		ORDER BY last_activity_at`

	err := r.db.SelectContext(ctx, &contacts, query, accountID, domain.ConversationIdleClosed)
	if err != nil {
		return nil, fmt.Errorf("list open contacts: %w", err)
	}

	return contacts, nil
}
