package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/leadscout/leadscout/internal/domain"
)

// pqUniqueViolation is the PostgreSQL error code for unique constraint
// violations, the enforcement point for the one-lead-per-post invariant.
const pqUniqueViolation = "23505"

const leadSelectList = `id, post_url, post_id, group_id, author_name, author_handle,
			status, stage, confidence, created_at, updated_at`

// LeadRepository manages leads. At most one lead exists per post URL; the
// unique index fails duplicate creation closed and the existing lead is
// returned unchanged.
type LeadRepository struct {
	db *sqlx.DB
}

// NewLeadRepository creates a new repository.
func NewLeadRepository(db *sqlx.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

// Get returns one lead by ID.
func (r *LeadRepository) Get(ctx context.Context, leadID string) (*domain.Lead, error) {
	var lead domain.Lead
	query := `SELECT ` + leadSelectList + ` FROM leads WHERE id = $1`

	if err := r.db.GetContext(ctx, &lead, query, leadID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get lead: %w", err)
	}

	return &lead, nil
}

// GetByPostURL returns the lead keyed by a post's canonical URL.
func (r *LeadRepository) GetByPostURL(ctx context.Context, postURL string) (*domain.Lead, error) {
	var lead domain.Lead
	query := `SELECT ` + leadSelectList + ` FROM leads WHERE post_url = $1`

	if err := r.db.GetContext(ctx, &lead, query, postURL); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get lead by post url: %w", err)
	}

	return &lead, nil
}

// ListByGroup returns the leads derived from one group.
func (r *LeadRepository) ListByGroup(ctx context.Context, groupID string) ([]domain.Lead, error) {
	var leads []domain.Lead
	query := `SELECT ` + leadSelectList + ` FROM leads WHERE group_id = $1 ORDER BY created_at DESC`

	if err := r.db.SelectContext(ctx, &leads, query, groupID); err != nil {
		return nil, fmt.Errorf("list leads by group: %w", err)
	}

	return leads, nil
}

// ListActionable returns an account's oldest leads in the given status,
// joining through the groups the account owns. Used to pick the next
// comment or DM targets.
func (r *LeadRepository) ListActionable(ctx context.Context, accountID string, status domain.LeadStatus, limit int) ([]domain.Lead, error) {
	var leads []domain.Lead
	query := `
		SELECT l.id, l.post_url, l.post_id, l.group_id, l.author_name, l.author_handle,
			l.status, l.stage, l.confidence, l.created_at, l.updated_at
		FROM leads l
		JOIN groups g ON g.id = l.group_id
		WHERE g.account_id = $1 AND l.status = $2
		ORDER BY l.created_at ASC
		LIMIT $3`

	if err := r.db.SelectContext(ctx, &leads, query, accountID, status, limit); err != nil {
		return nil, fmt.Errorf("list actionable leads: %w", err)
	}

	return leads, nil
}

// Create inserts a lead keyed by its post URL and increments the owning
// group's lead counter in the same transaction; both succeed or both roll
// back. When a lead already exists for the URL, the existing lead is
// returned together with domain.ErrDuplicateLead and nothing is written.
func (r *LeadRepository) Create(ctx context.Context, lead *domain.Lead) (*domain.Lead, error) {
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	if lead.Status == "" {
		lead.Status = domain.LeadStatusNew
	}
	if lead.Stage == "" {
		lead.Stage = domain.StageLead
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin lead create: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	insertQuery := `
		INSERT INTO leads (id, post_url, post_id, group_id, author_name, author_handle,
			status, stage, confidence, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING ` + leadSelectList

	var created domain.Lead
	err = tx.GetContext(ctx, &created, insertQuery,
		lead.ID, lead.PostURL, lead.PostID, lead.GroupID,
		lead.AuthorName, lead.AuthorHandle, lead.Status, lead.Stage, lead.Confidence)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			existing, getErr := r.GetByPostURL(ctx, lead.PostURL)
			if getErr != nil {
				return nil, fmt.Errorf("fetch existing lead: %w", getErr)
			}
			return existing, domain.ErrDuplicateLead
		}
		return nil, fmt.Errorf("insert lead: %w", err)
	}

	counterQuery := `
		UPDATE groups
		SET total_leads = total_leads + 1, updated_at = NOW()
		WHERE id = $1`

	if _, err := tx.ExecContext(ctx, counterQuery, lead.GroupID); err != nil {
		return nil, fmt.Errorf("increment group lead counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit lead create: %w", err)
	}

	return &created, nil
}

// UpdateStatus advances a lead's outreach status, validating the transition.
func (r *LeadRepository) UpdateStatus(ctx context.Context, leadID string, status domain.LeadStatus) (*domain.Lead, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidTransition, status)
	}

	lead, err := r.Get(ctx, leadID)
	if err != nil {
		return nil, err
	}

	if !lead.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: lead %s status %s -> %s", domain.ErrInvalidTransition, leadID, lead.Status, status)
	}

	query := `
		UPDATE leads
		SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + leadSelectList

	var updated domain.Lead
	if err := r.db.GetContext(ctx, &updated, query, leadID, status); err != nil {
		return nil, fmt.Errorf("update lead status: %w", err)
	}

	return &updated, nil
}

// UpdateStage advances a lead's buyer-intent stage, validating the
// transition. Stage and status are independent axes.
func (r *LeadRepository) UpdateStage(ctx context.Context, leadID string, stage domain.LeadStage) (*domain.Lead, error) {
	if !stage.IsValid() {
		return nil, fmt.Errorf("%w: unknown stage %q", domain.ErrInvalidTransition, stage)
	}

	lead, err := r.Get(ctx, leadID)
	if err != nil {
		return nil, err
	}

	if !lead.Stage.CanTransitionTo(stage) {
		return nil, fmt.Errorf("%w: lead %s stage %s -> %s", domain.ErrInvalidTransition, leadID, lead.Stage, stage)
	}

	query := `
		UPDATE leads
		SET stage = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + leadSelectList

	var updated domain.Lead
	if err := r.db.GetContext(ctx, &updated, query, leadID, stage); err != nil {
		return nil, fmt.Errorf("update lead stage: %w", err)
	}

	return &updated, nil
}
