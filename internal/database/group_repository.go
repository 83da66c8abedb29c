package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/leadscout/leadscout/internal/domain"
)

const groupSelectList = `id, external_key, name, url, account_id, is_initialized,
			last_scraped_post_url, total_posts, total_leads, created_at, updated_at`

// GroupRepository manages scrape targets and their cursors. The cursor
// advance is a compare-and-set: callers pass the cursor they observed, and
// an advance against a cursor that has since moved is rejected. Groups are
// matched by exact external key only.
type GroupRepository struct {
	db *sqlx.DB
}

// NewGroupRepository creates a new repository.
func NewGroupRepository(db *sqlx.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// Get returns one group by ID.
func (r *GroupRepository) Get(ctx context.Context, groupID string) (*domain.Group, error) {
	var group domain.Group
	query := `SELECT ` + groupSelectList + ` FROM groups WHERE id = $1`

	if err := r.db.GetContext(ctx, &group, query, groupID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get group: %w", err)
	}

	return &group, nil
}

// GetByExternalKey returns the group with the given exact external key.
func (r *GroupRepository) GetByExternalKey(ctx context.Context, externalKey string) (*domain.Group, error) {
	var group domain.Group
	query := `SELECT ` + groupSelectList + ` FROM groups WHERE external_key = $1`

	if err := r.db.GetContext(ctx, &group, query, externalKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get group by external key: %w", err)
	}

	return &group, nil
}

// ListByAccount returns the groups assigned to an account.
func (r *GroupRepository) ListByAccount(ctx context.Context, accountID string) ([]domain.Group, error) {
	var groups []domain.Group
	query := `SELECT ` + groupSelectList + ` FROM groups WHERE account_id = $1 ORDER BY name`

	if err := r.db.SelectContext(ctx, &groups, query, accountID); err != nil {
		return nil, fmt.Errorf("list groups by account: %w", err)
	}

	return groups, nil
}

// List returns all groups.
func (r *GroupRepository) List(ctx context.Context) ([]domain.Group, error) {
	var groups []domain.Group
	query := `SELECT ` + groupSelectList + ` FROM groups ORDER BY name`

	if err := r.db.SelectContext(ctx, &groups, query); err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	return groups, nil
}

// AdvanceCursor moves the group's cursor from the observed value to a new
// one. The update only applies when the stored cursor still equals the
// observed value, so a cursor can never regress and concurrent advances for
// the same group are totally ordered. A mismatch returns ErrCursorPersist.
func (r *GroupRepository) AdvanceCursor(ctx context.Context, groupID, observed, next string) error {
	query := `
		UPDATE groups
		SET last_scraped_post_url = $3, updated_at = NOW()
		WHERE id = $1
		  AND last_scraped_post_url IS NOT DISTINCT FROM NULLIF($2, '')`

	result, err := r.db.ExecContext(ctx, query, groupID, observed, next)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCursorPersist, err)
	}

	rows, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return fmt.Errorf("%w: get affected rows: %v", domain.ErrCursorPersist, rowsErr)
	}
	if rows == 0 {
		return fmt.Errorf("%w: cursor for group %s moved past %q", domain.ErrCursorPersist, groupID, observed)
	}

	return nil
}

// MarkInitialized flips the group's initialization flag. The flag guard makes
// the flip happen exactly once; a second call reports ErrNotFound.
func (r *GroupRepository) MarkInitialized(ctx context.Context, groupID string) error {
	query := `
		UPDATE groups
		SET is_initialized = TRUE, updated_at = NOW()
		WHERE id = $1 AND is_initialized = FALSE`

	result, err := r.db.ExecContext(ctx, query, groupID)
	if err != nil {
		return fmt.Errorf("mark initialized: %w", err)
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

// AddPosts increments the group's scraped-post counter.
func (r *GroupRepository) AddPosts(ctx context.Context, groupID string, count int) error {
	query := `
		UPDATE groups
		SET total_posts = total_posts + $2, updated_at = NOW()
		WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, groupID, count); err != nil {
		return fmt.Errorf("add posts: %w", err)
	}

	return nil
}

// Reset transactionally deletes all posts (and their linked leads) for a
// group and clears its cursor, initialization flag and aggregate stats,
// forcing a full re-scrape.
func (r *GroupRepository) Reset(ctx context.Context, groupID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM leads WHERE group_id = $1`, groupID); err != nil {
		return fmt.Errorf("delete group leads: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM posts WHERE group_id = $1`, groupID); err != nil {
		return fmt.Errorf("delete group posts: %w", err)
	}

	query := `
		UPDATE groups
		SET last_scraped_post_url = NULL,
		    is_initialized = FALSE,
		    total_posts = 0,
		    total_leads = 0,
		    updated_at = NOW()
		WHERE id = $1`

	result, err := tx.ExecContext(ctx, query, groupID)
	if err != nil {
		return fmt.Errorf("reset group: %w", err)
	}

	rows, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return fmt.Errorf("get affected rows: %w", rowsErr)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset: %w", err)
	}

	return nil
}
