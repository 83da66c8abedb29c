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

const postSelectList = `id, group_id, url, author_name, author_handle, content,
			posted_at, is_lead, lead_id, scraped_at`

// PostRepository manages scraped posts.
type PostRepository struct {
	db *sqlx.DB
}

// NewPostRepository creates a new repository.
func NewPostRepository(db *sqlx.DB) *PostRepository {
	return &PostRepository{db: db}
}

// GetByURL returns the post with the given canonical URL.
func (r *PostRepository) GetByURL(ctx context.Context, url string) (*domain.Post, error) {
	var post domain.Post
	query := `SELECT ` + postSelectList + ` FROM posts WHERE url = $1`

	if err := r.db.GetContext(ctx, &post, query, url); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get post by url: %w", err)
	}

	return &post, nil
}

// Upsert stores a scraped post keyed by canonical URL. Re-scraping the
// frontier post after crash recovery refreshes content without duplicating
// the row.
func (r *PostRepository) Upsert(ctx context.Context, post *domain.Post) error {
	if post.ID == "" {
		post.ID = uuid.NewString()
	}

	query := `
		INSERT INTO posts (id, group_id, url, author_name, author_handle, content,
			posted_at, is_lead, scraped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (url) DO UPDATE SET
			content = EXCLUDED.content,
			is_lead = posts.is_lead OR EXCLUDED.is_lead,
			scraped_at = NOW()
		RETURNING id`

	err := r.db.GetContext(ctx, &post.ID, query,
		post.ID, post.GroupID, post.URL, post.AuthorName, post.AuthorHandle,
		post.Content, post.PostedAt, post.IsLead)
	if err != nil {
		return fmt.Errorf("upsert post: %w", err)
	}

	return nil
}

// LinkLead marks a post as a lead and records the lead it produced.
func (r *PostRepository) LinkLead(ctx context.Context, postURL, leadID string) error {
	query := `
		UPDATE posts
		SET is_lead = TRUE, lead_id = $2
		WHERE url = $1`

	result, err := r.db.ExecContext(ctx, query, postURL, leadID)
	if err != nil {
		return fmt.Errorf("link lead: %w", err)
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

// DeleteOlderThan removes posts scraped before the retention boundary that
// are not linked to a lead. Idempotent and safe to re-run.
func (r *PostRepository) DeleteOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	query := `
		DELETE FROM posts
		WHERE scraped_at < NOW() - $1::interval
		  AND lead_id IS NULL
		  AND is_lead = FALSE`

	result, err := r.db.ExecContext(ctx, query, retention.String())
	if err != nil {
		return 0, fmt.Errorf("delete old posts: %w", err)
	}

	deleted, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return 0, fmt.Errorf("get affected rows: %w", rowsErr)
	}

	return deleted, nil
}
