package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/leadscout/leadscout/internal/domain"
)

// NotificationRepository manages control-plane notifications, e.g. the
// "session expired, needs login" alerts surfaced to operators.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository creates a new repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Open creates a notification for an account unless an undismissed one of
// the same kind already exists.
func (r *NotificationRepository) Open(ctx context.Context, accountID, kind, message string) error {
	query := `
		INSERT INTO notifications (id, account_id, kind, message, created_at)
		SELECT $1, $2, $3, $4, NOW()
		WHERE NOT EXISTS (
			SELECT 1 FROM notifications
			WHERE account_id = $2 AND kind = $3 AND dismissed_at IS NULL
		)`

	if _, err := r.db.ExecContext(ctx, query, uuid.NewString(), accountID, kind, message); err != nil {
		return fmt.Errorf("open notification: %w", err)
	}

	return nil
}

// DismissForAccount dismisses all open notifications of a kind for an
// account and returns how many were dismissed.
func (r *NotificationRepository) DismissForAccount(ctx context.Context, accountID, kind string) (int64, error) {
	query := `
		UPDATE notifications
		SET dismissed_at = NOW()
		WHERE account_id = $1 AND kind = $2 AND dismissed_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, accountID, kind)
	if err != nil {
		return 0, fmt.Errorf("dismiss notifications: %w", err)
	}

	dismissed, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return 0, fmt.Errorf("get affected rows: %w", rowsErr)
	}

	return dismissed, nil
}

// ListOpen returns undismissed notifications, newest first.
func (r *NotificationRepository) ListOpen(ctx context.Context) ([]domain.Notification, error) {
	var notifications []domain.Notification
	query := `
		SELECT id, account_id, kind, message, dismissed_at, created_at
		FROM notifications
		WHERE dismissed_at IS NULL
		ORDER BY created_at DESC`

	if err := r.db.SelectContext(ctx, &notifications, query); err != nil {
		return nil, fmt.Errorf("list open notifications: %w", err)
	}

	return notifications, nil
}
