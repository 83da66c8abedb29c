// Package dedup remembers which inbound messages have already been handled
// so repeated inbox sweeps do not reprocess the same replies.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leadscout/leadscout/internal/logger"
)

// Tracker marks handled inbound messages in Redis with a TTL. Keys expiring
// is fine: reprocessing an old message only touches the contact's activity
// clock again.
type Tracker struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger logger.Logger
}

// NewTracker creates a dedup tracker.
func NewTracker(client redis.UniversalClient, ttl time.Duration, log logger.Logger) *Tracker {
	return &Tracker{
		client: client,
		ttl:    ttl,
		logger: log,
	}
}

func (t *Tracker) key(accountID, messageID string) string {
	return fmt.Sprintf("seen:inbound:%s:%s", accountID, messageID)
}

// Seen reports whether the message was already handled. Redis errors are
// logged and treated as not seen; a duplicate touch is cheaper than a
// dropped reply.
func (t *Tracker) Seen(ctx context.Context, accountID, messageID string) bool {
	exists, err := t.client.Exists(ctx, t.key(accountID, messageID)).Result()
	if err != nil {
		t.logger.Error("check seen message",
			logger.String("account_id", accountID),
			logger.String("message_id", messageID),
			logger.Error(err))
		return false
	}
	return exists == 1
}

// MarkSeen records the message as handled.
func (t *Tracker) MarkSeen(ctx context.Context, accountID, messageID string) error {
	if err := t.client.Set(ctx, t.key(accountID, messageID), "1", t.ttl).Err(); err != nil {
		return fmt.Errorf("mark message seen: %w", err)
	}
	return nil
}

// Clear forgets one message, forcing the next sweep to reprocess it.
func (t *Tracker) Clear(ctx context.Context, accountID, messageID string) error {
	if err := t.client.Del(ctx, t.key(accountID, messageID)).Err(); err != nil {
		return fmt.Errorf("clear seen message: %w", err)
	}
	return nil
}
