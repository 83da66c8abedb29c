// Package quota enforces per-account, per-day action ceilings. Counters live
// in Redis so every process coordinating the same account observes the same
// counts; the check-and-increment is atomic under concurrent callers.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leadscout/leadscout/internal/config"
	"github.com/leadscout/leadscout/internal/domain"
	"github.com/leadscout/leadscout/internal/logger"
)

// keyTTL keeps expired day keys around briefly for inspection, then lets
// Redis reclaim them. Day rollover comes from the date in the key, not TTL.
const keyTTL = 48 * time.Hour

// Result is the outcome of a quota check.
type Result struct {
	Allowed bool
	// Current is the stored count after the check. On denial the count is
	// unchanged: a denied request never touches the counter.
	Current int
	// Limit is the configured daily maximum for the action kind.
	Limit int
}

// checkAndIncrementScript checks headroom and increments in one atomic step,
// so the stored count never exceeds the limit, not even transiently. Returns
// {allowed, count}.
const checkAndIncrementScript = `
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local amount = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
if current + amount > limit then
	return {0, current}
end
current = redis.call("INCRBY", KEYS[1], amount)
redis.call("EXPIRE", KEYS[1], ARGV[3])
return {1, current}
`

// Counts mirrors an account's daily counters, e.g. for heartbeats.
type Counts struct {
	Scrapes  int
	Comments int
	DMs      int
}

// Tracker tracks per-account daily action counts.
type Tracker struct {
	client redis.UniversalClient
	limits config.QuotaConfig
	logger logger.Logger

	// now is replaceable in tests to pin the calendar day.
	now func() time.Time
}

// NewTracker creates a new quota tracker. Maxima are fixed at construction;
// agents cannot mutate them.
func NewTracker(client redis.UniversalClient, limits config.QuotaConfig, log logger.Logger) *Tracker {
	return &Tracker{
		client: client,
		limits: limits,
		logger: log,
		now:    time.Now,
	}
}

// key builds the counter key for one account, kind and local calendar day.
// The date in the key makes the midnight reset implicit: a new day reads
// from a fresh key that starts at zero.
func (t *Tracker) key(accountID string, kind domain.ActionKind) string {
	day := t.now().Local().Format("2006-01-02")
	return fmt.Sprintf("quota:%s:%s:%s", accountID, kind, day)
}

// limitFor returns the configured daily maximum for an action kind.
func (t *Tracker) limitFor(kind domain.ActionKind) int {
	switch kind {
	case domain.ActionScrape:
		return t.limits.MaxDailyScrapes
	case domain.ActionComment:
		return t.limits.MaxDailyComments
	case domain.ActionDM:
		return t.limits.MaxDailyDMs
	default:
		return 0
	}
}

// CheckAndIncrement atomically consumes quota headroom for an action. The
// check and the increment run as one Redis script, so concurrent callers and
// observers reading the raw counter never see a count past the limit.
func (t *Tracker) CheckAndIncrement(ctx context.Context, accountID string, kind domain.ActionKind, amount int) (Result, error) {
	if amount <= 0 {
		amount = 1
	}

	limit := t.limitFor(kind)
	if limit <= 0 {
		return Result{}, fmt.Errorf("no quota limit configured for kind %q", kind)
	}

	key := t.key(accountID, kind)

	raw, err := t.client.Eval(ctx, checkAndIncrementScript,
		[]string{key}, amount, limit, int(keyTTL.Seconds())).Result()
	if err != nil {
		return Result{}, fmt.Errorf("increment quota counter: %w", err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 2 {
		return Result{}, fmt.Errorf("unexpected quota script reply: %v", raw)
	}
	allowed, allowedOK := reply[0].(int64)
	count, countOK := reply[1].(int64)
	if !allowedOK || !countOK {
		return Result{}, fmt.Errorf("unexpected quota script reply: %v", raw)
	}

	if allowed == 0 {
		t.logger.Debug("quota denied",
			logger.String("account_id", accountID),
			logger.String("kind", string(kind)),
			logger.Int("current", int(count)),
			logger.Int("limit", limit))

		return Result{Allowed: false, Current: int(count), Limit: limit}, nil
	}

	return Result{Allowed: true, Current: int(count), Limit: limit}, nil
}

// Peek returns the current count and limit without consuming headroom.
func (t *Tracker) Peek(ctx context.Context, accountID string, kind domain.ActionKind) (Result, error) {
	limit := t.limitFor(kind)
	if limit <= 0 {
		return Result{}, fmt.Errorf("no quota limit configured for kind %q", kind)
	}

	count, err := t.client.Get(ctx, t.key(accountID, kind)).Int()
	if err != nil {
		if err == redis.Nil {
			count = 0
		} else {
			return Result{}, fmt.Errorf("read quota counter: %w", err)
		}
	}

	return Result{Allowed: count < limit, Current: count, Limit: limit}, nil
}

// CountsFor returns all three daily counters for an account.
func (t *Tracker) CountsFor(ctx context.Context, accountID string) (Counts, error) {
	var counts Counts

	for _, entry := range []struct {
		kind domain.ActionKind
		dst  *int
	}{
		{domain.ActionScrape, &counts.Scrapes},
		{domain.ActionComment, &counts.Comments},
		{domain.ActionDM, &counts.DMs},
	} {
		count, err := t.client.Get(ctx, t.key(accountID, entry.kind)).Int()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return Counts{}, fmt.Errorf("read %s counter: %w", entry.kind, err)
		}
		*entry.dst = count
	}

	return counts, nil
}
