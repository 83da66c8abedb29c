// Package scheduler decides whether an account's agent may start a run. It
// never starts runs itself; callers evaluate eligibility before every
// attempt and defer to the next tick on any failed check.
package scheduler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/leadscout/leadscout/internal/config"
	"github.com/leadscout/leadscout/internal/domain"
	"github.com/leadscout/leadscout/internal/logger"
	"github.com/leadscout/leadscout/internal/quota"
)

// Slots per hour: peak hours double the run cadence.
const (
	offPeakSlotsPerHour = 1
	peakSlotsPerHour    = 2
)

// Ineligibility reasons. Logged, never escalated.
const (
	ReasonOutsideWindow  = "outside_operating_window"
	ReasonQuotaExhausted = "quota_exhausted"
	ReasonSessionBusy    = "session_busy"
)

// QuotaChecker is the headroom probe the scheduler needs.
type QuotaChecker interface {
	Peek(ctx context.Context, accountID string, kind domain.ActionKind) (quota.Result, error)
}

// SessionProbe tests whether an account's session can be acquired.
type SessionProbe interface {
	IsHeld(ctx context.Context, accountID string) (bool, error)
}

// Decision is the outcome of one eligibility evaluation.
type Decision struct {
	Eligible bool
	// SlotsPerHour is the run cadence for the current hour; only meaningful
	// when Eligible.
	SlotsPerHour int
	// Reason explains an ineligible decision.
	Reason string
	// Quota carries the headroom observed during evaluation.
	Quota quota.Result
}

// NotEligible builds an ineligible decision.
func NotEligible(reason string) Decision {
	return Decision{Eligible: false, Reason: reason}
}

// Scheduler evaluates run eligibility for accounts. One scheduler serves
// every runner goroutine; it holds no mutable state.
type Scheduler struct {
	schedule config.ScheduleConfig
	quotas   QuotaChecker
	sessions SessionProbe
	logger   logger.Logger
}

// New creates a scheduler.
func New(schedule config.ScheduleConfig, quotas QuotaChecker, sessions SessionProbe, log logger.Logger) *Scheduler {
	return &Scheduler{
		schedule: schedule,
		quotas:   quotas,
		sessions: sessions,
		logger:   log,
	}
}

// InWindow reports whether t falls inside the configured operating window.
// The window is half-open: [start, end), with end 24 meaning midnight.
func (s *Scheduler) InWindow(t time.Time) bool {
	hour := t.Hour()
	return hour >= s.schedule.OperatingStartHour && hour < s.schedule.OperatingEndHour
}

// SlotsForHour returns the run cadence for the given hour.
func (s *Scheduler) SlotsForHour(hour int) int {
	if s.schedule.IsPeakHour(hour) {
		return peakSlotsPerHour
	}
	return offPeakSlotsPerHour
}

// Evaluate runs the four eligibility checks for one account and action
// kind, in order: operating window, cadence, quota headroom, session
// acquirability. Any failed check yields an ineligible decision with a
// reason; evaluation errors are real errors, not denials.
func (s *Scheduler) Evaluate(ctx context.Context, now time.Time, accountID string, kind domain.ActionKind) (Decision, error) {
	if !s.InWindow(now) {
		s.logger.Debug("run deferred",
			logger.String("account_id", accountID),
			logger.String("reason", ReasonOutsideWindow),
			logger.Int("hour", now.Hour()))
		return NotEligible(ReasonOutsideWindow), nil
	}

	headroom, err := s.quotas.Peek(ctx, accountID, kind)
	if err != nil {
		return Decision{}, fmt.Errorf("peek quota: %w", err)
	}
	if !headroom.Allowed {
		s.logger.Debug("run deferred",
			logger.String("account_id", accountID),
			logger.String("reason", ReasonQuotaExhausted),
			logger.String("kind", string(kind)),
			logger.Int("current", headroom.Current),
			logger.Int("limit", headroom.Limit))
		decision := NotEligible(ReasonQuotaExhausted)
		decision.Quota = headroom
		return decision, nil
	}

	held, err := s.sessions.IsHeld(ctx, accountID)
	if err != nil {
		return Decision{}, fmt.Errorf("probe session: %w", err)
	}
	if held {
		s.logger.Debug("run deferred",
			logger.String("account_id", accountID),
			logger.String("reason", ReasonSessionBusy))
		return NotEligible(ReasonSessionBusy), nil
	}

	return Decision{
		Eligible:     true,
		SlotsPerHour: s.SlotsForHour(now.Hour()),
		Quota:        headroom,
	}, nil
}

// Jitter returns a randomized startup delay in [0, max). Runs start after a
// jitter delay to avoid synchronized, detectable activity bursts across
// accounts. Safe for concurrent use from every runner.
func (s *Scheduler) Jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}

// ActionDelay returns a randomized pause between consecutive actions inside
// a run, drawn from the configured [min, max] range. Safe for concurrent
// use from every runner.
func (s *Scheduler) ActionDelay() time.Duration {
	min := s.schedule.MinActionDelay
	max := s.schedule.MaxActionDelay
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int64N(int64(max-min)))
}
