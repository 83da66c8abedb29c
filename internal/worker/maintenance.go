// Package worker runs the scheduled maintenance jobs: post retention
// cleanup, conversation idle sweeps, and stale-agent detection.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/leadscout/leadscout/internal/config"
	"github.com/leadscout/leadscout/internal/conversation"
	"github.com/leadscout/leadscout/internal/domain"
	"github.com/leadscout/leadscout/internal/logger"
)

const (
	jobTimeout  = 2 * time.Minute
	hoursPerDay = 24
	// staleAfterIntervals is how many missed report intervals mark an agent
	// stale.
	staleAfterIntervals = 3
)

// PostCleaner deletes expired non-lead posts.
type PostCleaner interface {
	DeleteOlderThan(ctx context.Context, retention time.Duration) (int64, error)
}

// AgentLister is the repository slice the staleness check needs.
type AgentLister interface {
	List(ctx context.Context) ([]domain.Agent, error)
	SetStatus(ctx context.Context, agentID string, status domain.AgentStatus) error
}

// Maintenance owns the cron schedule for background upkeep.
type Maintenance struct {
	cron   *cron.Cron
	posts  PostCleaner
	convos *conversation.Service
	agents AgentLister
	cfg    *config.Config
	logger logger.Logger

	started bool
	mu      sync.Mutex
}

// NewMaintenance creates the maintenance worker.
func NewMaintenance(posts PostCleaner, convos *conversation.Service, agents AgentLister, cfg *config.Config, log logger.Logger) *Maintenance {
	return &Maintenance{
		cron:   cron.New(),
		posts:  posts,
		convos: convos,
		agents: agents,
		cfg:    cfg,
		logger: log,
	}
}

// Start registers and starts the cron jobs.
func (m *Maintenance) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}

	if _, err := m.cron.AddFunc(m.cfg.Cleanup.Schedule, m.runCleanup); err != nil {
		return fmt.Errorf("schedule cleanup job: %w", err)
	}

	sweepSpec := fmt.Sprintf("@every %s", m.cfg.Conversation.SweepInterval)
	if _, err := m.cron.AddFunc(sweepSpec, m.runIdleSweep); err != nil {
		return fmt.Errorf("schedule idle sweep job: %w", err)
	}

	staleSpec := fmt.Sprintf("@every %s", m.cfg.Health.ReportInterval)
	if _, err := m.cron.AddFunc(staleSpec, m.runStaleCheck); err != nil {
		return fmt.Errorf("schedule stale check job: %w", err)
	}

	m.cron.Start()
	m.started = true
	m.logger.Info("maintenance worker started",
		logger.String("cleanup_schedule", m.cfg.Cleanup.Schedule),
		logger.Duration("sweep_interval", m.cfg.Conversation.SweepInterval))
	return nil
}

// Stop stops the cron scheduler and waits for running jobs.
func (m *Maintenance) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}

	stopCtx := m.cron.Stop()
	<-stopCtx.Done()
	m.started = false
	m.logger.Info("maintenance worker stopped")
}

func (m *Maintenance) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if _, err := m.Cleanup(ctx); err != nil {
		m.logger.Error("post cleanup failed", logger.Error(err))
	}
}

// Cleanup deletes non-lead posts older than the retention window. Also
// invoked directly by the control-plane cleanup endpoint; safe to re-run.
func (m *Maintenance) Cleanup(ctx context.Context) (int64, error) {
	retention := time.Duration(m.cfg.Cleanup.RetentionDays) * hoursPerDay * time.Hour

	deleted, err := m.posts.DeleteOlderThan(ctx, retention)
	if err != nil {
		return 0, fmt.Errorf("delete expired posts: %w", err)
	}

	if deleted > 0 {
		m.logger.Info("expired posts cleaned up",
			logger.Int64("deleted", deleted),
			logger.Int("retention_days", m.cfg.Cleanup.RetentionDays))
	}
	return deleted, nil
}

func (m *Maintenance) runIdleSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	for _, account := range m.cfg.Accounts {
		if _, err := m.convos.SweepIdle(ctx, account.ID); err != nil {
			m.logger.Error("idle sweep failed",
				logger.String("account_id", account.ID),
				logger.Error(err))
		}
	}
}

// runStaleCheck marks agents offline when their heartbeat has gone quiet
// for several report intervals. The agent's own claims are ignored; only
// heartbeat timestamps count.
func (m *Maintenance) runStaleCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	agents, err := m.agents.List(ctx)
	if err != nil {
		m.logger.Error("list agents for stale check failed", logger.Error(err))
		return
	}

	maxAge := m.cfg.Health.ReportInterval * staleAfterIntervals
	now := time.Now()

	for i := range agents {
		agent := &agents[i]
		if agent.Status == domain.AgentOffline || !agent.IsStale(now, maxAge) {
			continue
		}

		m.logger.Warn("agent heartbeat stale, marking offline",
			logger.String("agent_id", agent.ID),
			logger.String("account_id", agent.AccountID),
			logger.Duration("max_age", maxAge))

		if err := m.agents.SetStatus(ctx, agent.ID, domain.AgentOffline); err != nil {
			m.logger.Error("mark stale agent offline failed",
				logger.String("agent_id", agent.ID),
				logger.Error(err))
		}
	}
}
