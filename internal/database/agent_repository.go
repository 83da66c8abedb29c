package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/leadscout/leadscout/internal/domain"
)

const agentSelectList = `id, account_id, status, daily_scrapes, daily_comments, daily_dms,
			current_action, last_error, is_healthy, last_heartbeat, created_at, updated_at`

// AgentRepository manages agent records and their heartbeat history.
type AgentRepository struct {
	db *sqlx.DB
}

// NewAgentRepository creates a new repository.
func NewAgentRepository(db *sqlx.DB) *AgentRepository {
	return &AgentRepository{db: db}
}

// Get returns one agent by ID.
func (r *AgentRepository) Get(ctx context.Context, agentID string) (*domain.Agent, error) {
	var agent domain.Agent
	query := `SELECT ` + agentSelectList + ` FROM agents WHERE id = $1`

	if err := r.db.GetContext(ctx, &agent, query, agentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get agent: %w", err)
	}

	return &agent, nil
}

// GetByAccount returns the agent bound to an account.
func (r *AgentRepository) GetByAccount(ctx context.Context, accountID string) (*domain.Agent, error) {
	var agent domain.Agent
	query := `SELECT ` + agentSelectList + ` FROM agents WHERE account_id = $1`

	if err := r.db.GetContext(ctx, &agent, query, accountID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get agent by account: %w", err)
	}

	return &agent, nil
}

// List returns all registered agents.
func (r *AgentRepository) List(ctx context.Context) ([]domain.Agent, error) {
	var agents []domain.Agent
	query := `SELECT ` + agentSelectList + ` FROM agents ORDER BY created_at`

	if err := r.db.SelectContext(ctx, &agents, query); err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	return agents, nil
}

// Register creates the agent record for an account if it does not exist and
// returns it. One agent per account, never deleted during normal operation.
func (r *AgentRepository) Register(ctx context.Context, accountID string) (*domain.Agent, error) {
	query := `
		INSERT INTO agents (id, account_id, status, is_healthy, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, NOW(), NOW())
		ON CONFLICT (account_id) DO UPDATE SET updated_at = NOW()
		RETURNING ` + agentSelectList

	var agent domain.Agent
	err := r.db.GetContext(ctx, &agent, query, uuid.NewString(), accountID, domain.AgentOffline)
	if err != nil {
		return nil, fmt.Errorf("register agent: %w", err)
	}

	return &agent, nil
}

// ApplyHeartbeat persists a heartbeat onto the agent record and returns the
// updated agent. Health is derived from the presence of an error in the most
// recent report.
func (r *AgentRepository) ApplyHeartbeat(ctx context.Context, hb *domain.Heartbeat) (*domain.Agent, error) {
	reportedAt := hb.ReportedAt
	if reportedAt.IsZero() {
		reportedAt = time.Now()
	}

	query := `
		UPDATE agents
		SET status = $2,
		    daily_scrapes = $3,
		    daily_comments = $4,
		    daily_dms = $5,
		    current_action = $6,
		    last_error = $7,
		    is_healthy = $8,
		    last_heartbeat = $9,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING ` + agentSelectList

	var agent domain.Agent
	err := r.db.GetContext(ctx, &agent, query,
		hb.AgentID, hb.Status, hb.DailyScrapes, hb.DailyComments, hb.DailyDMs,
		hb.CurrentAction, hb.Error, hb.Error == nil, reportedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("apply heartbeat: %w", err)
	}

	return &agent, nil
}

// AppendAuditEntry records one heartbeat in the audit log.
func (r *AgentRepository) AppendAuditEntry(ctx context.Context, hb *domain.Heartbeat) error {
	payload, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}

	query := `
		INSERT INTO agent_audit_log (id, agent_id, status, payload, created_at)
		VALUES ($1, $2, $3, $4, NOW())`

	if _, err := r.db.ExecContext(ctx, query, uuid.NewString(), hb.AgentID, hb.Status, payload); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}

	return nil
}

// SetStatus updates only the agent's status, validating the transition.
func (r *AgentRepository) SetStatus(ctx context.Context, agentID string, status domain.AgentStatus) error {
	agent, err := r.Get(ctx, agentID)
	if err != nil {
		return err
	}

	if !agent.Status.CanTransitionTo(status) {
		return fmt.Errorf("%w: agent %s %s -> %s", domain.ErrInvalidTransition, agentID, agent.Status, status)
	}

	query := `UPDATE agents SET status = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, agentID, status); err != nil {
		return fmt.Errorf("set agent status: %w", err)
	}

	return nil
}
