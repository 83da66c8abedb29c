package domain

import "time"

// AgentStatus represents the lifecycle state of a running agent.
type AgentStatus string

const (
	// AgentOffline is the initial and terminal state.
	AgentOffline AgentStatus = "OFFLINE"
	// AgentOnline is the only state from which a new run may be scheduled.
	AgentOnline AgentStatus = "ONLINE"
	// AgentScraping means a scraping run is in progress.
	AgentScraping AgentStatus = "SCRAPING"
	// AgentEngaging means an engagement (comment/DM) run is in progress.
	AgentEngaging AgentStatus = "ENGAGING"
	// AgentCoolingDown is the post-run rest period before returning online.
	AgentCoolingDown AgentStatus = "COOLING_DOWN"
	// AgentRateLimited means the quota tracker denied a request; the agent
	// stays parked until the daily reset.
	AgentRateLimited AgentStatus = "RATE_LIMITED"
)

// agentTransitions maps each status to the set of statuses reachable from it.
// RATE_LIMITED is reachable from any active state; OFFLINE from everywhere.
var agentTransitions = map[AgentStatus][]AgentStatus{
	AgentOffline:     {AgentOnline},
	AgentOnline:      {AgentScraping, AgentEngaging, AgentRateLimited, AgentOffline},
	AgentScraping:    {AgentCoolingDown, AgentRateLimited, AgentOffline},
	AgentEngaging:    {AgentCoolingDown, AgentRateLimited, AgentOffline},
	AgentCoolingDown: {AgentOnline, AgentRateLimited, AgentOffline},
	AgentRateLimited: {AgentOnline, AgentOffline},
}

// IsValid reports whether s is a recognised agent status.
func (s AgentStatus) IsValid() bool {
	_, ok := agentTransitions[s]
	return ok
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s AgentStatus) CanTransitionTo(next AgentStatus) bool {
	if s == next {
		return true
	}
	for _, t := range agentTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Agent is one worker bound to exactly one account. Created at registration,
// updated on every heartbeat, never deleted during normal operation.
type Agent struct {
	ID            string      `db:"id"             json:"id"`
	AccountID     string      `db:"account_id"     json:"account_id"`
	Status        AgentStatus `db:"status"         json:"status"`
	DailyScrapes  int         `db:"daily_scrapes"  json:"daily_scrapes"`
	DailyComments int         `db:"daily_comments" json:"daily_comments"`
	DailyDMs      int         `db:"daily_dms"      json:"daily_dms"`
	CurrentAction *string     `db:"current_action" json:"current_action,omitempty"`
	LastError     *string     `db:"last_error"     json:"last_error,omitempty"`
	IsHealthy     bool        `db:"is_healthy"     json:"is_healthy"`
	LastHeartbeat *time.Time  `db:"last_heartbeat" json:"last_heartbeat,omitempty"`
	CreatedAt     time.Time   `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at"     json:"updated_at"`
}

// IsStale reports whether the agent's last heartbeat is older than maxAge.
// An agent that never reported is always stale. Staleness is a control-plane
// judgment over timestamps, not something the agent asserts about itself.
func (a *Agent) IsStale(now time.Time, maxAge time.Duration) bool {
	if a.LastHeartbeat == nil {
		return true
	}
	return now.Sub(*a.LastHeartbeat) > maxAge
}

// ActionKind identifies a quota-governed action type.
type ActionKind string

const (
	// ActionScrape is a group scrape pass.
	ActionScrape ActionKind = "scrape"
	// ActionComment is a comment posted on a lead's post.
	ActionComment ActionKind = "comment"
	// ActionDM is a direct message sent to a lead's author.
	ActionDM ActionKind = "dm"
)

// IsValid reports whether k is a recognised action kind.
func (k ActionKind) IsValid() bool {
	switch k {
	case ActionScrape, ActionComment, ActionDM:
		return true
	default:
		return false
	}
}

// Heartbeat is one status push from an agent to the control plane.
type Heartbeat struct {
	AgentID       string      `json:"agent_id"       binding:"required"`
	Status        AgentStatus `json:"status"         binding:"required"`
	DailyScrapes  int         `json:"daily_scrapes"`
	DailyComments int         `json:"daily_comments"`
	DailyDMs      int         `json:"daily_dms"`
	CurrentAction *string     `json:"current_action,omitempty"`
	Error         *string     `json:"error,omitempty"`
	ReportedAt    time.Time   `json:"reported_at"`
}
