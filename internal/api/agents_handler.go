package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/leadscout/leadscout/internal/domain"
	"github.com/leadscout/leadscout/internal/logger"
)

// staleAfterIntervals mirrors the maintenance worker's staleness window.
const staleAfterIntervals = 3

// agentView decorates an agent with the control plane's staleness verdict.
type agentView struct {
	domain.Agent
	Stale bool `json:"stale"`
}

// ingestHeartbeat applies an agent heartbeat and appends it to the audit
// log. The stored health flag is derived from the heartbeat's error field,
// never from a separate claim.
func (r *Router) ingestHeartbeat(c *gin.Context) {
	var hb domain.Heartbeat
	if bindErr := c.ShouldBindJSON(&hb); bindErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindErr.Error()})
		return
	}
	if !hb.Status.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown agent status"})
		return
	}

	agent, err := r.agents.ApplyHeartbeat(c.Request.Context(), &hb)
	if err != nil {
		handleRepositoryError(c, err, "agent", "update")
		return
	}

	if auditErr := r.agents.AppendAuditEntry(c.Request.Context(), &hb); auditErr != nil {
		// The heartbeat is applied; a lost audit row is not worth a retry
		// from the agent's side.
		r.logger.Warn("append audit entry failed",
			logger.String("agent_id", hb.AgentID),
			logger.Error(auditErr))
	}

	c.JSON(http.StatusOK, agent)
}

// listAgents returns all registered agents with staleness flags for the
// dashboard.
func (r *Router) listAgents(c *gin.Context) {
	agents, err := r.agents.List(c.Request.Context())
	if err != nil {
		handleRepositoryError(c, err, "agents", "list")
		return
	}

	maxAge := r.cfg.Health.ReportInterval * staleAfterIntervals
	now := time.Now()

	views := make([]agentView, 0, len(agents))
	for i := range agents {
		views = append(views, agentView{
			Agent: agents[i],
			Stale: agents[i].IsStale(now, maxAge),
		})
	}

	c.JSON(http.StatusOK, gin.H{"agents": views, "count": len(views)})
}
