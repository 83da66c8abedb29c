// Package api exposes the control-plane HTTP endpoints consumed by agents
// and the dashboard frontend.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/leadscout/leadscout/internal/config"
	"github.com/leadscout/leadscout/internal/database"
	"github.com/leadscout/leadscout/internal/logger"
	"github.com/leadscout/leadscout/internal/worker"
)

// Router wires the control-plane handlers and their dependencies.
type Router struct {
	accounts      *database.AccountRepository
	agents        *database.AgentRepository
	groups        *database.GroupRepository
	leads         *database.LeadRepository
	contacts      *database.ContactRepository
	notifications *database.NotificationRepository
	maintenance   *worker.Maintenance
	cfg           *config.Config
	logger        logger.Logger
}

// RouterDeps bundles the repositories and services the API serves.
type RouterDeps struct {
	Accounts      *database.AccountRepository
	Agents        *database.AgentRepository
	Groups        *database.GroupRepository
	Leads         *database.LeadRepository
	Contacts      *database.ContactRepository
	Notifications *database.NotificationRepository
	Maintenance   *worker.Maintenance
}

// NewRouter creates the API router.
func NewRouter(deps RouterDeps, cfg *config.Config, log logger.Logger) *Router {
	return &Router{
		accounts:      deps.Accounts,
		agents:        deps.Agents,
		groups:        deps.Groups,
		leads:         deps.Leads,
		contacts:      deps.Contacts,
		notifications: deps.Notifications,
		maintenance:   deps.Maintenance,
		cfg:           cfg,
		logger:        log,
	}
}

// SetupRoutes mounts the /api/v1 routes. Health routes are mounted by the
// server itself.
func (r *Router) SetupRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")

	// Agent-facing
	v1.POST("/agents/heartbeat", r.ingestHeartbeat)
	v1.POST("/leads", r.createLead)

	// Dashboard-facing
	v1.GET("/agents", r.listAgents)
	v1.GET("/accounts", r.listAccounts)
	v1.PUT("/accounts/:id/session", r.updateSession)
	v1.GET("/groups", r.listGroups)
	v1.GET("/groups/:id/leads", r.listGroupLeads)
	v1.POST("/groups/:id/reset", r.resetGroup)
	v1.GET("/leads/:id", r.getLead)
	v1.PATCH("/leads/:id/stage", r.updateLeadStage)
	v1.GET("/contacts", r.listContacts)
	v1.GET("/notifications", r.listNotifications)

	// Operations
	v1.POST("/admin/cleanup", r.bearerAuth(r.cfg.Cleanup.Token), r.triggerCleanup)
}
