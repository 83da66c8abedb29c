package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leadscout/leadscout/internal/logger"
)

// listGroups returns all tracked groups, optionally filtered by account.
func (r *Router) listGroups(c *gin.Context) {
	ctx := c.Request.Context()

	if accountID := c.Query("account_id"); accountID != "" {
		groups, err := r.groups.ListByAccount(ctx, accountID)
		if err != nil {
			handleRepositoryError(c, err, "groups", "list")
			return
		}
		c.JSON(http.StatusOK, gin.H{"groups": groups, "count": len(groups)})
		return
	}

	groups, err := r.groups.List(ctx)
	if err != nil {
		handleRepositoryError(c, err, "groups", "list")
		return
	}

	c.JSON(http.StatusOK, gin.H{"groups": groups, "count": len(groups)})
}

// listGroupLeads returns one group's leads.
func (r *Router) listGroupLeads(c *gin.Context) {
	groupID := c.Param("id")

	if _, err := r.groups.Get(c.Request.Context(), groupID); err != nil {
		handleRepositoryError(c, err, "group", "get")
		return
	}

	leads, err := r.leads.ListByGroup(c.Request.Context(), groupID)
	if err != nil {
		handleRepositoryError(c, err, "leads", "list")
		return
	}

	c.JSON(http.StatusOK, gin.H{"leads": leads, "count": len(leads)})
}

// resetGroup wipes a group's scrape state: posts, leads, cursor, and the
// initialized flag all go in one transaction, so the next run starts a
// fresh historical traversal.
func (r *Router) resetGroup(c *gin.Context) {
	groupID := c.Param("id")

	if err := r.groups.Reset(c.Request.Context(), groupID); err != nil {
		handleRepositoryError(c, err, "group", "reset")
		return
	}

	r.logger.Info("group reset", logger.String("group_id", groupID))
	c.JSON(http.StatusOK, gin.H{"group_id": groupID, "reset": true})
}

// triggerCleanup runs the retention cleanup immediately. Idempotent;
// guarded by the shared-secret bearer token.
func (r *Router) triggerCleanup(c *gin.Context) {
	deleted, err := r.maintenance.Cleanup(c.Request.Context())
	if err != nil {
		handleRepositoryError(c, err, "posts", "clean up")
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
