package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/leadscout/leadscout/internal/domain"
)

// createLeadRequest is an agent's (or an operator's) lead submission.
type createLeadRequest struct {
	PostURL      string  `json:"post_url"      binding:"required"`
	GroupID      string  `json:"group_id"      binding:"required"`
	AuthorName   string  `json:"author_name"`
	AuthorHandle string  `json:"author_handle"`
	Confidence   float64 `json:"confidence"`
}

// createLead inserts a lead keyed by post URL. A post that already has a
// lead answers 409 with the existing lead so the caller can reconcile
// instead of double-engaging.
func (r *Router) createLead(c *gin.Context) {
	var req createLeadRequest
	if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindErr.Error()})
		return
	}

	lead := &domain.Lead{
		ID:           uuid.NewString(),
		PostURL:      req.PostURL,
		GroupID:      req.GroupID,
		AuthorName:   req.AuthorName,
		AuthorHandle: req.AuthorHandle,
		Status:       domain.LeadStatusNew,
		Stage:        domain.StageLead,
		Confidence:   req.Confidence,
		CreatedAt:    time.Now().UTC(),
	}

	created, err := r.leads.Create(c.Request.Context(), lead)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateLead) {
			c.JSON(http.StatusConflict, gin.H{
				"error": "lead already exists for post",
				"lead":  created,
			})
			return
		}
		handleRepositoryError(c, err, "lead", "create")
		return
	}

	c.JSON(http.StatusCreated, created)
}

// getLead returns one lead.
func (r *Router) getLead(c *gin.Context) {
	lead, err := r.leads.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleRepositoryError(c, err, "lead", "get")
		return
	}

	c.JSON(http.StatusOK, lead)
}

// updateLeadStageRequest moves a lead's buyer-intent stage.
type updateLeadStageRequest struct {
	Stage domain.LeadStage `json:"stage" binding:"required"`
}

// updateLeadStage advances a lead's stage; illegal transitions answer 422.
func (r *Router) updateLeadStage(c *gin.Context) {
	var req updateLeadStageRequest
	if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindErr.Error()})
		return
	}
	if !req.Stage.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown lead stage"})
		return
	}

	lead, err := r.leads.UpdateStage(c.Request.Context(), c.Param("id"), req.Stage)
	if err != nil {
		handleRepositoryError(c, err, "lead", "update")
		return
	}

	c.JSON(http.StatusOK, lead)
}

// listContacts returns an account's open conversations.
func (r *Router) listContacts(c *gin.Context) {
	accountID := c.Query("account_id")
	if accountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_id query parameter required"})
		return
	}

	contacts, err := r.contacts.ListOpenByAccount(c.Request.Context(), accountID)
	if err != nil {
		handleRepositoryError(c, err, "contacts", "list")
		return
	}

	c.JSON(http.StatusOK, gin.H{"contacts": contacts, "count": len(contacts)})
}
