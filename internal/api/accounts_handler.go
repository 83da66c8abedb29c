package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/leadscout/leadscout/internal/domain"
	"github.com/leadscout/leadscout/internal/logger"
)

// sessionUpdateRequest is the dashboard's report after a manual login
// attempt on the account.
type sessionUpdateRequest struct {
	IsLoggedIn bool `json:"is_logged_in"`
	// SessionBlob is the captured authentication state. Required when
	// IsLoggedIn is true.
	SessionBlob []byte `json:"session_blob,omitempty"`
	LoginError  string `json:"login_error,omitempty"`
}

// listAccounts returns the account roster. Session blobs never leave the
// engine.
func (r *Router) listAccounts(c *gin.Context) {
	accounts, err := r.accounts.List(c.Request.Context())
	if err != nil {
		handleRepositoryError(c, err, "accounts", "list")
		return
	}

	c.JSON(http.StatusOK, gin.H{"accounts": accounts, "count": len(accounts)})
}

// updateSession records the outcome of a manual login. A successful login
// stores the fresh session blob, clears the login error, and dismisses any
// open needs-login notification; a failed one clears the blob and keeps the
// account parked.
func (r *Router) updateSession(c *gin.Context) {
	accountID := c.Param("id")

	var req sessionUpdateRequest
	if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindErr.Error()})
		return
	}

	ctx := c.Request.Context()

	if !req.IsLoggedIn {
		if err := r.accounts.MarkLoginFailed(ctx, accountID, req.LoginError); err != nil {
			handleRepositoryError(c, err, "account", "update")
			return
		}
		c.JSON(http.StatusOK, gin.H{"account_id": accountID, "is_logged_in": false})
		return
	}

	if len(req.SessionBlob) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_blob required for a logged-in session"})
		return
	}

	if err := r.accounts.MarkLoggedIn(ctx, accountID, req.SessionBlob, time.Now()); err != nil {
		handleRepositoryError(c, err, "account", "update")
		return
	}

	dismissed, err := r.notifications.DismissForAccount(ctx, accountID, domain.NotificationKindNeedsLogin)
	if err != nil {
		r.logger.Warn("dismiss notifications failed",
			logger.String("account_id", accountID),
			logger.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"account_id":              accountID,
		"is_logged_in":            true,
		"notifications_dismissed": dismissed,
	})
}

// listNotifications returns undismissed notifications for the dashboard.
func (r *Router) listNotifications(c *gin.Context) {
	notifications, err := r.notifications.ListOpen(c.Request.Context())
	if err != nil {
		handleRepositoryError(c, err, "notifications", "list")
		return
	}

	c.JSON(http.StatusOK, gin.H{"notifications": notifications, "count": len(notifications)})
}
