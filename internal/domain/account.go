// Package domain contains the core domain models for the leadscout
// agent-coordination engine.
package domain

import "time"

// Account is one social-media identity operated by exactly one agent.
// Session fields are mutated only at session create/save/expire boundaries.
type Account struct {
	ID            string     `db:"id"             json:"id"`
	Username      string     `db:"username"       json:"username"`
	CredentialRef string     `db:"credential_ref" json:"credential_ref"`
	IsLoggedIn    bool       `db:"is_logged_in"   json:"is_logged_in"`
	SessionBlob   []byte     `db:"session_blob"   json:"-"`
	LastLoginAt   *time.Time `db:"last_login_at"  json:"last_login_at,omitempty"`
	LoginError    *string    `db:"login_error"    json:"login_error,omitempty"`
	CreatedAt     time.Time  `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"     json:"updated_at"`
}

// HasSession reports whether the account carries a persisted session blob.
func (a *Account) HasSession() bool {
	return len(a.SessionBlob) > 0
}
