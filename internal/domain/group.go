package domain

import "time"

// Group is one scrape target assigned to an account's agent. The cursor is
// the sole source of truth for resumable incremental scraping; it only ever
// advances forward within a run.
type Group struct {
	ID                 string    `db:"id"                    json:"id"`
	ExternalKey        string    `db:"external_key"          json:"external_key"`
	Name               string    `db:"name"                  json:"name"`
	URL                string    `db:"url"                   json:"url"`
	AccountID          string    `db:"account_id"            json:"account_id"`
	IsInitialized      bool      `db:"is_initialized"        json:"is_initialized"`
	LastScrapedPostURL *string   `db:"last_scraped_post_url" json:"last_scraped_post_url,omitempty"`
	TotalPosts         int       `db:"total_posts"           json:"total_posts"`
	TotalLeads         int       `db:"total_leads"           json:"total_leads"`
	CreatedAt          time.Time `db:"created_at"            json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"            json:"updated_at"`
}

// Cursor returns the last-scraped-post marker, empty when the group has
// never been scraped.
func (g *Group) Cursor() string {
	if g.LastScrapedPostURL == nil {
		return ""
	}
	return *g.LastScrapedPostURL
}
