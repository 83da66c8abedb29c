package domain

import "time"

// Post is one scraped unit of group content. Non-lead posts are removed by
// the retention cleanup after seven days; lead-linked posts are kept.
type Post struct {
	ID           string     `db:"id"            json:"id"`
	GroupID      string     `db:"group_id"      json:"group_id"`
	URL          string     `db:"url"           json:"url"`
	AuthorName   string     `db:"author_name"   json:"author_name"`
	AuthorHandle string     `db:"author_handle" json:"author_handle"`
	Content      string     `db:"content"       json:"content"`
	PostedAt     *time.Time `db:"posted_at"     json:"posted_at,omitempty"`
	IsLead       bool       `db:"is_lead"       json:"is_lead"`
	LeadID       *string    `db:"lead_id"       json:"lead_id,omitempty"`
	ScrapedAt    time.Time  `db:"scraped_at"    json:"scraped_at"`
}

// Classification is the external classifier's verdict for one post or
// inbound message.
type Classification struct {
	IsLead     bool    `json:"is_lead"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}
