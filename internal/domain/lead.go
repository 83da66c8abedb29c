package domain

import "time"

// LeadStatus tracks outreach mechanics for a lead.
type LeadStatus string

const (
	// LeadStatusNew is the initial status after creation.
	LeadStatusNew LeadStatus = "NEW"
	// LeadStatusCommented means a comment was left on the source post.
	LeadStatusCommented LeadStatus = "COMMENTED"
	// LeadStatusDMSent means a direct message was sent to the author.
	LeadStatusDMSent LeadStatus = "DM_SENT"
	// LeadStatusResponded means the author replied.
	LeadStatusResponded LeadStatus = "RESPONDED"
	// LeadStatusConverted is terminal: the lead became a customer.
	LeadStatusConverted LeadStatus = "CONVERTED"
	// LeadStatusArchived is terminal and reachable from any non-terminal status.
	LeadStatusArchived LeadStatus = "ARCHIVED"
)

var leadStatusTransitions = map[LeadStatus][]LeadStatus{
	LeadStatusNew:       {LeadStatusCommented, LeadStatusArchived},
	LeadStatusCommented: {LeadStatusDMSent, LeadStatusArchived},
	LeadStatusDMSent:    {LeadStatusResponded, LeadStatusArchived},
	LeadStatusResponded: {LeadStatusConverted, LeadStatusArchived},
	LeadStatusConverted: {},
	LeadStatusArchived:  {},
}

// IsValid reports whether s is a recognised lead status.
func (s LeadStatus) IsValid() bool {
	_, ok := leadStatusTransitions[s]
	return ok
}

// IsTerminal reports whether no further status transitions are possible.
func (s LeadStatus) IsTerminal() bool {
	return len(leadStatusTransitions[s]) == 0
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s LeadStatus) CanTransitionTo(next LeadStatus) bool {
	for _, t := range leadStatusTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// LeadStage tracks buyer-intent progression, independent of status.
type LeadStage string

const (
	// StageLead is the initial stage.
	StageLead LeadStage = "LEAD"
	// StageInterested means the author expressed interest.
	StageInterested LeadStage = "INTERESTED"
	// StageCTAWhatsApp means the author was invited to WhatsApp.
	StageCTAWhatsApp LeadStage = "CTA_WHATSAPP"
	// StageCTAPhone means the author shared or was asked for a phone number.
	StageCTAPhone LeadStage = "CTA_PHONE"
	// StageConverted is terminal: intent turned into a sale.
	StageConverted LeadStage = "CONVERTED"
	// StageLost is terminal and reachable from any non-terminal stage.
	StageLost LeadStage = "LOST"
)

var leadStageTransitions = map[LeadStage][]LeadStage{
	StageLead:        {StageInterested, StageLost},
	StageInterested:  {StageCTAWhatsApp, StageLost},
	StageCTAWhatsApp: {StageCTAPhone, StageLost},
	StageCTAPhone:    {StageConverted, StageLost},
	StageConverted:   {},
	StageLost:        {},
}

// IsValid reports whether s is a recognised lead stage.
func (s LeadStage) IsValid() bool {
	_, ok := leadStageTransitions[s]
	return ok
}

// IsTerminal reports whether no further stage transitions are possible.
func (s LeadStage) IsTerminal() bool {
	return len(leadStageTransitions[s]) == 0
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s LeadStage) CanTransitionTo(next LeadStage) bool {
	for _, t := range leadStageTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Lead is a qualifying post promoted to an actionable sales record, uniquely
// keyed by the source post's canonical URL. At most one lead exists per post;
// duplicate creation attempts fail closed and never overwrite.
type Lead struct {
	ID           string     `db:"id"            json:"id"`
	PostURL      string     `db:"post_url"      json:"post_url"`
	PostID       *string    `db:"post_id"       json:"post_id,omitempty"`
	GroupID      string     `db:"group_id"      json:"group_id"`
	AuthorName   string     `db:"author_name"   json:"author_name"`
	AuthorHandle string     `db:"author_handle" json:"author_handle"`
	Status       LeadStatus `db:"status"        json:"status"`
	Stage        LeadStage  `db:"stage"         json:"stage"`
	Confidence   float64    `db:"confidence"    json:"confidence"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}
