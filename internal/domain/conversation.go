package domain

import "time"

// ConversationState tracks one messenger contact through the reply cycle.
// Forward transitions only; any state may close on idle timeout.
type ConversationState string

const (
	// ConversationNew is the initial state for a freshly observed contact.
	ConversationNew ConversationState = "NEW"
	// ConversationAwaitingReply means the agent sent a message and waits.
	ConversationAwaitingReply ConversationState = "AWAITING_REPLY"
	// ConversationReplied means an inbound message was observed.
	ConversationReplied ConversationState = "REPLIED"
	// ConversationIdleClosed is terminal: no activity past the idle timeout.
	ConversationIdleClosed ConversationState = "IDLE_CLOSED"
)

// Transitions move strictly forward through the reply cycle; the only exit
// from REPLIED is the idle-timeout closure.
var conversationTransitions = map[ConversationState][]ConversationState{
	ConversationNew:           {ConversationAwaitingReply, ConversationIdleClosed},
	ConversationAwaitingReply: {ConversationReplied, ConversationIdleClosed},
	ConversationReplied:       {ConversationIdleClosed},
	ConversationIdleClosed:    {},
}

// IsValid reports whether s is a recognised conversation state.
func (s ConversationState) IsValid() bool {
	_, ok := conversationTransitions[s]
	return ok
}

// IsClosed reports whether the conversation is finished.
func (s ConversationState) IsClosed() bool {
	return s == ConversationIdleClosed
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s ConversationState) CanTransitionTo(next ConversationState) bool {
	for _, t := range conversationTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Contact is one messenger counterpart handled by the messaging agent.
type Contact struct {
	ID             string            `db:"id"               json:"id"`
	AccountID      string            `db:"account_id"       json:"account_id"`
	ExternalKey    string            `db:"external_key"     json:"external_key"`
	Name           string            `db:"name"             json:"name"`
	State          ConversationState `db:"state"            json:"state"`
	LeadID         *string           `db:"lead_id"          json:"lead_id,omitempty"`
	LastActivityAt time.Time         `db:"last_activity_at" json:"last_activity_at"`
	CreatedAt      time.Time         `db:"created_at"       json:"created_at"`
	UpdatedAt      time.Time         `db:"updated_at"       json:"updated_at"`
}

// IsIdle reports whether the contact has seen no activity for longer than
// the idle timeout.
func (c *Contact) IsIdle(now time.Time, idleTimeout time.Duration) bool {
	return now.Sub(c.LastActivityAt) > idleTimeout
}

// Notification is a control-plane alert surfaced to the dashboard, e.g. a
// "session expired, needs login" notice for an account.
type Notification struct {
	ID          string     `db:"id"           json:"id"`
	AccountID   string     `db:"account_id"   json:"account_id"`
	Kind        string     `db:"kind"         json:"kind"`
	Message     string     `db:"message"      json:"message"`
	DismissedAt *time.Time `db:"dismissed_at" json:"dismissed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at"   json:"created_at"`
}

// NotificationKindNeedsLogin marks a session-expired notification.
const NotificationKindNeedsLogin = "needs_login"
