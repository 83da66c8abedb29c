package domain_test

import (
	"testing"
	"time"

	"github.com/leadscout/leadscout/internal/domain"
)

func TestConversationState_CanTransitionTo(t *testing.T) {
	testCases := []struct {
		name string
		from domain.ConversationState
		to   domain.ConversationState
		want bool
	}{
		{
			name: "new to awaiting reply",
			from: domain.ConversationNew,
			to:   domain.ConversationAwaitingReply,
			want: true,
		},
		{
			name: "awaiting reply to replied",
			from: domain.ConversationAwaitingReply,
			to:   domain.ConversationReplied,
			want: true,
		},
		{
			name: "replied cannot return to awaiting reply",
			from: domain.ConversationReplied,
			to:   domain.ConversationAwaitingReply,
			want: false,
		},
		{
			name: "replied closes on idle",
			from: domain.ConversationReplied,
			to:   domain.ConversationIdleClosed,
			want: true,
		},
		{
			name: "new closes on idle",
			from: domain.ConversationNew,
			to:   domain.ConversationIdleClosed,
			want: true,
		},
		{
			name: "awaiting reply closes on idle",
			from: domain.ConversationAwaitingReply,
			to:   domain.ConversationIdleClosed,
			want: true,
		},
		{
			name: "new cannot skip to replied",
			from: domain.ConversationNew,
			to:   domain.ConversationReplied,
			want: false,
		},
		{
			name: "idle closed is terminal",
			from: domain.ConversationIdleClosed,
			to:   domain.ConversationNew,
			want: false,
		},
		{
			name: "idle closed cannot reopen to awaiting",
			from: domain.ConversationIdleClosed,
			to:   domain.ConversationAwaitingReply,
			want: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
				t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestConversationState_IsClosed(t *testing.T) {
	if !domain.ConversationIdleClosed.IsClosed() {
		t.Error("expected IDLE_CLOSED to be closed")
	}

	for _, s := range []domain.ConversationState{
		domain.ConversationNew,
		domain.ConversationAwaitingReply,
		domain.ConversationReplied,
	} {
		if s.IsClosed() {
			t.Errorf("expected %s not to be closed", s)
		}
	}
}

func TestConversationState_IsValid(t *testing.T) {
	if !domain.ConversationReplied.IsValid() {
		t.Error("expected REPLIED to be valid")
	}

	if domain.ConversationState("GHOSTED").IsValid() {
		t.Error("expected unknown state to be invalid")
	}
}

func TestContact_IsIdle(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	timeout := 48 * time.Hour

	testCases := []struct {
		name         string
		lastActivity time.Time
		want         bool
	}{
		{
			name:         "active an hour ago",
			lastActivity: now.Add(-time.Hour),
			want:         false,
		},
		{
			name:         "exactly at the timeout boundary",
			lastActivity: now.Add(-timeout),
			want:         false,
		},
		{
			name:         "just past the timeout",
			lastActivity: now.Add(-timeout - time.Second),
			want:         true,
		},
		{
			name:         "long dormant",
			lastActivity: now.Add(-30 * 24 * time.Hour),
			want:         true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := &domain.Contact{LastActivityAt: tc.lastActivity}
			if got := c.IsIdle(now, timeout); got != tc.want {
				t.Errorf("IsIdle() = %v, want %v", got, tc.want)
			}
		})
	}
}
