package conversation_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadscout/leadscout/internal/config"
	"github.com/leadscout/leadscout/internal/conversation"
	"github.com/leadscout/leadscout/internal/domain"
	"github.com/leadscout/leadscout/internal/logger"
)

type fakeContactStore struct {
	contacts map[string]*domain.Contact
	nextID   int
}

func newFakeContactStore() *fakeContactStore {
	return &fakeContactStore{contacts: make(map[string]*domain.Contact)}
}

func (f *fakeContactStore) add(contact *domain.Contact) *domain.Contact {
	f.contacts[contact.ID] = contact
	return contact
}

func (f *fakeContactStore) Get(_ context.Context, contactID string) (*domain.Contact, error) {
	contact, ok := f.contacts[contactID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *contact
	return &clone, nil
}

func (f *fakeContactStore) GetOrCreate(_ context.Context, accountID, externalKey, name string) (*domain.Contact, error) {
	for _, c := range f.contacts {
		if c.AccountID == accountID && c.ExternalKey == externalKey {
			clone := *c
			return &clone, nil
		}
	}

	f.nextID++
	contact := &domain.Contact{
		ID:             fmt.Sprintf("contact-%d", f.nextID),
		AccountID:      accountID,
		ExternalKey:    externalKey,
		Name:           name,
		State:          domain.ConversationNew,
		LastActivityAt: time.Now(),
	}
	f.contacts[contact.ID] = contact
	clone := *contact
	return &clone, nil
}

func (f *fakeContactStore) SetState(_ context.Context, contactID string, state domain.ConversationState) (*domain.Contact, error) {
	contact, ok := f.contacts[contactID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !contact.State.CanTransitionTo(state) {
		return nil, fmt.Errorf("%s to %s: %w", contact.State, state, domain.ErrInvalidTransition)
	}
	contact.State = state
	clone := *contact
	return &clone, nil
}

func (f *fakeContactStore) Touch(_ context.Context, contactID string, at time.Time) error {
	contact, ok := f.contacts[contactID]
	if !ok {
		return domain.ErrNotFound
	}
	contact.LastActivityAt = at
	return nil
}

func (f *fakeContactStore) LinkLead(_ context.Context, contactID, leadID string) error {
	contact, ok := f.contacts[contactID]
	if !ok {
		return domain.ErrNotFound
	}
	contact.LeadID = &leadID
	return nil
}

func (f *fakeContactStore) ListIdleCandidates(_ context.Context, accountID string, olderThan time.Time) ([]domain.Contact, error) {
	var out []domain.Contact
	for _, c := range f.contacts {
		if c.AccountID == accountID && !c.State.IsClosed() && c.LastActivityAt.Before(olderThan) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeContactStore) ListOpenByAccount(_ context.Context, accountID string) ([]domain.Contact, error) {
	var out []domain.Contact
	for _, c := range f.contacts {
		if c.AccountID == accountID && !c.State.IsClosed() {
			out = append(out, *c)
		}
	}
	return out, nil
}

func testService(store *fakeContactStore) *conversation.Service {
	cfg := config.ConversationConfig{
		IdleTimeout:   30 * time.Minute,
		SweepInterval: time.Minute,
	}
	return conversation.NewService(store, cfg, logger.NewNop())
}

func TestService_ObserveInbound_CreatesContact(t *testing.T) {
	store := newFakeContactStore()
	svc := testService(store)

	contact, err := svc.ObserveInbound(context.Background(), "acct-1", "mk-771", "Maria S")
	require.NoError(t, err)

	assert.Equal(t, domain.ConversationNew, contact.State)
	assert.Equal(t, "mk-771", contact.ExternalKey)
}

func TestService_ObserveInbound_MarksAwaitingContactReplied(t *testing.T) {
	store := newFakeContactStore()
	store.add(&domain.Contact{
		ID:             "contact-1",
		AccountID:      "acct-1",
		ExternalKey:    "mk-771",
		State:          domain.ConversationAwaitingReply,
		LastActivityAt: time.Now().Add(-25 * time.Minute),
	})
	svc := testService(store)

	contact, err := svc.ObserveInbound(context.Background(), "acct-1", "mk-771", "Maria S")
	require.NoError(t, err)

	assert.Equal(t, domain.ConversationReplied, contact.State)

	// The idle clock restarts, cancelling any pending closure.
	closed, err := svc.SweepIdle(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Zero(t, closed, "fresh activity should cancel pending closure")
}

func TestService_MarkAwaitingReply(t *testing.T) {
	store := newFakeContactStore()
	store.add(&domain.Contact{
		ID:        "contact-1",
		AccountID: "acct-1",
		State:     domain.ConversationNew,
	})
	svc := testService(store)

	updated, err := svc.MarkAwaitingReply(context.Background(), store.contacts["contact-1"])
	require.NoError(t, err)

	assert.Equal(t, domain.ConversationAwaitingReply, updated.State)
}

func TestService_MarkAwaitingReply_ClosedContactRejected(t *testing.T) {
	store := newFakeContactStore()
	contact := store.add(&domain.Contact{
		ID:        "contact-1",
		AccountID: "acct-1",
		State:     domain.ConversationIdleClosed,
	})
	svc := testService(store)

	_, err := svc.MarkAwaitingReply(context.Background(), contact)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestService_SweepIdle(t *testing.T) {
	store := newFakeContactStore()
	store.add(&domain.Contact{
		ID:             "contact-idle",
		AccountID:      "acct-1",
		State:          domain.ConversationAwaitingReply,
		LastActivityAt: time.Now().Add(-2 * time.Hour),
	})
	store.add(&domain.Contact{
		ID:             "contact-active",
		AccountID:      "acct-1",
		State:          domain.ConversationAwaitingReply,
		LastActivityAt: time.Now().Add(-5 * time.Minute),
	})
	store.add(&domain.Contact{
		ID:             "contact-other-account",
		AccountID:      "acct-2",
		State:          domain.ConversationReplied,
		LastActivityAt: time.Now().Add(-2 * time.Hour),
	})
	svc := testService(store)

	closed, err := svc.SweepIdle(context.Background(), "acct-1")
	require.NoError(t, err)

	assert.Equal(t, 1, closed)
	assert.Equal(t, domain.ConversationIdleClosed, store.contacts["contact-idle"].State)
	assert.Equal(t, domain.ConversationAwaitingReply, store.contacts["contact-active"].State,
		"recently active contact should be untouched")
	assert.Equal(t, domain.ConversationReplied, store.contacts["contact-other-account"].State,
		"sweep must not cross account boundaries")
}

func TestService_LinkLead(t *testing.T) {
	store := newFakeContactStore()
	store.add(&domain.Contact{ID: "contact-1", AccountID: "acct-1"})
	svc := testService(store)

	require.NoError(t, svc.LinkLead(context.Background(), "contact-1", "lead-9"))

	require.NotNil(t, store.contacts["contact-1"].LeadID)
	assert.Equal(t, "lead-9", *store.contacts["contact-1"].LeadID)
}

func TestService_NextOpen(t *testing.T) {
	store := newFakeContactStore()
	store.add(&domain.Contact{ID: "contact-1", AccountID: "acct-1", State: domain.ConversationAwaitingReply})
	store.add(&domain.Contact{ID: "contact-2", AccountID: "acct-1", State: domain.ConversationIdleClosed})
	svc := testService(store)

	open, err := svc.NextOpen(context.Background(), "acct-1")
	require.NoError(t, err)

	require.Len(t, open, 1)
	assert.Equal(t, "contact-1", open[0].ID)
}
