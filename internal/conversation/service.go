// Package conversation drives the per-contact reply state machine for the
// messaging agent.
package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/leadscout/leadscout/internal/config"
	"github.com/leadscout/leadscout/internal/domain"
	"github.com/leadscout/leadscout/internal/logger"
)

// ContactStore is the slice of the contact repository the service needs.
type ContactStore interface {
	Get(ctx context.Context, contactID string) (*domain.Contact, error)
	GetOrCreate(ctx context.Context, accountID, externalKey, name string) (*domain.Contact, error)
	SetState(ctx context.Context, contactID string, state domain.ConversationState) (*domain.Contact, error)
	Touch(ctx context.Context, contactID string, at time.Time) error
	LinkLead(ctx context.Context, contactID, leadID string) error
	ListIdleCandidates(ctx context.Context, accountID string, olderThan time.Time) ([]domain.Contact, error)
	ListOpenByAccount(ctx context.Context, accountID string) ([]domain.Contact, error)
}

// Service advances contacts through NEW, AWAITING_REPLY and REPLIED, and
// closes them after the idle timeout. All transitions go through the
// domain's validation; an illegal move surfaces ErrInvalidTransition.
//
// An agent handles one contact at a time. The per-account mutex serializes
// the in-focus contact work so an idle sweep and a live run never race on
// the same conversation.
type Service struct {
	contacts ContactStore
	cfg      config.ConversationConfig
	logger   logger.Logger
	now      func() time.Time

	mu    sync.Mutex
	focus map[string]*sync.Mutex
}

// NewService creates a conversation service.
func NewService(contacts ContactStore, cfg config.ConversationConfig, log logger.Logger) *Service {
	return &Service{
		contacts: contacts,
		cfg:      cfg,
		logger:   log,
		now:      time.Now,
		focus:    make(map[string]*sync.Mutex),
	}
}

// accountLock returns the serialization mutex for one account.
func (s *Service) accountLock(accountID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.focus[accountID]
	if !ok {
		lock = &sync.Mutex{}
		s.focus[accountID] = lock
	}
	return lock
}

// ObserveInbound records an inbound message from a contact. The contact is
// created on first sight; an open conversation moves to REPLIED and its
// idle clock restarts, which cancels any pending idle closure.
func (s *Service) ObserveInbound(ctx context.Context, accountID, externalKey, name string) (*domain.Contact, error) {
	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	contact, err := s.contacts.GetOrCreate(ctx, accountID, externalKey, name)
	if err != nil {
		return nil, fmt.Errorf("get or create contact: %w", err)
	}

	if contact.State == domain.ConversationAwaitingReply {
		contact, err = s.contacts.SetState(ctx, contact.ID, domain.ConversationReplied)
		if err != nil {
			return nil, fmt.Errorf("mark contact replied: %w", err)
		}
		s.logger.Info("contact replied",
			logger.String("contact_id", contact.ID),
			logger.String("account_id", accountID))
	}

	if err := s.contacts.Touch(ctx, contact.ID, s.now()); err != nil {
		return nil, fmt.Errorf("touch contact: %w", err)
	}
	contact.LastActivityAt = s.now()

	return contact, nil
}

// MarkAwaitingReply records that the agent sent a message to the contact
// and now waits for an answer.
func (s *Service) MarkAwaitingReply(ctx context.Context, contact *domain.Contact) (*domain.Contact, error) {
	lock := s.accountLock(contact.AccountID)
	lock.Lock()
	defer lock.Unlock()

	updated, err := s.contacts.SetState(ctx, contact.ID, domain.ConversationAwaitingReply)
	if err != nil {
		return nil, fmt.Errorf("mark contact awaiting reply: %w", err)
	}
	if err := s.contacts.Touch(ctx, updated.ID, s.now()); err != nil {
		return nil, fmt.Errorf("touch contact: %w", err)
	}
	return updated, nil
}

// LinkLead attaches a contact to the lead it originated from.
func (s *Service) LinkLead(ctx context.Context, contactID, leadID string) error {
	if err := s.contacts.LinkLead(ctx, contactID, leadID); err != nil {
		return fmt.Errorf("link contact lead: %w", err)
	}
	return nil
}

// NextOpen returns the account's open contacts ordered by most recent
// activity. Callers pick the head as the single in-focus conversation.
func (s *Service) NextOpen(ctx context.Context, accountID string) ([]domain.Contact, error) {
	contacts, err := s.contacts.ListOpenByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list open contacts: %w", err)
	}
	return contacts, nil
}

// SweepIdle closes every contact whose last activity is older than the idle
// timeout. Contacts that saw activity since being listed fail the state
// transition check and are skipped, not errors.
func (s *Service) SweepIdle(ctx context.Context, accountID string) (int, error) {
	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	cutoff := s.now().Add(-s.cfg.IdleTimeout)
	candidates, err := s.contacts.ListIdleCandidates(ctx, accountID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list idle contacts: %w", err)
	}

	closed := 0
	for i := range candidates {
		contact := &candidates[i]

		// Recheck under the lock; an inbound message may have landed
		// between listing and closing.
		current, err := s.contacts.Get(ctx, contact.ID)
		if err != nil {
			s.logger.Warn("idle sweep reload failed",
				logger.String("contact_id", contact.ID),
				logger.Error(err))
			continue
		}
		if !current.IsIdle(s.now(), s.cfg.IdleTimeout) || current.State.IsClosed() {
			continue
		}

		if _, err := s.contacts.SetState(ctx, contact.ID, domain.ConversationIdleClosed); err != nil {
			s.logger.Warn("idle close failed",
				logger.String("contact_id", contact.ID),
				logger.Error(err))
			continue
		}
		closed++
	}

	if closed > 0 {
		s.logger.Info("idle conversations closed",
			logger.String("account_id", accountID),
			logger.Int("closed", closed))
	}
	return closed, nil
}
