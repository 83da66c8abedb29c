// Package leads turns classified posts into lead records.
package leads

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leadscout/leadscout/internal/domain"
	"github.com/leadscout/leadscout/internal/logger"
)

// Classifier is the external model collaborator judging whether a post is a
// lead.
type Classifier interface {
	Classify(ctx context.Context, post *domain.Post) (*domain.Classification, error)
}

// LeadStore is the slice of the lead repository the pipeline needs.
type LeadStore interface {
	Create(ctx context.Context, lead *domain.Lead) (*domain.Lead, error)
}

// PostLinker marks a post as having produced a lead.
type PostLinker interface {
	LinkLead(ctx context.Context, postURL, leadID string) error
}

// Stats counts pipeline outcomes since process start, across every runner
// feeding the pipeline.
type Stats struct {
	Classified    int
	Qualified     int
	Created       int
	Duplicates    int
	ClassifyFails int
}

// Pipeline classifies posts and records qualifying ones as leads. Exactly
// one lead can ever exist per post URL; a duplicate create returns the
// existing lead and is not counted as a new one. One pipeline is shared by
// every runner goroutine.
type Pipeline struct {
	classifier Classifier
	store      LeadStore
	linker     PostLinker
	logger     logger.Logger

	mu    sync.Mutex
	stats Stats
}

// NewPipeline creates a lead pipeline.
func NewPipeline(classifier Classifier, store LeadStore, linker PostLinker, log logger.Logger) *Pipeline {
	return &Pipeline{
		classifier: classifier,
		store:      store,
		linker:     linker,
		logger:     log,
	}
}

// HandlePost classifies one post and records it as a lead when it
// qualifies. A classification failure is counted and swallowed so a single
// bad post never stops the scrape walk.
func (p *Pipeline) HandlePost(ctx context.Context, post *domain.Post) error {
	verdict, err := p.classifier.Classify(ctx, post)
	if err != nil {
		p.count(func(s *Stats) { s.ClassifyFails++ })
		p.logger.Warn("post classification failed",
			logger.String("post_url", post.URL),
			logger.Error(err))
		return nil
	}
	p.count(func(s *Stats) { s.Classified++ })

	if !verdict.IsLead {
		return nil
	}
	p.count(func(s *Stats) { s.Qualified++ })

	lead, err := p.record(ctx, post, verdict)
	if err != nil {
		return err
	}

	post.IsLead = true
	post.LeadID = &lead.ID
	return nil
}

// record creates the lead row and links it back to its source post.
func (p *Pipeline) record(ctx context.Context, post *domain.Post, verdict *domain.Classification) (*domain.Lead, error) {
	lead := &domain.Lead{
		ID:           uuid.NewString(),
		PostURL:      post.URL,
		GroupID:      post.GroupID,
		AuthorName:   post.AuthorName,
		AuthorHandle: post.AuthorHandle,
		Status:       domain.LeadStatusNew,
		Stage:        domain.StageLead,
		Confidence:   verdict.Confidence,
		CreatedAt:    time.Now().UTC(),
	}
	if post.ID != "" {
		lead.PostID = &post.ID
	}

	created, err := p.store.Create(ctx, lead)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateLead) {
			p.count(func(s *Stats) { s.Duplicates++ })
			p.logger.Debug("lead already exists for post",
				logger.String("post_url", post.URL),
				logger.String("lead_id", created.ID))
			return created, nil
		}
		return nil, fmt.Errorf("create lead: %w", err)
	}
	p.count(func(s *Stats) { s.Created++ })

	if err := p.linker.LinkLead(ctx, post.URL, created.ID); err != nil {
		p.logger.Warn("link lead to post failed",
			logger.String("post_url", post.URL),
			logger.String("lead_id", created.ID),
			logger.Error(err))
	}

	p.logger.Info("lead created",
		logger.String("lead_id", created.ID),
		logger.String("group_id", post.GroupID),
		logger.String("post_url", post.URL),
		logger.Float64("confidence", verdict.Confidence),
		logger.String("reason", verdict.Reason))

	return created, nil
}

func (p *Pipeline) count(apply func(*Stats)) {
	p.mu.Lock()
	apply(&p.stats)
	p.mu.Unlock()
}

// Stats returns a snapshot of the pipeline's counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
