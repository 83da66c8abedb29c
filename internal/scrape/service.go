// Package scrape walks a group's feed through an external browser-automation
// driver and keeps the per-group scrape cursor moving forward.
package scrape

import (
	"context"
	"errors"
	"fmt"

	"github.com/leadscout/leadscout/internal/config"
	"github.com/leadscout/leadscout/internal/domain"
	"github.com/leadscout/leadscout/internal/logger"
	"github.com/leadscout/leadscout/internal/session"
)

// Driver is the external browser-automation collaborator. FetchSince
// returns posts strictly newer than the cursor post URL, oldest first, at
// most limit of them. An empty cursor means "from the beginning of the
// visible feed". A nil slice means the frontier is caught up.
type Driver interface {
	FetchSince(ctx context.Context, handle *session.Handle, group *domain.Group, cursor string, limit int) ([]domain.Post, error)
}

// GroupStore is the slice of the group repository the cursor service needs.
type GroupStore interface {
	AdvanceCursor(ctx context.Context, groupID, observed, next string) error
	MarkInitialized(ctx context.Context, groupID string) error
	AddPosts(ctx context.Context, groupID string, count int) error
}

// PostStore persists scraped posts.
type PostStore interface {
	Upsert(ctx context.Context, post *domain.Post) error
}

// Handler receives each persisted post, in feed order. Handler errors are
// logged and do not stop the walk; the post stays persisted either way.
type Handler interface {
	HandlePost(ctx context.Context, post *domain.Post) error
}

// Result summarizes one scrape run over a single group.
type Result struct {
	GroupID      string
	Fetched      int
	Persisted    int
	HandlerFails int
	// Cursor is the post URL the group cursor was advanced to. Empty when
	// the run observed nothing new.
	Cursor string
	// Initialized is true when this run completed the group's first full
	// historical traversal.
	Initialized bool
}

// Service runs cursor-driven scrapes. A group's first run walks a bounded
// slice of history; every later run resumes from the persisted cursor and
// only sees newer posts.
type Service struct {
	driver Driver
	groups GroupStore
	posts  PostStore
	cfg    config.ScrapeConfig
	logger logger.Logger
}

// NewService creates a scrape service.
func NewService(driver Driver, groups GroupStore, posts PostStore, cfg config.ScrapeConfig, log logger.Logger) *Service {
	return &Service{
		driver: driver,
		groups: groups,
		posts:  posts,
		cfg:    cfg,
		logger: log,
	}
}

// Run scrapes one group. On a partial failure the cursor is still advanced
// to the newest post that was actually persisted, so the next run resumes
// there instead of refetching. A cursor that cannot be persisted aborts the
// run with ErrCursorPersist wrapped in the returned error.
func (s *Service) Run(ctx context.Context, handle *session.Handle, group *domain.Group, handler Handler) (*Result, error) {
	budget := s.cfg.BatchLimit
	if !group.IsInitialized {
		budget = s.cfg.InitialScrapeLimit
	}

	result := &Result{GroupID: group.ID}
	startCursor := group.Cursor()
	frontier := startCursor
	caughtUp := false

	var walkErr error
	for result.Fetched < budget {
		remaining := budget - result.Fetched
		if remaining > s.cfg.BatchLimit {
			remaining = s.cfg.BatchLimit
		}

		batch, err := s.driver.FetchSince(ctx, handle, group, frontier, remaining)
		if err != nil {
			walkErr = fmt.Errorf("fetch posts: %w", err)
			break
		}
		if len(batch) == 0 {
			caughtUp = true
			break
		}

		result.Fetched += len(batch)

		stop := false
		for i := range batch {
			post := &batch[i]
			post.GroupID = group.ID

			if err := s.posts.Upsert(ctx, post); err != nil {
				// Nothing past this post is persisted; resume here next run.
				walkErr = fmt.Errorf("persist post: %w", err)
				stop = true
				break
			}
			result.Persisted++
			frontier = post.URL

			if handler == nil {
				continue
			}
			if err := handler.HandlePost(ctx, post); err != nil {
				result.HandlerFails++
				s.logger.Warn("post handler failed",
					logger.String("group_id", group.ID),
					logger.String("post_url", post.URL),
					logger.Error(err))
			}
		}
		if stop {
			break
		}
	}

	// The bounded first traversal is complete once the budget is spent or
	// the feed head is reached, whichever comes first.
	traversalDone := walkErr == nil && (caughtUp || result.Fetched >= budget)

	if err := s.finish(ctx, group, startCursor, frontier, traversalDone, result); err != nil {
		return result, err
	}
	return result, walkErr
}

// finish advances the persisted cursor to the run's frontier and flips the
// initialized flag after a first traversal that reached the feed head.
func (s *Service) finish(ctx context.Context, group *domain.Group, startCursor, frontier string, traversalDone bool, result *Result) error {
	if frontier != startCursor {
		if err := s.groups.AdvanceCursor(ctx, group.ID, startCursor, frontier); err != nil {
			if errors.Is(err, domain.ErrCursorPersist) {
				s.logger.Error("cursor persist failed, aborting run",
					logger.String("group_id", group.ID),
					logger.String("cursor", frontier),
					logger.Error(err))
			}
			return fmt.Errorf("advance cursor: %w", err)
		}
		result.Cursor = frontier

		if err := s.groups.AddPosts(ctx, group.ID, result.Persisted); err != nil {
			s.logger.Warn("update group post count failed",
				logger.String("group_id", group.ID),
				logger.Error(err))
		}
	}

	if !group.IsInitialized && traversalDone {
		if err := s.groups.MarkInitialized(ctx, group.ID); err != nil {
			return fmt.Errorf("mark group initialized: %w", err)
		}
		result.Initialized = true
		s.logger.Info("group initial scrape complete",
			logger.String("group_id", group.ID),
			logger.Int("persisted", result.Persisted))
	}

	return nil
}
