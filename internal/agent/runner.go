// Package agent runs the per-account automation loop: eligibility check,
// session acquisition, paced scrape or engagement work, heartbeat.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/leadscout/leadscout/internal/config"
	"github.com/leadscout/leadscout/internal/conversation"
	"github.com/leadscout/leadscout/internal/dedup"
	"github.com/leadscout/leadscout/internal/domain"
	"github.com/leadscout/leadscout/internal/leads"
	"github.com/leadscout/leadscout/internal/logger"
	"github.com/leadscout/leadscout/internal/quota"
	"github.com/leadscout/leadscout/internal/scheduler"
	"github.com/leadscout/leadscout/internal/scrape"
	"github.com/leadscout/leadscout/internal/session"
)

const (
	tickInterval      = time.Minute
	actionableBatch   = 5
	secondsPerMinute  = 60
	defaultActionRate = 4 // actions per minute when unconfigured
)

// Inbound is one unread message observed in the account's inbox.
type Inbound struct {
	MessageID   string `json:"message_id"`
	ExternalKey string `json:"external_key"`
	Name        string `json:"name"`
	// LeadPostURL links the sender back to a lead, when known.
	LeadPostURL string `json:"lead_post_url,omitempty"`
}

// Engager performs outward actions through the live browser session. It is
// the external automation collaborator, like scrape.Driver.
type Engager interface {
	CommentOnLead(ctx context.Context, handle *session.Handle, lead *domain.Lead) error
	SendDM(ctx context.Context, handle *session.Handle, lead *domain.Lead) error
	FetchInbound(ctx context.Context, handle *session.Handle) ([]Inbound, error)
}

// LeadStore is the slice of the lead repository the runner needs.
type LeadStore interface {
	ListActionable(ctx context.Context, accountID string, status domain.LeadStatus, limit int) ([]domain.Lead, error)
	GetByPostURL(ctx context.Context, postURL string) (*domain.Lead, error)
	UpdateStatus(ctx context.Context, leadID string, status domain.LeadStatus) (*domain.Lead, error)
}

// GroupLister lists the groups an account scrapes.
type GroupLister interface {
	ListByAccount(ctx context.Context, accountID string) ([]domain.Group, error)
}

// AgentStore is the slice of the agent repository the runner needs.
type AgentStore interface {
	Register(ctx context.Context, accountID string) (*domain.Agent, error)
	SetStatus(ctx context.Context, agentID string, status domain.AgentStatus) error
}

// Notifier opens control-plane notifications.
type Notifier interface {
	Open(ctx context.Context, accountID, kind, message string) error
}

// RunReporter delivers a heartbeat immediately after a run attempt, outside
// the reporter's interval loop.
type RunReporter interface {
	ReportNow(ctx context.Context) error
}

// Runner drives one account's agent. Runs alternate between a scrape pass
// over the account's groups and an engagement pass (comments, DMs, inbox);
// every action is quota-checked and human-paced.
type Runner struct {
	accountID string
	agentID   string

	schedule  config.ScheduleConfig
	scheduler *scheduler.Scheduler
	quotas    *quota.Tracker
	sessions  *session.Store
	scraper   *scrape.Service
	pipeline  scrape.Handler
	convos    *conversation.Service
	engager   Engager
	seen      *dedup.Tracker
	leads     LeadStore
	groups    GroupLister
	agents    AgentStore
	notifier  Notifier
	reporter  RunReporter
	logger    logger.Logger
	tracer    trace.Tracer

	limiter *rate.Limiter

	mu            sync.Mutex
	status        domain.AgentStatus
	currentAction *string
	lastError     *string
	lastRunAt     time.Time
	engageNext    bool

	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
	startMu  sync.Mutex
}

// RunnerDeps bundles the collaborators a runner needs.
type RunnerDeps struct {
	Scheduler *scheduler.Scheduler
	Quotas    *quota.Tracker
	Sessions  *session.Store
	Scraper   *scrape.Service
	Pipeline  scrape.Handler
	Convos    *conversation.Service
	Engager   Engager
	Seen      *dedup.Tracker
	Leads     LeadStore
	Groups    GroupLister
	Agents    AgentStore
	Notifier  Notifier
	Logger    logger.Logger
}

// NewRunner creates a runner for one roster account.
func NewRunner(accountID string, schedule config.ScheduleConfig, deps RunnerDeps) *Runner {
	perMinute := schedule.ActionsPerMinute
	if perMinute <= 0 {
		perMinute = defaultActionRate
	}

	return &Runner{
		accountID: accountID,
		schedule:  schedule,
		scheduler: deps.Scheduler,
		quotas:    deps.Quotas,
		sessions:  deps.Sessions,
		scraper:   deps.Scraper,
		pipeline:  deps.Pipeline,
		convos:    deps.Convos,
		engager:   deps.Engager,
		seen:      deps.Seen,
		leads:     deps.Leads,
		groups:    deps.Groups,
		agents:    deps.Agents,
		notifier:  deps.Notifier,
		logger:    deps.Logger.With(logger.String("account_id", accountID)),
		tracer:    otel.Tracer("agent-runner"),
		limiter:   rate.NewLimiter(rate.Limit(float64(perMinute)/secondsPerMinute), 1),
		status:    domain.AgentOffline,
		stopChan:  make(chan struct{}),
	}
}

// Start registers the agent and begins the run loop.
func (r *Runner) Start(ctx context.Context) error {
	r.startMu.Lock()
	if r.started {
		r.startMu.Unlock()
		return nil
	}
	r.started = true
	r.startMu.Unlock()

	agent, err := r.agents.Register(ctx, r.accountID)
	if err != nil {
		return fmt.Errorf("register agent: %w", err)
	}
	r.agentID = agent.ID
	r.setStatus(ctx, domain.AgentOnline)

	r.wg.Add(1)
	go r.loop(ctx)

	r.logger.Info("agent runner started", logger.String("agent_id", r.agentID))
	return nil
}

// Stop gracefully stops the run loop and marks the agent offline. Safe to
// call more than once.
func (r *Runner) Stop() {
	r.startMu.Lock()
	if !r.started {
		r.startMu.Unlock()
		return
	}
	r.started = false
	r.startMu.Unlock()

	close(r.stopChan)
	r.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.setStatus(ctx, domain.AgentOffline)

	r.logger.Info("agent runner stopped")
}

// AgentID returns the registered agent's identifier.
func (r *Runner) AgentID() string {
	return r.agentID
}

// SetReporter attaches the health reporter invoked after every run attempt.
// Must be called before Start.
func (r *Runner) SetReporter(reporter RunReporter) {
	r.reporter = reporter
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.tick(ctx)
		case <-r.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick runs at most one attempt per cadence slot. Peak hours halve the gap
// between runs. Runs are only scheduled from ONLINE; a RATE_LIMITED agent
// recovers once quota headroom returns, and a parked OFFLINE agent comes
// back only after the operator stores a fresh session.
func (r *Runner) tick(ctx context.Context) {
	now := time.Now()

	r.mu.Lock()
	status := r.status
	r.mu.Unlock()

	switch status {
	case domain.AgentOnline, domain.AgentRateLimited:
	case domain.AgentOffline:
		ok, err := r.sessions.HasSession(ctx, r.accountID)
		if err != nil {
			r.logger.Warn("session probe failed", logger.Error(err))
			return
		}
		if !ok {
			return
		}
		r.clearError()
		r.setStatus(ctx, domain.AgentOnline)
	default:
		return
	}

	decision, err := r.scheduler.Evaluate(ctx, now, r.accountID, r.nextKind())
	if err != nil {
		r.recordError(err)
		r.logger.Error("eligibility evaluation failed", logger.Error(err))
		return
	}
	if !decision.Eligible {
		if decision.Reason == scheduler.ReasonQuotaExhausted {
			r.setStatus(ctx, domain.AgentRateLimited)
		}
		return
	}
	r.mu.Lock()
	rateLimited := r.status == domain.AgentRateLimited
	r.mu.Unlock()
	if rateLimited {
		r.setStatus(ctx, domain.AgentOnline)
	}

	gap := time.Hour / time.Duration(decision.SlotsPerHour)
	r.mu.Lock()
	due := now.Sub(r.lastRunAt) >= gap
	r.mu.Unlock()
	if !due {
		return
	}

	if !r.sleep(ctx, r.scheduler.Jitter(r.schedule.StartupJitterMax)) {
		return
	}

	r.runOnce(ctx)

	r.mu.Lock()
	r.lastRunAt = time.Now()
	r.mu.Unlock()
}

// nextKind is the quota kind the next run will draw on first.
func (r *Runner) nextKind() domain.ActionKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.engageNext {
		return domain.ActionComment
	}
	return domain.ActionScrape
}

// runOnce executes one full run attempt: acquire the session, do one pass
// of work, then persist and release no matter what happened. The release
// and the post-run heartbeat run on an uncancellable context so an aborted
// run still flushes its state.
func (r *Runner) runOnce(ctx context.Context) {
	engage := r.flipMode()

	ctx, span := r.tracer.Start(ctx, "agent.run",
		trace.WithAttributes(
			attribute.String("account_id", r.accountID),
			attribute.Bool("engage", engage),
		))
	defer span.End()
	defer r.reportRun(context.WithoutCancel(ctx))

	handle, err := r.sessions.Acquire(ctx, r.accountID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionBusy) {
			r.logger.Debug("session busy, skipping run")
			return
		}
		r.recordError(err)
		r.logger.Error("session acquire failed", logger.Error(err))
		return
	}
	defer func() {
		if releaseErr := r.sessions.Release(context.WithoutCancel(ctx), handle); releaseErr != nil {
			r.logger.Error("session release failed", logger.Error(releaseErr))
		}
	}()

	if !handle.Authenticated {
		r.handleExpiredSession(ctx)
		return
	}

	var runErr error
	if engage {
		r.setStatus(ctx, domain.AgentEngaging)
		runErr = r.engagePass(ctx, handle)
	} else {
		r.setStatus(ctx, domain.AgentScraping)
		runErr = r.scrapePass(ctx, handle)
	}

	if runErr != nil {
		r.recordError(runErr)
		r.logger.Error("run failed", logger.Error(runErr))
	} else {
		r.clearError()
	}

	r.setStatus(ctx, domain.AgentCoolingDown)
	if !r.sleep(ctx, r.schedule.CooldownPeriod) {
		return
	}
	r.setStatus(ctx, domain.AgentOnline)
}

// reportRun pushes a heartbeat right after a run attempt so the control
// plane never waits a full interval to learn the outcome. Delivery failures
// are informational; the interval loop retries.
func (r *Runner) reportRun(ctx context.Context) {
	if r.reporter == nil {
		return
	}
	if err := r.reporter.ReportNow(ctx); err != nil {
		r.logger.Debug("post-run heartbeat delivery failed", logger.Error(err))
	}
}

// flipMode returns the current run mode and alternates it for next time.
func (r *Runner) flipMode() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	engage := r.engageNext
	r.engageNext = !engage
	return engage
}

// handleExpiredSession marks the account as needing a login and parks the
// agent until the dashboard operator intervenes.
func (r *Runner) handleExpiredSession(ctx context.Context) {
	r.logger.Warn("session expired, needs login")
	r.recordError(domain.ErrSessionExpired)

	if err := r.notifier.Open(ctx, r.accountID, domain.NotificationKindNeedsLogin,
		"session expired, manual login required"); err != nil {
		r.logger.Error("open needs-login notification failed", logger.Error(err))
	}
	r.setStatus(ctx, domain.AgentOffline)
}

// scrapePass walks every group of the account through the scrape service,
// consuming one scrape quota unit per group.
func (r *Runner) scrapePass(ctx context.Context, handle *session.Handle) error {
	groups, err := r.groups.ListByAccount(ctx, r.accountID)
	if err != nil {
		return fmt.Errorf("list account groups: %w", err)
	}

	for i := range groups {
		group := &groups[i]

		res, err := r.quotas.CheckAndIncrement(ctx, r.accountID, domain.ActionScrape, 1)
		if err != nil {
			return fmt.Errorf("check scrape quota: %w", err)
		}
		if !res.Allowed {
			r.logger.Info("daily scrape quota exhausted",
				logger.Int("current", res.Current),
				logger.Int("limit", res.Limit))
			return nil
		}

		if err := r.pace(ctx); err != nil {
			return err
		}

		r.setAction("scraping " + group.Name)
		result, err := r.scraper.Run(ctx, handle, group, r.pipeline)
		r.setAction("")
		if err != nil {
			if errors.Is(err, domain.ErrCursorPersist) {
				return fmt.Errorf("scrape group %s: %w", group.ID, err)
			}
			// Partial failure: cursor already advanced to the frontier,
			// move on to the next group.
			r.logger.Warn("group scrape incomplete",
				logger.String("group_id", group.ID),
				logger.Error(err))
			continue
		}

		r.logger.Info("group scraped",
			logger.String("group_id", group.ID),
			logger.Int("fetched", result.Fetched),
			logger.Int("persisted", result.Persisted))
	}

	if provider, ok := r.pipeline.(interface{ Stats() leads.Stats }); ok {
		stats := provider.Stats()
		r.logger.Info("pipeline totals",
			logger.Int("classified", stats.Classified),
			logger.Int("qualified", stats.Qualified),
			logger.Int("created", stats.Created),
			logger.Int("duplicates", stats.Duplicates),
			logger.Int("classify_fails", stats.ClassifyFails))
	}

	return nil
}

// engagePass comments on new leads, DMs commented ones, and sweeps the
// inbox for replies. Each outward action draws its own quota kind.
func (r *Runner) engagePass(ctx context.Context, handle *session.Handle) error {
	if err := r.commentOnNewLeads(ctx, handle); err != nil {
		return err
	}
	if err := r.dmCommentedLeads(ctx, handle); err != nil {
		return err
	}
	if err := r.sweepInbox(ctx, handle); err != nil {
		return err
	}

	if _, err := r.convos.SweepIdle(ctx, r.accountID); err != nil {
		r.logger.Warn("idle sweep failed", logger.Error(err))
	}
	return nil
}

func (r *Runner) commentOnNewLeads(ctx context.Context, handle *session.Handle) error {
	targets, err := r.leads.ListActionable(ctx, r.accountID, domain.LeadStatusNew, actionableBatch)
	if err != nil {
		return fmt.Errorf("list new leads: %w", err)
	}

	for i := range targets {
		lead := &targets[i]

		res, err := r.quotas.CheckAndIncrement(ctx, r.accountID, domain.ActionComment, 1)
		if err != nil {
			return fmt.Errorf("check comment quota: %w", err)
		}
		if !res.Allowed {
			return nil
		}

		if err := r.pace(ctx); err != nil {
			return err
		}

		r.setAction("commenting on " + lead.PostURL)
		commentErr := r.engager.CommentOnLead(ctx, handle, lead)
		r.setAction("")
		if commentErr != nil {
			r.logger.Warn("comment failed",
				logger.String("lead_id", lead.ID),
				logger.Error(commentErr))
			continue
		}

		if _, err := r.leads.UpdateStatus(ctx, lead.ID, domain.LeadStatusCommented); err != nil {
			return fmt.Errorf("mark lead commented: %w", err)
		}
	}

	return nil
}

func (r *Runner) dmCommentedLeads(ctx context.Context, handle *session.Handle) error {
	targets, err := r.leads.ListActionable(ctx, r.accountID, domain.LeadStatusCommented, actionableBatch)
	if err != nil {
		return fmt.Errorf("list commented leads: %w", err)
	}

	for i := range targets {
		lead := &targets[i]

		res, err := r.quotas.CheckAndIncrement(ctx, r.accountID, domain.ActionDM, 1)
		if err != nil {
			return fmt.Errorf("check dm quota: %w", err)
		}
		if !res.Allowed {
			return nil
		}

		if err := r.pace(ctx); err != nil {
			return err
		}

		r.setAction("messaging " + lead.AuthorHandle)
		dmErr := r.engager.SendDM(ctx, handle, lead)
		r.setAction("")
		if dmErr != nil {
			r.logger.Warn("dm failed",
				logger.String("lead_id", lead.ID),
				logger.Error(dmErr))
			continue
		}

		if _, err := r.leads.UpdateStatus(ctx, lead.ID, domain.LeadStatusDMSent); err != nil {
			return fmt.Errorf("mark lead dm sent: %w", err)
		}

		contact, err := r.convos.ObserveInbound(ctx, r.accountID, lead.AuthorHandle, lead.AuthorName)
		if err != nil {
			r.logger.Warn("create contact failed",
				logger.String("lead_id", lead.ID),
				logger.Error(err))
			continue
		}
		if err := r.convos.LinkLead(ctx, contact.ID, lead.ID); err != nil {
			r.logger.Warn("link contact failed",
				logger.String("contact_id", contact.ID),
				logger.Error(err))
		}
		if _, err := r.convos.MarkAwaitingReply(ctx, contact); err != nil {
			r.logger.Warn("mark awaiting reply failed",
				logger.String("contact_id", contact.ID),
				logger.Error(err))
		}
	}

	return nil
}

// sweepInbox observes unread inbound messages and advances conversation and
// lead state for repliers.
func (r *Runner) sweepInbox(ctx context.Context, handle *session.Handle) error {
	inbound, err := r.engager.FetchInbound(ctx, handle)
	if err != nil {
		return fmt.Errorf("fetch inbound messages: %w", err)
	}

	for _, msg := range inbound {
		if r.seen != nil && msg.MessageID != "" && r.seen.Seen(ctx, r.accountID, msg.MessageID) {
			continue
		}

		if _, err := r.convos.ObserveInbound(ctx, r.accountID, msg.ExternalKey, msg.Name); err != nil {
			r.logger.Warn("observe inbound failed",
				logger.String("external_key", msg.ExternalKey),
				logger.Error(err))
			continue
		}

		if r.seen != nil && msg.MessageID != "" {
			if err := r.seen.MarkSeen(ctx, r.accountID, msg.MessageID); err != nil {
				r.logger.Warn("mark message seen failed", logger.Error(err))
			}
		}

		if msg.LeadPostURL == "" {
			continue
		}
		lead, err := r.leads.GetByPostURL(ctx, msg.LeadPostURL)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				r.logger.Warn("lookup replying lead failed", logger.Error(err))
			}
			continue
		}
		if lead.Status == domain.LeadStatusDMSent {
			if _, err := r.leads.UpdateStatus(ctx, lead.ID, domain.LeadStatusResponded); err != nil {
				r.logger.Warn("mark lead responded failed",
					logger.String("lead_id", lead.ID),
					logger.Error(err))
			}
		}
	}

	return nil
}

// pace blocks until the next action slot per the human-pacing limiter.
func (r *Runner) pace(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pace action: %w", err)
	}
	return r.sleepErr(ctx, r.scheduler.ActionDelay())
}

// sleep waits d, interruptible by stop or context. Returns false when
// interrupted.
func (r *Runner) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-r.stopChan:
		return false
	case <-ctx.Done():
		return false
	}
}

func (r *Runner) sleepErr(ctx context.Context, d time.Duration) error {
	if !r.sleep(ctx, d) {
		return context.Canceled
	}
	return nil
}

// setStatus validates and records the transition locally and in the store.
func (r *Runner) setStatus(ctx context.Context, status domain.AgentStatus) {
	r.mu.Lock()
	current := r.status
	r.mu.Unlock()

	if current == status {
		return
	}
	if !current.CanTransitionTo(status) {
		r.logger.Warn("illegal agent status transition",
			logger.String("from", string(current)),
			logger.String("to", string(status)))
		return
	}

	r.mu.Lock()
	r.status = status
	r.mu.Unlock()

	if r.agentID == "" {
		return
	}
	if err := r.agents.SetStatus(ctx, r.agentID, status); err != nil {
		r.logger.Warn("persist agent status failed",
			logger.String("status", string(status)),
			logger.Error(err))
	}
}

func (r *Runner) setAction(action string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if action == "" {
		r.currentAction = nil
		return
	}
	r.currentAction = &action
}

func (r *Runner) recordError(err error) {
	msg := err.Error()
	r.mu.Lock()
	r.lastError = &msg
	r.mu.Unlock()
}

func (r *Runner) clearError() {
	r.mu.Lock()
	r.lastError = nil
	r.mu.Unlock()
}

// Heartbeat snapshots the runner's state for the health reporter.
func (r *Runner) Heartbeat(ctx context.Context) (*domain.Heartbeat, error) {
	counts, err := r.quotas.CountsFor(ctx, r.accountID)
	if err != nil {
		return nil, fmt.Errorf("read quota counts: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return &domain.Heartbeat{
		AgentID:       r.agentID,
		Status:        r.status,
		DailyScrapes:  counts.Scrapes,
		DailyComments: counts.Comments,
		DailyDMs:      counts.DMs,
		CurrentAction: r.currentAction,
		Error:         r.lastError,
		ReportedAt:    time.Now().UTC(),
	}, nil
}
