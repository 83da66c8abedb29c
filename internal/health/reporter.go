// Package health pushes agent heartbeats to the control plane.
package health

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/leadscout/leadscout/internal/domain"
	"github.com/leadscout/leadscout/internal/logger"
	"github.com/leadscout/leadscout/internal/retry"
)

const (
	defaultReportInterval = 30 * time.Second
	reportTimeout         = 10 * time.Second
	httpErrorBodyLimit    = 512
)

// Sink delivers one heartbeat to the control plane.
type Sink interface {
	Report(ctx context.Context, hb *domain.Heartbeat) error
}

// Source produces the current heartbeat for an agent. The agent runner
// implements this; the reporter never reaches into run state itself.
type Source interface {
	Heartbeat(ctx context.Context) (*domain.Heartbeat, error)
}

// Reporter ships heartbeats on a fixed interval while idle, and immediately
// after every run attempt via ReportNow. Delivery failures are logged and
// retried on the next tick; they never block or fail a run.
type Reporter struct {
	source   Source
	sink     Sink
	logger   logger.Logger
	interval time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// NewReporter creates a heartbeat reporter.
func NewReporter(source Source, sink Sink, interval time.Duration, log logger.Logger) *Reporter {
	if interval <= 0 {
		interval = defaultReportInterval
	}

	return &Reporter{
		source:   source,
		sink:     sink,
		logger:   log,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the interval reporting loop.
func (r *Reporter) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(ctx)

	r.logger.Info("health reporter started",
		logger.Duration("interval", r.interval))
}

// Stop gracefully stops the reporter. Safe to call more than once.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	r.mu.Unlock()

	close(r.stopChan)
	r.wg.Wait()
	r.logger.Info("health reporter stopped")
}

// IsRunning returns whether the reporter loop is active.
func (r *Reporter) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

func (r *Reporter) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Report immediately on start
	r.reportOnce(ctx)

	for {
		select {
		case <-ticker.C:
			r.reportOnce(ctx)
		case <-r.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ReportNow delivers a heartbeat outside the interval loop, after a run
// attempt. The error is informational; callers log it at most.
func (r *Reporter) ReportNow(ctx context.Context) error {
	return r.report(ctx)
}

func (r *Reporter) reportOnce(ctx context.Context) {
	if err := r.report(ctx); err != nil {
		r.logger.Warn("heartbeat delivery failed", logger.Error(err))
	}
}

func (r *Reporter) report(ctx context.Context) error {
	reportCtx, cancel := context.WithTimeout(ctx, reportTimeout)
	defer cancel()

	hb, err := r.source.Heartbeat(reportCtx)
	if err != nil {
		return fmt.Errorf("collect heartbeat: %w", err)
	}
	if hb.ReportedAt.IsZero() {
		hb.ReportedAt = time.Now().UTC()
	}

	if err := r.sink.Report(reportCtx, hb); err != nil {
		return fmt.Errorf("deliver heartbeat: %w", err)
	}

	return nil
}

// HTTPSink posts heartbeats to the control plane's ingestion endpoint with
// retry on transient transport failures.
type HTTPSink struct {
	client  *http.Client
	baseURL string
	retry   retry.Config
	logger  logger.Logger
}

// errServerUnavailable wraps 5xx responses so they retry like transport
// failures. 4xx responses are not retryable.
var errServerUnavailable = errors.New("control plane unavailable")

// NewHTTPSink creates a sink for the given control plane base URL.
func NewHTTPSink(baseURL string, log logger.Logger) *HTTPSink {
	cfg := retry.DefaultConfig()
	cfg.IsRetryable = func(err error) bool {
		return retry.DefaultIsRetryable(err) || errors.Is(err, errServerUnavailable)
	}

	return &HTTPSink{
		client:  &http.Client{Timeout: reportTimeout},
		baseURL: baseURL,
		retry:   cfg,
		logger:  log,
	}
}

// Report posts one heartbeat as JSON.
func (s *HTTPSink) Report(ctx context.Context, hb *domain.Heartbeat) error {
	payload, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}

	url := s.baseURL + "/api/v1/agents/heartbeat"

	return retry.Retry(ctx, s.retry, func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if reqErr != nil {
			return fmt.Errorf("build heartbeat request: %w", reqErr)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, doErr := s.client.Do(req)
		if doErr != nil {
			return fmt.Errorf("post heartbeat: %w", doErr)
		}
		defer func() {
			if closeErr := resp.Body.Close(); closeErr != nil {
				s.logger.Debug("close heartbeat response body", logger.Error(closeErr))
			}
		}()

		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: status %d", errServerUnavailable, resp.StatusCode)
		}
		if resp.StatusCode >= http.StatusBadRequest {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, httpErrorBodyLimit))
			return fmt.Errorf("heartbeat rejected: status %d: %s", resp.StatusCode, string(body))
		}
		return nil
	})
}

// LocalSink applies heartbeats straight to the agent repository. Used when
// the control plane runs in the same process as the fleet.
type LocalSink struct {
	agents AgentStore
}

// AgentStore is the repository slice the local sink needs.
type AgentStore interface {
	ApplyHeartbeat(ctx context.Context, hb *domain.Heartbeat) (*domain.Agent, error)
}

// NewLocalSink creates an in-process sink.
func NewLocalSink(agents AgentStore) *LocalSink {
	return &LocalSink{agents: agents}
}

// Report applies the heartbeat to the agents table.
func (s *LocalSink) Report(ctx context.Context, hb *domain.Heartbeat) error {
	if _, err := s.agents.ApplyHeartbeat(ctx, hb); err != nil {
		return fmt.Errorf("apply heartbeat: %w", err)
	}
	return nil
}
