package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/leadscout/leadscout/internal/domain"
	"github.com/leadscout/leadscout/internal/health"
	"github.com/leadscout/leadscout/internal/logger"
)

type fakeSource struct {
	hb  *domain.Heartbeat
	err error
}

func (f *fakeSource) Heartbeat(_ context.Context) (*domain.Heartbeat, error) {
	if f.err != nil {
		return nil, f.err
	}
	hb := *f.hb
	return &hb, nil
}

type recordingSink struct {
	mu       sync.Mutex
	reports  []*domain.Heartbeat
	err      error
	delivery chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{delivery: make(chan struct{}, 16)}
}

func (s *recordingSink) Report(_ context.Context, hb *domain.Heartbeat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.reports = append(s.reports, hb)
	select {
	case s.delivery <- struct{}{}:
	default:
	}
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

func testHeartbeat() *domain.Heartbeat {
	return &domain.Heartbeat{
		AgentID:      "agent-acct-1",
		Status:       domain.AgentOnline,
		DailyScrapes: 4,
	}
}

func TestReporter_StartReportsImmediately(t *testing.T) {
	sink := newRecordingSink()
	reporter := health.NewReporter(&fakeSource{hb: testHeartbeat()}, sink, time.Hour, logger.NewNop())

	reporter.Start(context.Background())
	defer reporter.Stop()

	select {
	case <-sink.delivery:
	case <-time.After(2 * time.Second):
		t.Fatal("expected an immediate heartbeat on start")
	}

	if !reporter.IsRunning() {
		t.Error("IsRunning() = false, want true after start")
	}
}

func TestReporter_ReportsOnInterval(t *testing.T) {
	sink := newRecordingSink()
	reporter := health.NewReporter(&fakeSource{hb: testHeartbeat()}, sink, 20*time.Millisecond, logger.NewNop())

	reporter.Start(context.Background())
	defer reporter.Stop()

	deadline := time.After(2 * time.Second)
	for sink.count() < 3 {
		select {
		case <-sink.delivery:
		case <-deadline:
			t.Fatalf("expected at least 3 heartbeats, got %d", sink.count())
		}
	}
}

func TestReporter_StampsReportedAt(t *testing.T) {
	sink := newRecordingSink()
	reporter := health.NewReporter(&fakeSource{hb: testHeartbeat()}, sink, time.Hour, logger.NewNop())

	if err := reporter.ReportNow(context.Background()); err != nil {
		t.Fatalf("ReportNow() error = %v, want nil", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(sink.reports))
	}
	if sink.reports[0].ReportedAt.IsZero() {
		t.Error("expected ReportedAt to be stamped")
	}
}

func TestReporter_ReportNowSurfacesFailures(t *testing.T) {
	sink := newRecordingSink()
	sink.err = errors.New("control plane down")
	reporter := health.NewReporter(&fakeSource{hb: testHeartbeat()}, sink, time.Hour, logger.NewNop())

	if err := reporter.ReportNow(context.Background()); err == nil {
		t.Error("ReportNow() error = nil, want delivery failure")
	}
}

func TestReporter_StopIsIdempotent(t *testing.T) {
	sink := newRecordingSink()
	reporter := health.NewReporter(&fakeSource{hb: testHeartbeat()}, sink, time.Hour, logger.NewNop())

	reporter.Start(context.Background())
	reporter.Stop()
	reporter.Stop()
}

func TestHTTPSink_Report(t *testing.T) {
	var received domain.Heartbeat
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/agents/heartbeat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if decodeErr := json.NewDecoder(r.Body).Decode(&received); decodeErr != nil {
			t.Errorf("decode heartbeat: %v", decodeErr)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sink := health.NewHTTPSink(server.URL, logger.NewNop())

	hb := testHeartbeat()
	hb.ReportedAt = time.Now().UTC()
	if err := sink.Report(context.Background(), hb); err != nil {
		t.Fatalf("Report() error = %v, want nil", err)
	}

	if received.AgentID != "agent-acct-1" {
		t.Errorf("received agent_id = %v, want agent-acct-1", received.AgentID)
	}
	if received.DailyScrapes != 4 {
		t.Errorf("received daily_scrapes = %v, want 4", received.DailyScrapes)
	}
}

func TestHTTPSink_Report_RetriesServerErrors(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		attempts++
		failing := attempts < 2
		mu.Unlock()
		if failing {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sink := health.NewHTTPSink(server.URL, logger.NewNop())

	if err := sink.Report(context.Background(), testHeartbeat()); err != nil {
		t.Fatalf("Report() error = %v, want success after retry", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Errorf("got %d attempts, want 2", attempts)
	}
}

func TestHTTPSink_Report_ClientErrorsAreNotRetried(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		http.Error(w, "unknown agent", http.StatusBadRequest)
	}))
	defer server.Close()

	sink := health.NewHTTPSink(server.URL, logger.NewNop())

	if err := sink.Report(context.Background(), testHeartbeat()); err == nil {
		t.Fatal("Report() error = nil, want rejection")
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 1 {
		t.Errorf("got %d attempts, want exactly 1", attempts)
	}
}

type fakeAgentStore struct {
	applied []*domain.Heartbeat
	err     error
}

func (f *fakeAgentStore) ApplyHeartbeat(_ context.Context, hb *domain.Heartbeat) (*domain.Agent, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.applied = append(f.applied, hb)
	return &domain.Agent{ID: hb.AgentID, Status: hb.Status}, nil
}

func TestLocalSink_Report(t *testing.T) {
	store := &fakeAgentStore{}
	sink := health.NewLocalSink(store)

	if err := sink.Report(context.Background(), testHeartbeat()); err != nil {
		t.Fatalf("Report() error = %v, want nil", err)
	}

	if len(store.applied) != 1 {
		t.Errorf("applied %d heartbeats, want 1", len(store.applied))
	}
}
