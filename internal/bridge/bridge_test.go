package bridge_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/leadscout/leadscout/internal/bridge"
	"github.com/leadscout/leadscout/internal/config"
	"github.com/leadscout/leadscout/internal/domain"
	"github.com/leadscout/leadscout/internal/logger"
	"github.com/leadscout/leadscout/internal/retry"
	"github.com/leadscout/leadscout/internal/session"
)

func testHandle() *session.Handle {
	return &session.Handle{
		AccountID:     "acct-1",
		Blob:          []byte("session-state"),
		Authenticated: true,
	}
}

func newClient(t *testing.T, srv *httptest.Server) *bridge.Client {
	t.Helper()
	return bridge.NewClient(config.AutomationConfig{
		BaseURL:        srv.URL,
		RequestTimeout: 5 * time.Second,
	}, logger.NewNop())
}

func TestClient_FetchSince(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if decodeErr := json.NewDecoder(r.Body).Decode(&gotBody); decodeErr != nil {
			t.Errorf("decode request: %v", decodeErr)
		}
		respondJSON(t, w, map[string]any{
			"posts": []map[string]any{
				{"url": "https://groups.example/p/7", "author_handle": "ana.dev", "content": "looking for a crm"},
				{"url": "https://groups.example/p/8", "author_handle": "bob", "content": "anyone used this?"},
			},
		})
	}))
	defer srv.Close()

	client := newClient(t, srv)
	group := &domain.Group{ID: "grp-1", ExternalKey: "golang-jobs"}

	posts, err := client.FetchSince(context.Background(), testHandle(), group, "https://groups.example/p/6", 10)
	if err != nil {
		t.Fatalf("FetchSince() error = %v, want nil", err)
	}

	if gotPath != "/v1/scrape/fetch" {
		t.Errorf("request path = %v, want /v1/scrape/fetch", gotPath)
	}
	if gotBody["group_key"] != "golang-jobs" {
		t.Errorf("request group_key = %v, want golang-jobs", gotBody["group_key"])
	}
	if gotBody["cursor"] != "https://groups.example/p/6" {
		t.Errorf("request cursor = %v, want the frontier url", gotBody["cursor"])
	}
	if len(posts) != 2 {
		t.Fatalf("got %d posts, want 2", len(posts))
	}
	if posts[0].URL != "https://groups.example/p/7" {
		t.Errorf("first post url = %v, want oldest first", posts[0].URL)
	}
}

func TestClient_Classify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/classify" {
			t.Errorf("request path = %v, want /v1/classify", r.URL.Path)
		}
		respondJSON(t, w, map[string]any{
			"is_lead":    true,
			"confidence": 0.87,
			"reason":     "asks for a tool recommendation",
		})
	}))
	defer srv.Close()

	client := newClient(t, srv)
	post := &domain.Post{URL: "https://groups.example/p/7", AuthorHandle: "ana.dev", Content: "looking for a crm"}

	verdict, err := client.Classify(context.Background(), post)
	if err != nil {
		t.Fatalf("Classify() error = %v, want nil", err)
	}
	if !verdict.IsLead {
		t.Error("verdict.IsLead = false, want true")
	}
	if verdict.Confidence != 0.87 {
		t.Errorf("verdict.Confidence = %v, want 0.87", verdict.Confidence)
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := newClient(t, srv)

	err := client.CommentOnLead(context.Background(), testHandle(), &domain.Lead{PostURL: "https://groups.example/p/7"})
	if err != nil {
		t.Fatalf("CommentOnLead() error = %v, want nil after retry", err)
	}
	if attempts != 2 {
		t.Errorf("sidecar called %d times, want 2", attempts)
	}
}

func TestClient_ClientErrorsDoNotRetry(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client := newClient(t, srv)

	err := client.SendDM(context.Background(), testHandle(), &domain.Lead{PostURL: "https://groups.example/p/7", AuthorHandle: "ana.dev"})
	if err == nil {
		t.Fatal("SendDM() error = nil, want rejection")
	}
	if errors.Is(err, retry.ErrMaxAttemptsExceeded) {
		t.Errorf("SendDM() error = %v, want no retry on 4xx", err)
	}
	if attempts != 1 {
		t.Errorf("sidecar called %d times, want 1", attempts)
	}
}

func TestClient_FetchInbound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/inbox/unread" {
			t.Errorf("request path = %v, want /v1/inbox/unread", r.URL.Path)
		}
		respondJSON(t, w, map[string]any{
			"messages": []map[string]any{
				{"message_id": "msg-1", "external_key": "ana.dev", "name": "Ana", "lead_post_url": "https://groups.example/p/7"},
			},
		})
	}))
	defer srv.Close()

	client := newClient(t, srv)

	inbound, err := client.FetchInbound(context.Background(), testHandle())
	if err != nil {
		t.Fatalf("FetchInbound() error = %v, want nil", err)
	}
	if len(inbound) != 1 {
		t.Fatalf("got %d messages, want 1", len(inbound))
	}
	if inbound[0].LeadPostURL != "https://groups.example/p/7" {
		t.Errorf("message lead url = %v, want the linked post", inbound[0].LeadPostURL)
	}
}

func respondJSON(t *testing.T, w http.ResponseWriter, body any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		t.Errorf("encode response: %v", err)
	}
}
