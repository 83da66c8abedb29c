package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/leadscout/leadscout/internal/api"
	"github.com/leadscout/leadscout/internal/config"
	"github.com/leadscout/leadscout/internal/database"
	"github.com/leadscout/leadscout/internal/domain"
	"github.com/leadscout/leadscout/internal/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var agentColumns = []string{
	"id", "account_id", "status", "daily_scrapes", "daily_comments", "daily_dms",
	"current_action", "last_error", "is_healthy", "last_heartbeat", "created_at", "updated_at",
}

var leadColumns = []string{
	"id", "post_url", "post_id", "group_id", "author_name", "author_handle",
	"status", "stage", "confidence", "created_at", "updated_at",
}

func newTestRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, setupErr := sqlmock.New()
	if setupErr != nil {
		t.Fatalf("failed to create sqlmock: %v", setupErr)
	}
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "sqlmock")

	cfg := &config.Config{
		Health:  config.HealthConfig{ReportInterval: 30 * time.Second},
		Cleanup: config.CleanupConfig{Token: "cleanup-secret"},
	}

	router := api.NewRouter(api.RouterDeps{
		Accounts:      database.NewAccountRepository(sqlxDB),
		Agents:        database.NewAgentRepository(sqlxDB),
		Groups:        database.NewGroupRepository(sqlxDB),
		Leads:         database.NewLeadRepository(sqlxDB),
		Contacts:      database.NewContactRepository(sqlxDB),
		Notifications: database.NewNotificationRepository(sqlxDB),
	}, cfg, logger.NewNop())

	engine := gin.New()
	router.SetupRoutes(engine)
	return engine, mock
}

func doJSON(t *testing.T, engine *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)
	return w
}

func duplicateKeyError() *pq.Error {
	return &pq.Error{Code: "23505"}
}

func agentRow(id string, status domain.AgentStatus) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(agentColumns).
		AddRow(id, "acct-1", string(status), 4, 1, 0, nil, nil, true, now, now, now)
}

func leadRow(id string, status domain.LeadStatus, stage domain.LeadStage) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(leadColumns).
		AddRow(id, "https://groups.example/p/1", nil, "grp-1", "Maria S", "maria.s",
			string(status), string(stage), 0.9, now, now)
}

func TestIngestHeartbeat(t *testing.T) {
	engine, mock := newTestRouter(t)

	mock.ExpectQuery("UPDATE agents").
		WillReturnRows(agentRow("agent-1", domain.AgentScraping))
	mock.ExpectExec("INSERT INTO agent_audit_log").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := doJSON(t, engine, http.MethodPost, "/api/v1/agents/heartbeat", domain.Heartbeat{
		AgentID:      "agent-1",
		Status:       domain.AgentScraping,
		DailyScrapes: 4,
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}

func TestIngestHeartbeat_Validation(t *testing.T) {
	engine, _ := newTestRouter(t)

	testCases := []struct {
		name string
		body any
	}{
		{
			name: "missing agent id",
			body: map[string]any{"status": "ONLINE"},
		},
		{
			name: "unknown status",
			body: map[string]any{"agent_id": "agent-1", "status": "NAPPING"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, engine, http.MethodPost, "/api/v1/agents/heartbeat", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestIngestHeartbeat_UnknownAgent(t *testing.T) {
	engine, mock := newTestRouter(t)

	mock.ExpectQuery("UPDATE agents").
		WillReturnRows(sqlmock.NewRows(agentColumns))

	w := doJSON(t, engine, http.MethodPost, "/api/v1/agents/heartbeat", domain.Heartbeat{
		AgentID: "agent-ghost",
		Status:  domain.AgentOnline,
	})

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestListAgents_FlagsStaleness(t *testing.T) {
	engine, mock := newTestRouter(t)

	fresh := time.Now()
	stale := time.Now().Add(-10 * time.Minute)
	now := time.Now()
	rows := sqlmock.NewRows(agentColumns).
		AddRow("agent-fresh", "acct-1", "ONLINE", 0, 0, 0, nil, nil, true, fresh, now, now).
		AddRow("agent-stale", "acct-2", "SCRAPING", 0, 0, 0, nil, nil, true, stale, now, now)
	mock.ExpectQuery("SELECT (.+) FROM agents").WillReturnRows(rows)

	w := doJSON(t, engine, http.MethodGet, "/api/v1/agents", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Agents []struct {
			ID    string `json:"id"`
			Stale bool   `json:"stale"`
		} `json:"agents"`
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if resp.Count != 2 {
		t.Fatalf("count = %d, want 2", resp.Count)
	}
	for _, a := range resp.Agents {
		switch a.ID {
		case "agent-fresh":
			if a.Stale {
				t.Error("fresh agent flagged stale")
			}
		case "agent-stale":
			if !a.Stale {
				t.Error("stale agent not flagged")
			}
		}
	}
}

func TestGetLead(t *testing.T) {
	engine, mock := newTestRouter(t)

	mock.ExpectQuery("SELECT (.+) FROM leads WHERE id").
		WithArgs("lead-1").
		WillReturnRows(leadRow("lead-1", domain.LeadStatusNew, domain.StageLead))

	w := doJSON(t, engine, http.MethodGet, "/api/v1/leads/lead-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var lead domain.Lead
	if err := json.Unmarshal(w.Body.Bytes(), &lead); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if lead.ID != "lead-1" {
		t.Errorf("lead id = %v, want lead-1", lead.ID)
	}
}

func TestGetLead_NotFound(t *testing.T) {
	engine, mock := newTestRouter(t)

	mock.ExpectQuery("SELECT (.+) FROM leads WHERE id").
		WithArgs("lead-missing").
		WillReturnRows(sqlmock.NewRows(leadColumns))

	w := doJSON(t, engine, http.MethodGet, "/api/v1/leads/lead-missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestUpdateLeadStage(t *testing.T) {
	engine, mock := newTestRouter(t)

	mock.ExpectQuery("SELECT (.+) FROM leads WHERE id").
		WithArgs("lead-1").
		WillReturnRows(leadRow("lead-1", domain.LeadStatusDMSent, domain.StageLead))
	mock.ExpectQuery("UPDATE leads").
		WillReturnRows(leadRow("lead-1", domain.LeadStatusDMSent, domain.StageInterested))

	w := doJSON(t, engine, http.MethodPatch, "/api/v1/leads/lead-1/stage",
		map[string]string{"stage": "INTERESTED"})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
}

func TestUpdateLeadStage_IllegalTransition(t *testing.T) {
	engine, mock := newTestRouter(t)

	// A lead still at LEAD cannot jump straight to CONVERTED.
	mock.ExpectQuery("SELECT (.+) FROM leads WHERE id").
		WithArgs("lead-1").
		WillReturnRows(leadRow("lead-1", domain.LeadStatusNew, domain.StageLead))

	w := doJSON(t, engine, http.MethodPatch, "/api/v1/leads/lead-1/stage",
		map[string]string{"stage": "CONVERTED"})

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
}

func TestUpdateLeadStage_UnknownStage(t *testing.T) {
	engine, _ := newTestRouter(t)

	w := doJSON(t, engine, http.MethodPatch, "/api/v1/leads/lead-1/stage",
		map[string]string{"stage": "DAYDREAMING"})

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestCreateLead_Conflict(t *testing.T) {
	engine, mock := newTestRouter(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO leads").
		WillReturnError(duplicateKeyError())
	mock.ExpectQuery("SELECT (.+) FROM leads WHERE post_url").
		WillReturnRows(leadRow("lead-existing", domain.LeadStatusCommented, domain.StageLead))
	mock.ExpectRollback()

	w := doJSON(t, engine, http.MethodPost, "/api/v1/leads", map[string]any{
		"post_url": "https://groups.example/p/1",
		"group_id": "grp-1",
	})

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusConflict, w.Body.String())
	}

	var resp struct {
		Lead domain.Lead `json:"lead"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Lead.ID != "lead-existing" {
		t.Errorf("conflict lead id = %v, want the existing lead", resp.Lead.ID)
	}
}

func TestTriggerCleanup_Auth(t *testing.T) {
	engine, _ := newTestRouter(t)

	testCases := []struct {
		name       string
		authHeader string
		wantCode   int
	}{
		{name: "missing token", authHeader: "", wantCode: http.StatusUnauthorized},
		{name: "wrong token", authHeader: "Bearer nope", wantCode: http.StatusUnauthorized},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/cleanup", http.NoBody)
			if tc.authHeader != "" {
				req.Header.Set("Authorization", tc.authHeader)
			}
			engine.ServeHTTP(w, req)

			if w.Code != tc.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tc.wantCode)
			}
		})
	}
}
