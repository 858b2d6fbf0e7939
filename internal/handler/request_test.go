package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/complygate/complygate/internal/config"
	"github.com/complygate/complygate/internal/middleware"
	"github.com/complygate/complygate/internal/service"
	"github.com/gin-gonic/gin"
)

const adminKey = "test-admin-key"

type testServer struct {
	router   *gin.Engine
	audit    *service.MemoryAuditStore
	manager  *service.LifecycleManager
	recorder *service.AuditRecorder
}

// newTestServer wires the handlers over memory stores the same way
// cmd/server does over Postgres and Redis.
func newTestServer(t *testing.T, domains ...service.DataDomain) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{Auth: config.AuthConfig{Admins: []config.AdminConfig{
		{ID: "admin-1", Name: "Alice", APIKey: adminKey},
	}}}

	audit := service.NewMemoryAuditStore()
	recorder, err := service.NewAuditRecorder(audit, t.TempDir(), 0)
	if err != nil {
		t.Fatalf("recorder: %v", err)
	}
	resolver := service.NewInventoryResolver()
	for _, d := range domains {
		resolver.Register(d)
	}
	exportDir := t.TempDir()
	orch, err := service.NewOrchestrator(resolver, nil, service.NewMemoryMarkerStore(audit),
		recorder, service.NewMemoryJobStore(), exportDir, 1, time.Millisecond)
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	t.Cleanup(orch.Close)
	manager := service.NewLifecycleManager(service.NewMemoryRequestStore(audit), orch, 0, 0)

	requestHandler := NewRequestHandler(manager)
	auditHandler := NewAuditHandler(recorder)
	jobHandler := NewJobHandler(manager, orch, resolver, exportDir)

	r := gin.New()
	r.Use(middleware.ErrorHandler())
	r.POST("/v1/requests", requestHandler.Create)

	v1 := r.Group("/v1")
	v1.Use(middleware.AdminMiddleware(cfg))
	{
		v1.GET("/requests", requestHandler.List)
		v1.GET("/requests/:id", requestHandler.Get)
		v1.POST("/requests/:id/assign", requestHandler.Assign)
		v1.POST("/requests/:id/verify", requestHandler.Verify)
		v1.POST("/requests/:id/reject", requestHandler.Reject)
		v1.POST("/requests/:id/delete", jobHandler.TriggerDeletion)
		v1.GET("/jobs/:id", jobHandler.JobStatus)
		v1.GET("/audit", auditHandler.Query)
	}

	return &testServer{router: r, audit: audit, manager: manager, recorder: recorder}
}

func (s *testServer) do(t *testing.T, method, path string, payload interface{}, asAdmin bool) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if asAdmin {
		req.Header.Set(middleware.HeaderAdminKey, adminKey)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	out := map[string]interface{}{}
	if len(rec.Body.Bytes()) > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("invalid json response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, out
}

func (s *testServer) intake(t *testing.T, reqType string) string {
	t.Helper()
	rec, out := s.do(t, http.MethodPost, "/v1/requests", map[string]interface{}{
		"type":            reqType,
		"requester_email": "subject@example.com",
		"user_id":         "user-42",
	}, false)
	if rec.Code != http.StatusCreated {
		t.Fatalf("intake returned %d: %s", rec.Code, rec.Body.String())
	}
	request := out["request"].(map[string]interface{})
	return request["id"].(string)
}

func TestIntakeCreatesPendingRequest(t *testing.T) {
	s := newTestServer(t)
	rec, out := s.do(t, http.MethodPost, "/v1/requests", map[string]interface{}{
		"type":            "export",
		"requester_email": "subject@example.com",
	}, false)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if out["success"] != true {
		t.Fatal("expected success envelope")
	}
	request := out["request"].(map[string]interface{})
	if request["status"] != "pending" {
		t.Fatalf("status = %v, want pending", request["status"])
	}
	if request["sla_status"] != "ON_TRACK" {
		t.Fatalf("sla_status = %v, want ON_TRACK", request["sla_status"])
	}
	deadline, err := time.Parse(time.RFC3339, request["deadline"].(string))
	if err != nil {
		t.Fatalf("deadline not RFC 3339: %v", err)
	}
	if time.Until(deadline) < 29*24*time.Hour {
		t.Fatalf("deadline %v not ~30 days out", deadline)
	}
}

func TestIntakeRejectsUnknownType(t *testing.T) {
	s := newTestServer(t)
	rec, out := s.do(t, http.MethodPost, "/v1/requests", map[string]interface{}{
		"type":            "escalation",
		"requester_email": "subject@example.com",
	}, false)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if out["success"] != false {
		t.Fatal("expected failure envelope")
	}
	errObj := out["error"].(map[string]interface{})
	if errObj["code"] != "VALIDATION_ERROR" {
		t.Fatalf("error code = %v, want VALIDATION_ERROR", errObj["code"])
	}
}

func TestAdminRoutesRequireKey(t *testing.T) {
	s := newTestServer(t)
	rec, _ := s.do(t, http.MethodGet, "/v1/requests", nil, false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without admin key, got %d", rec.Code)
	}
}

func TestInvalidTransitionEnvelope(t *testing.T) {
	s := newTestServer(t)
	id := s.intake(t, "access")

	rec, _ := s.do(t, http.MethodPost, "/v1/requests/"+id+"/reject",
		map[string]interface{}{"reason": "cannot verify identity"}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("reject returned %d: %s", rec.Code, rec.Body.String())
	}

	// Verifying a rejected request is refused with a 409 envelope.
	rec, out := s.do(t, http.MethodPost, "/v1/requests/"+id+"/verify", nil, true)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	errObj := out["error"].(map[string]interface{})
	if errObj["code"] != "INVALID_STATE_TRANSITION" {
		t.Fatalf("error code = %v, want INVALID_STATE_TRANSITION", errObj["code"])
	}
	if suggestion, _ := errObj["suggestion"].(string); suggestion == "" {
		t.Fatal("expected a suggestion in the error envelope")
	}
}

func TestRejectWithoutReason(t *testing.T) {
	s := newTestServer(t)
	id := s.intake(t, "deletion")

	rec, out := s.do(t, http.MethodPost, "/v1/requests/"+id+"/reject", nil, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	errObj := out["error"].(map[string]interface{})
	if errObj["code"] != "VALIDATION_ERROR" {
		t.Fatalf("error code = %v", errObj["code"])
	}
}

func TestListFiltersByStatus(t *testing.T) {
	s := newTestServer(t)
	s.intake(t, "export")
	rejected := s.intake(t, "deletion")
	rec, _ := s.do(t, http.MethodPost, "/v1/requests/"+rejected+"/reject",
		map[string]interface{}{"reason": "duplicate"}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("reject returned %d", rec.Code)
	}

	rec, out := s.do(t, http.MethodGet, "/v1/requests?status=pending", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("list returned %d", rec.Code)
	}
	if out["count"].(float64) != 1 {
		t.Fatalf("pending count = %v, want 1", out["count"])
	}

	rec, _ = s.do(t, http.MethodGet, "/v1/requests?status=bogus", nil, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status filter, got %d", rec.Code)
	}
}

func TestListToleratesNegativePaging(t *testing.T) {
	s := newTestServer(t)
	s.intake(t, "export")
	s.intake(t, "deletion")

	rec, out := s.do(t, http.MethodGet, "/v1/requests?offset=-5&limit=-1", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("list returned %d: %s", rec.Code, rec.Body.String())
	}
	if out["count"].(float64) != 2 {
		t.Fatalf("count = %v, want 2", out["count"])
	}
}

func TestAuditQueryEndpoint(t *testing.T) {
	s := newTestServer(t)
	id := s.intake(t, "export")

	rec, _ := s.do(t, http.MethodPost, "/v1/requests/"+id+"/assign",
		map[string]interface{}{"admin_id": "admin-1"}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("assign returned %d: %s", rec.Code, rec.Body.String())
	}

	rec, out := s.do(t, http.MethodGet, "/v1/audit?entity_id="+id, nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit query returned %d", rec.Code)
	}
	if out["total_count"].(float64) != 2 {
		t.Fatalf("total_count = %v, want 2 (created + assigned)", out["total_count"])
	}

	rec, out = s.do(t, http.MethodGet, "/v1/audit?entity_id="+id+"&action=request_assigned", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit query returned %d", rec.Code)
	}
	if out["total_count"].(float64) != 1 {
		t.Fatalf("total_count = %v, want 1", out["total_count"])
	}

	rec, _ = s.do(t, http.MethodGet, "/v1/audit?action=made_up", nil, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown action, got %d", rec.Code)
	}
}
