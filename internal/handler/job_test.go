package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/complygate/complygate/internal/config"
	"github.com/complygate/complygate/internal/service"
)

// brokenDeleteDomain answers inventory queries but refuses deletes.
func brokenDeleteDomain(t *testing.T, key string) service.DataDomain {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /count", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value":3}`))
	})
	mux.HandleFunc("GET /size", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value":64}`))
	})
	mux.HandleFunc("DELETE /data", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "storage offline", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return service.NewHTTPDomain(config.DomainConfig{Key: key, Label: key, BaseURL: srv.URL})
}

func TestJobStatusSurfacesPartialFailure(t *testing.T) {
	s := newTestServer(t, brokenDeleteDomain(t, "posts"))
	id := s.intake(t, "deletion")

	rec, out := s.do(t, http.MethodPost, "/v1/requests/"+id+"/delete", nil, true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("trigger returned %d: %s", rec.Code, rec.Body.String())
	}
	jobID := out["job"].(map[string]interface{})["id"].(string)

	deadline := time.Now().Add(5 * time.Second)
	for {
		rec, out = s.do(t, http.MethodGet, "/v1/jobs/"+jobID, nil, true)
		if rec.Code != http.StatusOK {
			t.Fatalf("poll returned %d: %s", rec.Code, rec.Body.String())
		}
		state := out["job"].(map[string]interface{})["state"].(string)
		if state == "completed_with_errors" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job stuck in state %s", state)
		}
		time.Sleep(5 * time.Millisecond)
	}

	errObj, ok := out["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("no structured error on partially failed job: %s", rec.Body.String())
	}
	if errObj["code"] != "PARTIAL_FAILURE" {
		t.Fatalf("code = %v, want PARTIAL_FAILURE", errObj["code"])
	}
	if msg, _ := errObj["message"].(string); msg == "" {
		t.Fatal("expected a non-empty failure message")
	}
}
