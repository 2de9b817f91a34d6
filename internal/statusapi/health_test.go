package statusapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/snarg/filecollect/internal/collect"
)

func TestHealthHandlerReportsUptimeAndTasks(t *testing.T) {
	start := time.Now().Add(-5 * time.Second)
	tasks := func() []collect.TaskSnapshot {
		return []collect.TaskSnapshot{{TaskID: "t1", State: "RUNNING", Running: true}}
	}

	h := newHealthHandler(start, tasks)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("Status = %q, want ok", resp.Status)
	}
	if resp.UptimeSeconds < 5 {
		t.Errorf("UptimeSeconds = %d, want >= 5", resp.UptimeSeconds)
	}
	if len(resp.Tasks) != 1 || resp.Tasks[0].TaskID != "t1" {
		t.Errorf("Tasks = %+v, want one snapshot for t1", resp.Tasks)
	}
}
