package statusapi

import (
	"net/http"
	"time"

	"github.com/snarg/filecollect/internal/collect"
)

// HealthResponse is the /api/v1/health payload: process liveness plus a
// per-task running/state summary.
type HealthResponse struct {
	Status        string                 `json:"status"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Tasks         []collect.TaskSnapshot `json:"tasks"`
}

// TaskSource supplies the current snapshot of every configured task. The
// composition root wires this to one func() collecting Task.Snapshot()
// across its fleet; handlers never reach into live *collect.Task state.
type TaskSource func() []collect.TaskSnapshot

type healthHandler struct {
	startTime time.Time
	tasks     TaskSource
}

func newHealthHandler(startTime time.Time, tasks TaskSource) *healthHandler {
	return &healthHandler{startTime: startTime, tasks: tasks}
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Tasks:         h.tasks(),
	})
}
