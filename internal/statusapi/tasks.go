package statusapi

import (
	"net/http"

	"github.com/snarg/filecollect/internal/collect"
)

type tasksHandler struct {
	tasks TaskSource
}

func newTasksHandler(tasks TaskSource) *tasksHandler {
	return &tasksHandler{tasks: tasks}
}

func (h *tasksHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snapshots := h.tasks()
	if snapshots == nil {
		snapshots = []collect.TaskSnapshot{}
	}
	WriteJSON(w, http.StatusOK, snapshots)
}
