// Package taskmgr implements a minimal, concrete TaskManager: it records the
// terminal action submitted by each collect.Task and fans it out to any
// registered observer. Grounded on the teacher's
// ingest.Pipeline pattern of guarding low-cardinality shared state with a
// single mutex rather than sync.Map, documented at the point of use.
package taskmgr

import (
	"sync"

	"github.com/snarg/filecollect/internal/collect"
)

// Manager records terminal task actions. Mutex-guarded rather than
// sync.Map: task counts are low-cardinality (one entry per configured
// task, not per event), so a single lock never becomes a contention point.
// Implements collect.TaskManager.
type Manager struct {
	mu       sync.Mutex
	finished map[string]collect.TaskAction

	observer func(collect.TaskAction)
}

func New() *Manager {
	return &Manager{finished: make(map[string]collect.TaskAction)}
}

// OnFinish registers a callback invoked synchronously whenever a task
// finishes — cmd/filecollect uses it to log terminal tasks. Only one
// observer is kept; a later call replaces the earlier one.
func (m *Manager) OnFinish(fn func(collect.TaskAction)) {
	m.mu.Lock()
	m.observer = fn
	m.mu.Unlock()
}

// SubmitAction records action against its profile's task ID and notifies
// any registered observer.
func (m *Manager) SubmitAction(action collect.TaskAction) {
	taskID := ""
	if action.Profile != nil {
		taskID = action.Profile.TaskID
	}

	m.mu.Lock()
	m.finished[taskID] = action
	observer := m.observer
	m.mu.Unlock()

	if observer != nil {
		observer(action)
	}
}

// Finished reports whether taskID has submitted a terminal action.
func (m *Manager) Finished(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.finished[taskID]
	return ok
}

// FinishedTaskIDs returns every task ID that has reached a terminal state.
func (m *Manager) FinishedTaskIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.finished))
	for id := range m.finished {
		ids = append(ids, id)
	}
	return ids
}
