// Package instancemgr implements a minimal, concrete InstanceManager: a
// bounded submit queue with non-blocking send semantics, an mtime-keyed
// dedup gate, and completion tracking. Grounded on the teacher's generic
// Batcher[T] (internal/ingest/batcher.go) for the background-drain/Stop
// lifecycle shape, channel-bounded the way a worker pool sizes its queue.
package instancemgr

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/filecollect/internal/eventmap"
)

// ActionType is the kind of InstanceAction submitted to a Manager.
type ActionType int

const (
	Add ActionType = iota
)

// InstanceAction is the concrete message collect.Task submits on release.
// Today always {Type: Add}, since Add is the only action EventMap's
// ReleaseDue emits.
type InstanceAction struct {
	Type    ActionType
	Profile *eventmap.InstanceProfile
}

// Manager is a concrete InstanceManager bound to one task. SubmitAction does
// a non-blocking channel send and returns false on a full queue —
// the concrete realization of "false iff the internal queue is full".
type Manager struct {
	taskID string
	log    zerolog.Logger

	queue chan InstanceAction

	mu        sync.Mutex
	seenMTime map[string]time.Time
	inFlight  int

	// ProcessingDelay simulates downstream tail/ship latency before an
	// in-flight instance is marked finished; tests set this to 0 for
	// deterministic, immediate completion.
	ProcessingDelay time.Duration

	onSubmit func(profile *eventmap.InstanceProfile) // test/metrics hook

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a Manager for taskID with a submit queue bounded by
// queueSize (the profile's fileMaxNum).
func New(taskID string, queueSize int, log zerolog.Logger) *Manager {
	if queueSize <= 0 {
		queueSize = 1000
	}
	return &Manager{
		taskID:    taskID,
		log:       log.With().Str("component", "instancemgr").Str("task_id", taskID).Logger(),
		queue:     make(chan InstanceAction, queueSize),
		seenMTime: make(map[string]time.Time),
	}
}

// OnSubmit registers a callback invoked once per instance the background
// drain loop finishes processing — used by metrics.Collector and tests to
// observe completions without reaching into Manager internals.
func (m *Manager) OnSubmit(fn func(profile *eventmap.InstanceProfile)) {
	m.onSubmit = fn
}

// Start begins the background drain loop.
func (m *Manager) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go m.drainLoop(ctx)
	return nil
}

// Stop cancels the drain loop and waits for it to exit.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Manager) drainLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case action, ok := <-m.queue:
			if !ok {
				return
			}
			m.process(ctx, action)
		}
	}
}

func (m *Manager) process(ctx context.Context, action InstanceAction) {
	if action.Type != Add || action.Profile == nil {
		return
	}

	if m.ProcessingDelay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(m.ProcessingDelay):
		}
	}

	m.mu.Lock()
	m.inFlight--
	m.mu.Unlock()

	if m.onSubmit != nil {
		m.onSubmit(action.Profile)
	}
}

// SubmitAction enqueues action without blocking. Returns false iff the
// internal queue is full, per the InstanceManager contract.
func (m *Manager) SubmitAction(action InstanceAction) bool {
	select {
	case m.queue <- action:
		m.mu.Lock()
		m.inFlight++
		m.mu.Unlock()
		return true
	default:
		return false
	}
}

// ShouldAddAgain gates a re-offer: true if path has never been seen, or if
// mtime has advanced past the last-seen value. Does not itself prevent
// duplicate EventMap entries — EventMap.Offer is the sole authority for
// that (spec invariant: no duplicate submission).
func (m *Manager) ShouldAddAgain(path string, mtime time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	last, ok := m.seenMTime[path]
	if !ok || mtime.After(last) {
		m.seenMTime[path] = mtime
		return true
	}
	return false
}

// AllInstanceFinished reports true when the submit queue is empty and no
// instance is in flight — the retry-mode loop's termination condition.
func (m *Manager) AllInstanceFinished() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue) == 0 && m.inFlight == 0
}

// QueueLen reports the current queue depth. Back-pressure to EventMap does
// not go through it: SubmitAction returning false is the queue-full signal.
func (m *Manager) QueueLen() int {
	return len(m.queue)
}
