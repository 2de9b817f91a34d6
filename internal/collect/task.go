package collect

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/filecollect/internal/datetime"
	"github.com/snarg/filecollect/internal/eventmap"
	"github.com/snarg/filecollect/internal/instancemgr"
	"github.com/snarg/filecollect/internal/pathpattern"
	"github.com/snarg/filecollect/internal/scanner"
	"github.com/snarg/filecollect/internal/watch"
)

const (
	scanInterval         = 60 * time.Second
	coreThreadSleep      = time.Second
	coreThreadMaxGapTime = 60 * time.Second
	ageOutHorizon        = 48 * time.Hour
)

// State is a task's lifecycle state: NEW -> RUNNING -> {SUCCEEDED, FAILED}.
// The terminal states are absorbing.
type State int32

const (
	StateNew State = iota
	StateRunning
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateRunning:
		return "RUNNING"
	case StateSucceeded:
		return "SUCCEEDED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// TaskActionType is the kind of TaskAction a Task submits on termination.
type TaskActionType int

const (
	Finish TaskActionType = iota
)

// TaskAction is the terminal message submitted to the external TaskManager
// once a task's loop reaches SUCCEEDED.
type TaskAction struct {
	Type    TaskActionType
	Profile *TaskProfile
}

// TaskManager is the external collaborator a Task reports its terminal
// action to. Defined here (not imported from taskmgr) so collect has no
// dependency on any concrete TaskManager implementation.
type TaskManager interface {
	SubmitAction(TaskAction)
}

// Task is LogFileCollectTask: the orchestrator owning one task's state
// machine, discovery engine, and event map.
type Task struct {
	profile     *TaskProfile
	taskManager TaskManager

	log zerolog.Logger

	engine    *datetime.Engine
	cycleUnit datetime.CycleUnit
	offset    datetime.TimeOffset

	instances *instancemgr.Manager
	eventMap  *eventmap.Map

	initOK  atomic.Bool
	running atomic.Bool
	state   atomic.Int32

	retry        bool
	startTime    time.Time
	endTime      time.Time
	retryScanned atomic.Bool

	lastScanTime     atomic.Int64 // unix nano; 0 = never scanned
	lastScanDuration atomic.Int64 // nanoseconds
	coreThreadUpdate atomic.Int64 // unix nano, updated once per tick

	submissions atomic.Int64

	mu              sync.Mutex
	originPatterns  []string
	patternLayers   map[string]*pathpattern.Layers
	scanners        map[string]*scanner.Scanner
	watchers        map[string]*watch.Entity
	watchFailedDirs map[string]bool
}

// New creates a Task for profile. defaultTZ is the fallback IANA time zone
// (config.Config.DefaultTimeZone) used when the profile carries none,
// backing DatePatternEngine's "config-defined, default UTC+8" time zone.
func New(profile *TaskProfile, taskManager TaskManager, defaultTZ string, log zerolog.Logger) *Task {
	return &Task{
		profile:         profile,
		taskManager:     taskManager,
		log:             log.With().Str("component", "collect").Str("task_id", profile.TaskID).Logger(),
		patternLayers:   make(map[string]*pathpattern.Layers),
		scanners:        make(map[string]*scanner.Scanner),
		watchers:        make(map[string]*watch.Entity),
		watchFailedDirs: make(map[string]bool),
		offset:          datetime.Zero,
		engine:          datetime.NewEngine(resolveLocation(profile.TimeZone, defaultTZ, log)),
	}
}

func resolveLocation(profileTZ, defaultTZ string, log zerolog.Logger) *time.Location {
	tz := profileTZ
	if tz == "" {
		tz = defaultTZ
	}
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn().Err(err).Str("time_zone", tz).Msg("unknown time zone, falling back to UTC")
		return time.UTC
	}
	return loc
}

// Init validates the profile and wires up scanners and watch entities
// against the caller-supplied instance manager. A validation failure is
// logged, returned to the caller, and leaves initOK false, so Run's core
// loop is a no-op if it is started anyway.
func (t *Task) Init(ctx context.Context, instances *instancemgr.Manager) error {
	t.instances = instances

	if err := t.profile.Validate(); err != nil {
		t.log.Error().Err(err).Msg("task profile invalid")
		return err
	}

	cycleUnit, err := datetime.ParseCycleUnit(t.profile.CycleUnit)
	if err != nil {
		t.log.Error().Err(err).Msg("invalid cycle unit")
		return err
	}
	t.cycleUnit = cycleUnit

	offset, err := datetime.ParseOffset(t.profile.TaskFileTimeOffset)
	if err != nil {
		t.log.Error().Err(err).Msg("invalid task file time offset")
		return err
	}
	t.offset = offset

	t.originPatterns = t.profile.Patterns()
	if len(t.originPatterns) == 0 {
		err := fmt.Errorf("task profile %q: fileDirFilterPatterns yielded no patterns", t.profile.TaskID)
		t.log.Error().Err(err).Msg("no usable origin patterns")
		return err
	}

	if err := t.instances.Start(ctx); err != nil {
		t.log.Error().Err(err).Msg("failed to start instance manager")
		return err
	}
	t.eventMap = eventmap.New(t.instances.ShouldAddAgain)

	if t.profile.TaskRetry {
		t.retry = true
		t.startTime = time.UnixMilli(t.profile.TaskStartTime)
		t.endTime = time.UnixMilli(t.profile.TaskEndTime)
		for _, pattern := range t.originPatterns {
			layers, err := pathpattern.Split(pattern)
			if err != nil {
				t.log.Warn().Err(err).Str("pattern", pattern).Msg("invalid origin pattern, skipping")
				continue
			}
			t.mu.Lock()
			t.patternLayers[pattern] = layers
			t.scanners[pattern] = scanner.New(layers, t.engine, t.cycleUnit, t.profile.FileMaxNum, t.log)
			t.mu.Unlock()
		}
	} else {
		for _, pattern := range t.originPatterns {
			if err := t.addPathPattern(ctx, pattern); err != nil {
				t.log.Warn().Err(err).Str("pattern", pattern).Msg("invalid origin pattern, skipping")
			}
		}
	}

	t.initOK.Store(true)
	return nil
}

// addPathPattern splits origin, registers its scanner unconditionally, and
// attempts to stand up a watch entity. A missing static root, "too many
// open files", or any other registration I/O error records origin in
// watchFailedDirs for retry on the next tick rather than failing Init.
func (t *Task) addPathPattern(ctx context.Context, origin string) error {
	layers, err := pathpattern.Split(origin)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.patternLayers[origin] = layers
	t.scanners[origin] = scanner.New(layers, t.engine, t.cycleUnit, t.profile.FileMaxNum, t.log)
	t.mu.Unlock()

	if _, err := os.Stat(layers.StaticRoot); err != nil {
		if !os.IsNotExist(err) {
			t.logRegistrationErr(origin, err)
		}
		t.markWatchFailed(origin)
		return nil
	}

	entity, err := watch.New(layers, t.log)
	if err != nil {
		t.logRegistrationErr(origin, err)
		t.markWatchFailed(origin)
		return nil
	}
	if err := entity.Start(ctx); err != nil {
		t.logRegistrationErr(origin, err)
		t.markWatchFailed(origin)
		return nil
	}

	t.mu.Lock()
	t.watchers[origin] = entity
	delete(t.watchFailedDirs, origin)
	t.mu.Unlock()
	return nil
}

func (t *Task) markWatchFailed(origin string) {
	t.mu.Lock()
	t.watchFailedDirs[origin] = true
	t.mu.Unlock()
}

func (t *Task) logRegistrationErr(origin string, err error) {
	if strings.Contains(err.Error(), "too many open files") {
		t.log.Warn().Str("pattern", origin).Msg("too many open files registering watch")
		return
	}
	t.log.Error().Err(err).Str("pattern", origin).Msg("error registering watch")
}

// Run is the core loop: a cooperative ~1Hz tick until the task reaches a
// terminal state or ctx is cancelled.
func (t *Task) Run(ctx context.Context) {
	t.running.Store(true)
	t.state.CompareAndSwap(int32(StateNew), int32(StateRunning))
	defer t.running.Store(false)

	for {
		t.coreThreadUpdate.Store(time.Now().UnixNano())

		select {
		case <-ctx.Done():
			return
		case <-time.After(coreThreadSleep):
		}

		if t.terminal() {
			return
		}
		if !t.initOK.Load() {
			continue
		}

		if t.retry {
			t.runForRetry(ctx)
		} else {
			t.runForNormal(ctx)
		}

		if t.terminal() {
			return
		}
	}
}

func (t *Task) terminal() bool {
	s := State(t.state.Load())
	return s == StateSucceeded || s == StateFailed
}

func (t *Task) runForNormal(ctx context.Context) {
	now := time.Now()
	lastScan := t.lastScanTime.Load()
	if lastScan == 0 || now.Sub(time.Unix(0, lastScan)) > scanInterval {
		t.scanPatterns(ctx, now)
		t.lastScanTime.Store(now.UnixNano())
	}

	t.retryFailedWatches(ctx)
	t.drainWatchers(ctx)

	t.eventMap.AgeOut(now, ageOutHorizon)
	t.eventMap.ReleaseDue(ctx, now, t.submit)
}

func (t *Task) runForRetry(ctx context.Context) {
	if !t.retryScanned.Load() {
		t.scanRetryWindow(ctx)
		t.retryScanned.Store(true)
	}

	t.eventMap.ReleaseDue(ctx, time.Now(), t.submit)

	if t.instances.AllInstanceFinished() {
		t.taskManager.SubmitAction(TaskAction{Type: Finish, Profile: t.profile})
		t.state.Store(int32(StateSucceeded))
	}
}

// scanPatterns scans the last two cycle units of each pattern, shifted by
// -taskFileTimeOffset, into the event map (runForNormal's periodic catch-up
// scan; compensates for missed or overflowed watch events).
func (t *Task) scanPatterns(ctx context.Context, now time.Time) {
	shiftedEnd := t.offset.Negate().Apply(now)
	twoCyclesBack := datetime.TimeOffset{Amount: -2, Unit: t.cycleUnit}
	shiftedStart := twoCyclesBack.Apply(shiftedEnd)

	start := time.Now()
	t.scanInto(ctx, shiftedStart, shiftedEnd)
	t.lastScanDuration.Store(int64(time.Since(start)))
}

func (t *Task) scanRetryWindow(ctx context.Context) {
	t.scanInto(ctx, t.startTime, t.endTime)
}

func (t *Task) scanInto(ctx context.Context, start, end time.Time) {
	t.mu.Lock()
	scanners := make(map[string]*scanner.Scanner, len(t.scanners))
	for origin, sc := range t.scanners {
		scanners[origin] = sc
	}
	t.mu.Unlock()

	for origin, sc := range scanners {
		matches, err := sc.ScanBetween(ctx, start, end)
		if err != nil {
			t.log.Warn().Err(err).Str("pattern", origin).Msg("scan failed")
			continue
		}
		for _, m := range matches {
			t.addToEventMap(m.Path, m.DataTime, m.ModTime)
		}
	}
}

func (t *Task) retryFailedWatches(ctx context.Context) {
	t.mu.Lock()
	failed := make([]string, 0, len(t.watchFailedDirs))
	for origin := range t.watchFailedDirs {
		failed = append(failed, origin)
	}
	t.mu.Unlock()

	for _, origin := range failed {
		if err := t.addPathPattern(ctx, origin); err != nil {
			t.log.Warn().Err(err).Str("pattern", origin).Msg("retry of failed watch pattern errored")
		}
	}
}

func (t *Task) drainWatchers(ctx context.Context) {
	t.mu.Lock()
	watchers := make(map[string]*watch.Entity, len(t.watchers))
	for origin, w := range t.watchers {
		watchers[origin] = w
	}
	t.mu.Unlock()

	for origin, entity := range watchers {
		t.drainOneWatcher(ctx, origin, entity)
	}
}

func (t *Task) drainOneWatcher(ctx context.Context, origin string, entity *watch.Entity) {
	t.mu.Lock()
	layers := t.patternLayers[origin]
	t.mu.Unlock()
	if layers == nil {
		return
	}

	for {
		select {
		case cand, ok := <-entity.Events:
			if !ok {
				t.rebuildWatcher(ctx, origin)
				return
			}
			t.handleCandidate(layers, cand.Path)
		default:
			if entity.Invalid() {
				t.rebuildWatcher(ctx, origin)
			}
			return
		}
	}
}

func (t *Task) handleCandidate(layers *pathpattern.Layers, path string) {
	dataTime, ok := t.checkFileNameForTime(layers, path)
	if !ok {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return // removed between event and drain
	}
	t.addToEventMap(path, dataTime, info.ModTime())
}

// rebuildWatcher closes and recreates the watch entity for origin wholesale
// (spec §4.D: "rebuild the entire watch service for this entity").
func (t *Task) rebuildWatcher(ctx context.Context, origin string) {
	t.mu.Lock()
	old := t.watchers[origin]
	delete(t.watchers, origin)
	t.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if err := t.addPathPattern(ctx, origin); err != nil {
		t.log.Warn().Err(err).Str("pattern", origin).Msg("failed to rebuild watch entity")
	}
}

// checkFileNameForTime validates path's data time against the cycle
// window when the pattern carries a date token; otherwise it accepts the
// file unconditionally (spec §4.F).
func (t *Task) checkFileNameForTime(layers *pathpattern.Layers, path string) (string, bool) {
	if layers.LongestDatePattern == "" {
		return "", true
	}

	dataTime, err := t.getDataTimeFromFileName(layers, path)
	if err != nil {
		t.log.Warn().Err(err).Str("path", path).Msg("failed to extract data time")
		return "", false
	}
	if dataTime == "" {
		return "", false
	}

	valid, err := t.engine.IsValidCreationTimeWindow(dataTime, t.cycleUnit, time.Now(), 2*24*time.Hour)
	if err != nil || !valid {
		return dataTime, false
	}
	return dataTime, true
}

// getDataTimeFromFileName extracts the data-time substring via
// DatePatternEngine, already digits-only normalised.
func (t *Task) getDataTimeFromFileName(layers *pathpattern.Layers, path string) (string, error) {
	return t.engine.ExtractDataTime(path, layers.Origin, layers.LongestDatePattern)
}

// addToEventMap computes the release time for dataTime and offers the file
// into the event map. An empty dataTime (no date token in the pattern, per
// Design Note/Open Question 2) resolves to the current time — the bucket is
// due on the next release pass and is not dropped by AgeOut first.
func (t *Task) addToEventMap(path, dataTime string, mtime time.Time) {
	releaseAt, err := t.engine.ShouldStartTime(dataTime, t.cycleUnit, t.offset)
	if err != nil {
		releaseAt = time.Now()
	}
	t.eventMap.Offer(eventmap.InstanceProfile{
		FilePath:  path,
		DataTime:  dataTime,
		TaskID:    t.profile.TaskID,
		CreatedAt: time.Now(),
		ModTime:   mtime,
	}, releaseAt)
}

func (t *Task) submit(profile eventmap.InstanceProfile) bool {
	ok := t.instances.SubmitAction(instancemgr.InstanceAction{Type: instancemgr.Add, Profile: &profile})
	if ok {
		t.submissions.Add(1)
	}
	return ok
}

// Destroy transitions the task to SUCCEEDED, stops the instance manager,
// and quiesces the core loop before releasing every watch entity.
func (t *Task) Destroy(ctx context.Context) {
	t.state.Store(int32(StateSucceeded))
	if t.instances != nil {
		t.instances.Stop()
	}
	t.releaseWatchers(ctx)
}

// releaseWatchers waits for the core loop to observe the terminal state
// transition, up to CORE_THREAD_MAX_GAP_TIME_MS — at which point the loop
// is presumed stuck and the destructor proceeds anyway — then closes every
// watch service.
func (t *Task) releaseWatchers(ctx context.Context) {
quiesce:
	for {
		if !t.running.Load() {
			break quiesce
		}
		last := t.coreThreadUpdate.Load()
		if last != 0 && time.Since(time.Unix(0, last)) > coreThreadMaxGapTime {
			t.log.Warn().Msg("core loop stalled past max gap time, force-closing watch services")
			break quiesce
		}
		select {
		case <-ctx.Done():
			break quiesce
		case <-time.After(50 * time.Millisecond):
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for origin, entity := range t.watchers {
		if err := entity.Close(); err != nil {
			t.log.Warn().Err(err).Str("pattern", origin).Msg("error closing watch entity")
		}
	}
	t.watchers = make(map[string]*watch.Entity)
}

// TaskID returns the owning profile's task ID, for metrics and status
// reporting.
func (t *Task) TaskID() string { return t.profile.TaskID }

// State returns the task's current lifecycle state.
func (t *Task) State() State { return State(t.state.Load()) }

// Running reports whether the core loop is currently executing.
func (t *Task) Running() bool { return t.running.Load() }

// EventMapBuckets reports the number of open event-map buckets.
func (t *Task) EventMapBuckets() int { return t.eventMap.Len() }

// EventMapEntries reports the total number of profiles across all open
// event-map buckets.
func (t *Task) EventMapEntries() int { return t.eventMap.EntryCount() }

// WatchFailedCount reports the number of patterns currently awaiting a
// successful watch registration retry.
func (t *Task) WatchFailedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.watchFailedDirs)
}

// LastScanDuration reports how long the most recent periodic scan took.
func (t *Task) LastScanDuration() time.Duration {
	return time.Duration(t.lastScanDuration.Load())
}

// LastScanTime reports when the most recent periodic scan ran, or the zero
// value if none has run yet.
func (t *Task) LastScanTime() time.Time {
	ns := t.lastScanTime.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// SubmissionsTotal reports the cumulative number of successful submissions
// to the instance manager.
func (t *Task) SubmissionsTotal() int64 { return t.submissions.Load() }

// TaskSnapshot is a point-in-time, read-only view of one task's status,
// built from atomic loads and short lock-guarded counts (watch-failed
// patterns, event-map sizes). statusapi publishes these rather than
// handing concurrent readers a pointer into live orchestrator state (spec
// §5: "concurrent readers must treat [task state] as snapshots").
type TaskSnapshot struct {
	TaskID          string    `json:"taskId"`
	State           string    `json:"state"`
	Running         bool      `json:"running"`
	EventMapBuckets int       `json:"eventMapBuckets"`
	EventMapEntries int       `json:"eventMapEntries"`
	WatchFailedDirs int       `json:"watchFailedDirs"`
	LastScanTime    time.Time `json:"lastScanTime,omitempty"`
}

// Snapshot builds a TaskSnapshot from the task's current atomic state.
func (t *Task) Snapshot() TaskSnapshot {
	return TaskSnapshot{
		TaskID:          t.TaskID(),
		State:           t.State().String(),
		Running:         t.Running(),
		EventMapBuckets: t.EventMapBuckets(),
		EventMapEntries: t.EventMapEntries(),
		WatchFailedDirs: t.WatchFailedCount(),
		LastScanTime:    t.LastScanTime(),
	}
}
