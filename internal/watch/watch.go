// Package watch implements WatchEntity: a recursive fsnotify watch rooted at
// one task's static root, producing file-creation candidates for immediate
// submission in normal mode. Grounded on the teacher's ingest.FileWatcher
// (fsnotify.Watcher lifecycle, directory-create → re-register, debounce via
// time.AfterFunc) and standardbeagle-lci's addWatches (symlink-cycle-safe
// recursive registration via EvalSymlinks + a visited-directory set).
package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/snarg/filecollect/internal/pathpattern"
)

// DebounceInterval coalesces rapid Create+Write events on the same file,
// mirroring the teacher's 500ms debounce window.
const DebounceInterval = 500 * time.Millisecond

// Candidate is a file the watcher believes is ready to be read: its Create
// or Write event has settled for DebounceInterval.
type Candidate struct {
	Path string
}

// Entity watches one task's static root recursively and emits Candidates on
// Events. A watch entity is single-purpose: one per origin pattern of a
// LogFileCollectTask, rebuilt wholesale (closed and recreated by
// collect.Task.rebuildWatcher) rather than patched in place, since fsnotify
// offers no atomic "replace watch root" primitive.
type Entity struct {
	layers *pathpattern.Layers
	log    zerolog.Logger

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc

	Events chan Candidate

	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	invalidMu sync.Mutex
	invalid   bool
}

// New creates an Entity watching layers.StaticRoot recursively. Returns an
// error only if the underlying fsnotify watcher cannot be created; a missing
// StaticRoot is tolerated (registerRecursively simply finds nothing to add)
// since the directory may appear later.
func New(layers *pathpattern.Layers, log zerolog.Logger) (*Entity, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	e := &Entity{
		layers:         layers,
		log:            log.With().Str("component", "watch").Str("root", layers.StaticRoot).Logger(),
		watcher:        w,
		Events:         make(chan Candidate, 256),
		debounceTimers: make(map[string]*time.Timer),
	}
	return e, nil
}

// Start registers every existing directory under StaticRoot and begins
// processing fsnotify events until ctx is cancelled.
func (e *Entity) Start(ctx context.Context) error {
	if err := e.registerRecursively(e.layers.StaticRoot); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	go e.drainEvents(ctx)
	return nil
}

// registerRecursively walks root and adds every directory to the fsnotify
// watch set, tracking real (symlink-resolved) paths to avoid an infinite
// loop on a symlink cycle. A root that does not exist yet is not an error.
func (e *Entity) registerRecursively(root string) error {
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	visited := make(map[string]bool)
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			e.logWalkErr(path, err)
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		real, err := filepath.EvalSymlinks(path)
		if err != nil {
			return nil
		}
		if visited[real] {
			return filepath.SkipDir
		}
		visited[real] = true

		if err := e.watcher.Add(path); err != nil {
			e.log.Warn().Err(err).Str("dir", path).Msg("failed to add watch")
		}
		return nil
	})
}

// drainEvents is the Entity's event loop. Directory creations are
// re-registered immediately so nested date directories (e.g. a fresh
// YYYYMMDDhh/ at the top of the hour) are picked up without a restart; file
// creations and writes are debounced and surfaced on Events. An fsnotify
// overflow (ErrEventOverflow) or any Errors-channel signal marks the
// watcher invalid — Invalid() is the caller's cue to rebuild from scratch,
// since fsnotify gives no way to know which watches were lost.
func (e *Entity) drainEvents(ctx context.Context) {
	defer close(e.Events)
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-e.watcher.Events:
			if !ok {
				return
			}
			e.handleEvent(ev)

		case err, ok := <-e.watcher.Errors:
			if !ok {
				return
			}
			e.markInvalid(err)
		}
	}
}

func (e *Entity) handleEvent(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	info, err := os.Stat(ev.Name)
	if err != nil {
		return // removed before we could stat it
	}

	if info.IsDir() {
		if ev.Op&fsnotify.Create != 0 {
			if err := e.registerRecursively(ev.Name); err != nil {
				e.log.Warn().Err(err).Str("dir", ev.Name).Msg("failed to register new directory")
			}
		}
		return
	}

	e.scheduleCandidate(ev.Name)
}

func (e *Entity) scheduleCandidate(path string) {
	e.debounceMu.Lock()
	defer e.debounceMu.Unlock()

	if t, ok := e.debounceTimers[path]; ok {
		t.Reset(DebounceInterval)
		return
	}
	e.debounceTimers[path] = time.AfterFunc(DebounceInterval, func() {
		e.debounceMu.Lock()
		delete(e.debounceTimers, path)
		e.debounceMu.Unlock()

		select {
		case e.Events <- Candidate{Path: path}:
		default:
			e.log.Warn().Str("path", path).Msg("candidate channel full, dropping event")
		}
	})
}

func (e *Entity) markInvalid(err error) {
	e.invalidMu.Lock()
	e.invalid = true
	e.invalidMu.Unlock()

	if errors.Is(err, fsnotify.ErrEventOverflow) {
		e.log.Warn().Err(err).Msg("fsnotify event queue overflowed, watch entity needs rebuilding")
		return
	}
	if strings.Contains(err.Error(), "too many open files") {
		e.log.Warn().Str("root", e.layers.StaticRoot).Msg("too many open files watching directory tree")
		return
	}
	e.log.Error().Err(err).Msg("fsnotify error")
}

// Invalid reports whether the watcher has seen an error that invalidates its
// current registration set (the precondition for collect.Task to rebuild it).
func (e *Entity) Invalid() bool {
	e.invalidMu.Lock()
	defer e.invalidMu.Unlock()
	return e.invalid
}

// Close releases the underlying fsnotify watcher and stops the event loop.
func (e *Entity) Close() error {
	if e.cancel != nil {
		e.cancel()
	}
	e.debounceMu.Lock()
	for _, t := range e.debounceTimers {
		t.Stop()
	}
	e.debounceMu.Unlock()
	return e.watcher.Close()
}

func (e *Entity) logWalkErr(path string, err error) {
	if strings.Contains(err.Error(), "too many open files") {
		e.log.Warn().Str("path", path).Msg("too many open files while registering watches")
		return
	}
	e.log.Error().Err(err).Str("path", path).Msg("error walking directory for watch registration")
}
