// Package eventmap implements EventMap: a time-gated holding area that
// groups discovered files by data time and releases each bucket once its
// cycle's ShouldStartTime has passed. Grounded on the teacher's generic
// Batcher[T] (internal/ingest/batcher.go) — adapted from size/interval
// flush triggers to a per-bucket release time supplied by the caller.
package eventmap

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InstanceProfile is one file awaiting submission within a data-time bucket.
type InstanceProfile struct {
	FilePath  string
	DataTime  string
	TaskID    string
	CreatedAt time.Time
	ModTime   time.Time
	Extra     map[string]string
}

// bucket holds every InstanceProfile discovered for one data time, plus the
// wall-clock moment at which the bucket becomes eligible for release.
type bucket struct {
	profiles  map[string]InstanceProfile // filePath -> profile
	releaseAt time.Time
}

// RetryBackoff is how long ReleaseDue sleeps before retrying an entry whose
// submit callback reports the downstream queue full, so one bucket
// back-pressures without touching buckets that are not currently blocked.
const RetryBackoff = time.Second

// ShouldAddAgainFunc gates a re-offer of a path already present in the
// backing InstanceManager's at-least-once dedup state (spec: "the external
// InstanceManager reports shouldAddAgain(path, mtime) == false").
type ShouldAddAgainFunc func(path string, mtime time.Time) bool

// SubmitFunc hands one profile to the downstream InstanceManager. Returns
// false iff its queue is currently full, in which case the caller retries
// the same entry after RetryBackoff.
type SubmitFunc func(profile InstanceProfile) bool

// Map is the two-level dataTime -> filePath -> InstanceProfile store.
type Map struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	shouldAddAgain ShouldAddAgainFunc
}

func New(shouldAddAgain ShouldAddAgainFunc) *Map {
	if shouldAddAgain == nil {
		shouldAddAgain = func(string, time.Time) bool { return true }
	}
	return &Map{
		buckets:        make(map[string]*bucket),
		shouldAddAgain: shouldAddAgain,
	}
}

// Offer records a file under its data time bucket, creating the bucket if
// necessary. Returns false if (dataTime, filePath) is already present, or
// if the InstanceManager's shouldAddAgain gate rejects the re-offer.
func (m *Map) Offer(profile InstanceProfile, releaseAt time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[profile.DataTime]
	if !ok {
		b = &bucket{profiles: make(map[string]InstanceProfile), releaseAt: releaseAt}
		m.buckets[profile.DataTime] = b
	}

	if _, dup := b.profiles[profile.FilePath]; dup {
		return false
	}
	if !m.shouldAddAgain(profile.FilePath, profile.ModTime) {
		return false
	}

	// releaseAt is a pure function of dataTime (shouldStartTime), so every
	// Offer into the same bucket carries the same value; keep the first.
	b.profiles[profile.FilePath] = profile
	return true
}

// ReleaseDue submits every profile in every bucket whose releaseAt has
// passed as of now, in (createdAt, filePath) order within each bucket. A
// profile is removed from its bucket only once submit reports success; on
// queue-full (submit returns false) ReleaseDue sleeps RetryBackoff and
// retries the same entry, leaving every other bucket untouched until this
// one drains or ctx is cancelled.
func (m *Map) ReleaseDue(ctx context.Context, now time.Time, submit SubmitFunc) {
	for _, dataTime := range m.dueDataTimes(now) {
		if ctx.Err() != nil {
			return
		}
		m.releaseBucket(ctx, dataTime, submit)
	}
}

func (m *Map) dueDataTimes(now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []string
	for dataTime, b := range m.buckets {
		if !b.releaseAt.After(now) {
			due = append(due, dataTime)
		}
	}
	return due
}

func (m *Map) releaseBucket(ctx context.Context, dataTime string, submit SubmitFunc) {
	for {
		profile, ok := m.nextUnsubmitted(dataTime)
		if !ok {
			return
		}
		if submit(profile) {
			m.remove(dataTime, profile.FilePath)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(RetryBackoff):
		}
	}
}

func (m *Map) nextUnsubmitted(dataTime string) (InstanceProfile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[dataTime]
	if !ok || len(b.profiles) == 0 {
		return InstanceProfile{}, false
	}
	return sortedProfiles(b)[0], true
}

func (m *Map) remove(dataTime, filePath string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[dataTime]
	if !ok {
		return
	}
	delete(b.profiles, filePath)
	if len(b.profiles) == 0 {
		delete(m.buckets, dataTime)
	}
}

// AgeOut drops any bucket whose releaseAt is older than maxAge before now,
// without releasing its contents — used to bound memory when a bucket's
// downstream consumer never drains it (e.g. a task destroyed mid-flight).
// Returns the data times discarded, for logging.
func (m *Map) AgeOut(now time.Time, maxAge time.Duration) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var dropped []string
	for dataTime, b := range m.buckets {
		if now.Sub(b.releaseAt) > maxAge {
			dropped = append(dropped, dataTime)
			delete(m.buckets, dataTime)
		}
	}
	return dropped
}

// Len reports the number of open buckets.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// EntryCount reports the total number of profiles across all open buckets.
func (m *Map) EntryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.buckets {
		n += len(b.profiles)
	}
	return n
}

func sortedProfiles(b *bucket) []InstanceProfile {
	out := make([]InstanceProfile, 0, len(b.profiles))
	for _, p := range b.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].FilePath < out[j].FilePath
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
