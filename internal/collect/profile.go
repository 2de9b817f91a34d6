// Package collect implements LogFileCollectTask: the orchestrator that owns
// one task's discovery state machine, runs its core loop, and coordinates
// the date-pattern engine, path-pattern splitter, scanner, watch entities,
// and event map. Grounded on the teacher's ingest.Pipeline (struct shape,
// zerolog per-component logger, atomic status fields, Start/Stop lifecycle,
// ticker-driven background loops).
package collect

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TaskProfile is the schema-typed replacement for the reflection-hydrated
// generic map the source used (Design Note: "reflection-based JSON typing
// ... should be replaced by explicit schema-typed records"). Extra carries
// any user-defined keys the core itself does not interpret.
type TaskProfile struct {
	TaskID    string `json:"taskId"`
	Source    string `json:"source"`
	Sink      string `json:"sink"`
	Channel   string `json:"channel"`
	GroupID   string `json:"groupId"`
	StreamID  string `json:"streamId"`
	CycleUnit string `json:"cycleUnit"`

	FileDirFilterPatterns string `json:"fileDirFilterPatterns"` // comma-separated OriginPatterns
	TaskFileTimeOffset    string `json:"taskFileTimeOffset"`    // e.g. "-1h", "+2D"
	FileMaxNum            int    `json:"fileMaxNum"`

	TaskRetry     bool  `json:"taskRetry"`
	TaskStartTime int64 `json:"taskStartTime"` // epoch millis, required iff TaskRetry
	TaskEndTime   int64 `json:"taskEndTime"`   // epoch millis, required iff TaskRetry

	TimeZone string `json:"timeZone,omitempty"` // IANA zone; default per config.Config.DefaultTimeZone

	Extra map[string]string `json:"extra,omitempty"`
}

// Validate checks the required-key contract from spec §6/§4.F step 1.
func (p *TaskProfile) Validate() error {
	missing := make([]string, 0, 8)
	if p.TaskID == "" {
		missing = append(missing, "taskId")
	}
	if p.Source == "" {
		missing = append(missing, "source")
	}
	if p.Sink == "" {
		missing = append(missing, "sink")
	}
	if p.Channel == "" {
		missing = append(missing, "channel")
	}
	if p.GroupID == "" {
		missing = append(missing, "groupId")
	}
	if p.StreamID == "" {
		missing = append(missing, "streamId")
	}
	if p.CycleUnit == "" {
		missing = append(missing, "cycleUnit")
	}
	if p.FileDirFilterPatterns == "" {
		missing = append(missing, "fileDirFilterPatterns")
	}
	if p.TaskFileTimeOffset == "" {
		missing = append(missing, "taskFileTimeOffset")
	}
	if p.FileMaxNum <= 0 {
		missing = append(missing, "fileMaxNum")
	}
	if len(missing) > 0 {
		return fmt.Errorf("task profile %q missing required keys: %s", p.TaskID, strings.Join(missing, ", "))
	}
	if p.TaskRetry && (p.TaskStartTime == 0 || p.TaskEndTime == 0) {
		return fmt.Errorf("task profile %q: taskRetry requires non-zero taskStartTime and taskEndTime", p.TaskID)
	}
	return nil
}

// Patterns splits FileDirFilterPatterns on comma, trimming whitespace.
func (p *TaskProfile) Patterns() []string {
	parts := strings.Split(p.FileDirFilterPatterns, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadProfilesFromDir reads every *.json file in dir as a TaskProfile. Files
// that fail to parse are skipped with their error collected, not fatal to
// the other profiles — one malformed task profile should not prevent the
// rest of the fleet from starting.
func LoadProfilesFromDir(dir string) ([]*TaskProfile, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("read profile dir %q: %w", dir, err)}
	}

	var profiles []*TaskProfile
	var errs []error
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, ent.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("read profile %q: %w", path, err))
			continue
		}
		var p TaskProfile
		if err := json.Unmarshal(data, &p); err != nil {
			errs = append(errs, fmt.Errorf("parse profile %q: %w", path, err))
			continue
		}
		profiles = append(profiles, &p)
	}
	return profiles, errs
}
