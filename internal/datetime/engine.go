// Package datetime implements the date-pattern engine: it expands and
// matches date tokens (YYYY, MM, DD, hh, mm) embedded in a path pattern, and
// converts between epoch time and the quantised string form used to key an
// event-map bucket ("data time").
package datetime

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// CycleUnit is the temporal granularity a task partitions data by. It
// determines both the scan-window step and the data-time string format.
type CycleUnit string

const (
	Year      CycleUnit = "Y"
	Month     CycleUnit = "M"
	Day       CycleUnit = "D"
	Hour      CycleUnit = "h"
	Minute    CycleUnit = "m"
	TenMinute CycleUnit = "10m"
)

// ParseCycleUnit validates a cycle unit string from a task profile.
func ParseCycleUnit(s string) (CycleUnit, error) {
	switch CycleUnit(s) {
	case Year, Month, Day, Hour, Minute, TenMinute:
		return CycleUnit(s), nil
	default:
		return "", fmt.Errorf("unknown cycle unit %q", s)
	}
}

// digitLayout is the digits-only time.Format layout for a cycle unit's data
// time string, e.g. Hour → "2006010215".
func (c CycleUnit) digitLayout() string {
	switch c {
	case Year:
		return "2006"
	case Month:
		return "200601"
	case Day:
		return "20060102"
	case Hour:
		return "2006010215"
	case Minute, TenMinute:
		return "200601021504"
	default:
		return "20060102150405"
	}
}

// truncate rounds t down to the start of its cycle, in loc.
func (c CycleUnit) truncate(t time.Time) time.Time {
	switch c {
	case Year:
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, t.Location())
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	case Day:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	case Hour:
		return t.Truncate(time.Hour)
	case Minute:
		return t.Truncate(time.Minute)
	case TenMinute:
		return t.Truncate(10 * time.Minute)
	default:
		return t
	}
}

// next advances t by exactly one cycle, using calendar-correct arithmetic for
// Year/Month/Day (see TimeOffset.Apply — variable-length months and years
// cannot be expressed as a fixed time.Duration).
func (c CycleUnit) next(t time.Time) time.Time {
	switch c {
	case Year:
		return t.AddDate(1, 0, 0)
	case Month:
		return t.AddDate(0, 1, 0)
	case Day:
		return t.AddDate(0, 0, 1)
	case Hour:
		return t.Add(time.Hour)
	case Minute:
		return t.Add(time.Minute)
	case TenMinute:
		return t.Add(10 * time.Minute)
	default:
		return t
	}
}

// dateToken maps a pattern token to its digit width and time.Format layout
// fragment. Table order matters for regex alternation (longest literal
// first is unnecessary here since lengths only collide case-sensitively,
// but we keep YYYY first for readability).
var dateTokens = []struct {
	token  string
	width  int
	layout string
}{
	{"YYYY", 4, "2006"},
	{"MM", 2, "01"},
	{"DD", 2, "02"},
	{"hh", 2, "15"},
	{"mm", 2, "04"},
}

var tokenRe = regexp.MustCompile(`YYYY|MM|DD|hh|mm`)

// HasDateToken reports whether pattern contains any recognised date token.
func HasDateToken(pattern string) bool {
	return tokenRe.MatchString(pattern)
}

// Engine renders and parses date tokens under a fixed time zone. The
// original source pinned a single global formatter/time zone (domain
// convention: UTC+8); here the zone is an explicit, injectable dependency
// so tests can use a virtual clock in any zone.
type Engine struct {
	loc *time.Location
}

func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{loc: loc}
}

// Render substitutes every date token in pattern with its formatted value
// at epochMillis, under the engine's time zone. Unknown tokens pass through
// verbatim.
func (e *Engine) Render(pattern string, epochMillis int64) string {
	t := time.UnixMilli(epochMillis).In(e.loc)
	return tokenRe.ReplaceAllStringFunc(pattern, func(tok string) string {
		for _, dt := range dateTokens {
			if dt.token == tok {
				return t.Format(dt.layout)
			}
		}
		return tok
	})
}

// RenderCycle is Render quantised to the cycle unit's data-time format, i.e.
// render(t, cycleUnit) in the spec's dateRegion usage.
func (e *Engine) RenderCycle(cycleUnit CycleUnit, epochMillis int64) string {
	t := cycleUnit.truncate(time.UnixMilli(epochMillis).In(e.loc))
	return t.Format(cycleUnit.digitLayout())
}

// ExtractDataTime locates the longest date-token region in pattern (as
// identified by pathpattern.Split's LongestDatePattern), reads the
// corresponding region out of filePath, and returns its digits-only
// normalisation (e.g. "2024-01-02_05" → "2024010205"). Returns "" if
// longestDateExpr is empty (no date token in the pattern) or if filePath
// does not match pattern's shape.
func (e *Engine) ExtractDataTime(filePath, pattern, longestDateExpr string) (string, error) {
	if longestDateExpr == "" {
		return "", nil
	}
	idx := strings.Index(pattern, longestDateExpr)
	if idx < 0 {
		return "", fmt.Errorf("date expression %q not found in pattern %q", longestDateExpr, pattern)
	}

	prefix := pattern[:idx]
	suffix := pattern[idx+len(longestDateExpr):]

	var b strings.Builder
	b.WriteString(globToRegexFragment(prefix))
	b.WriteString("(")
	b.WriteString(tokenExprToRegexFragment(longestDateExpr))
	b.WriteString(")")
	b.WriteString(globToRegexFragment(suffix))

	re, err := regexp.Compile("^" + b.String() + "$")
	if err != nil {
		return "", fmt.Errorf("compile date-capture regex: %w", err)
	}

	m := re.FindStringSubmatch(filePath)
	if m == nil {
		return "", nil
	}
	return stripNonDigits(m[1]), nil
}

// tokenExprToRegexFragment converts a date-token chunk (tokens plus any
// literal separators between them, e.g. "YYYY-MM-DD_hh") into a regex that
// matches the same width, without capturing sub-groups (the caller wraps
// the whole chunk in one capture group).
func tokenExprToRegexFragment(expr string) string {
	var b strings.Builder
	i := 0
	for i < len(expr) {
		matched := false
		for _, dt := range dateTokens {
			if strings.HasPrefix(expr[i:], dt.token) {
				b.WriteString(fmt.Sprintf(`\d{%d}`, dt.width))
				i += len(dt.token)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteString(regexp.QuoteMeta(string(expr[i])))
			i++
		}
	}
	return b.String()
}

// globToRegexFragment escapes literal path text and converts `*` glob
// wildcards to a single-path-segment regex class, matching PathPatternSplitter's
// convention ("*" → regex "."-class, scoped to one path segment).
func globToRegexFragment(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*':
			b.WriteString(`[^/]*`)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}

func stripNonDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DateRegion enumerates every cycle boundary in [start, end] inclusive, at
// cycleUnit's granularity. Finite, deterministic, ascending.
func (e *Engine) DateRegion(start, end time.Time, cycleUnit CycleUnit) []time.Time {
	start = start.In(e.loc)
	end = end.In(e.loc)
	if end.Before(start) {
		return nil
	}

	var out []time.Time
	t := cycleUnit.truncate(start)
	for !t.After(end) {
		out = append(out, t)
		next := cycleUnit.next(t)
		if !next.After(t) {
			break // defensive: guarantee forward progress
		}
		t = next
	}
	return out
}

// ShouldStartTime returns the wall-clock moment at which a file carrying
// dataTimeStr becomes eligible for submission: the end of its cycle, plus
// the configured offset (glossary: ShouldStartTime).
func (e *Engine) ShouldStartTime(dataTimeStr string, cycleUnit CycleUnit, offset TimeOffset) (time.Time, error) {
	parsed, err := e.parseDataTime(dataTimeStr, cycleUnit)
	if err != nil {
		return time.Time{}, err
	}
	endOfCycle := cycleUnit.next(parsed)
	return offset.Apply(endOfCycle), nil
}

// parseDataTime parses a digits-only data-time string under cycleUnit's
// layout, in the engine's time zone.
func (e *Engine) parseDataTime(dataTimeStr string, cycleUnit CycleUnit) (time.Time, error) {
	if dataTimeStr == "" {
		return time.Time{}, fmt.Errorf("empty data time")
	}
	layout := cycleUnit.digitLayout()
	if len(dataTimeStr) != len(layout) {
		return time.Time{}, fmt.Errorf("data time %q does not match cycle unit %s layout %q", dataTimeStr, cycleUnit, layout)
	}
	return time.ParseInLocation(layout, dataTimeStr, e.loc)
}

// ParseDataTime parses a digits-only data-time string under cycleUnit's
// layout, in the engine's time zone. Exported for callers (e.g. the scanner)
// that need to compare a file's data time against a scan window.
func (e *Engine) ParseDataTime(dataTimeStr string, cycleUnit CycleUnit) (time.Time, error) {
	return e.parseDataTime(dataTimeStr, cycleUnit)
}

// IsValidCreationTimeWindow bounds-checks dataTimeStr against a ±window
// around now (default window: 2 days, per spec's normal-mode age-out).
func (e *Engine) IsValidCreationTimeWindow(dataTimeStr string, cycleUnit CycleUnit, now time.Time, window time.Duration) (bool, error) {
	parsed, err := e.parseDataTime(dataTimeStr, cycleUnit)
	if err != nil {
		return false, err
	}
	diff := now.Sub(parsed)
	if diff < 0 {
		diff = -diff
	}
	return diff <= window, nil
}

// IsValidCreationTimeCycle bounds-checks dataTimeStr against the current
// cycle under offset: valid iff dataTimeStr's cycle equals the cycle of now
// shifted by offset. collect.Task's checkFileNameForTime does not use it;
// it always checks against IsValidCreationTimeWindow.
func (e *Engine) IsValidCreationTimeCycle(dataTimeStr string, cycleUnit CycleUnit, offset TimeOffset, now time.Time) (bool, error) {
	parsed, err := e.parseDataTime(dataTimeStr, cycleUnit)
	if err != nil {
		return false, err
	}
	shifted := offset.Apply(now)
	return cycleUnit.truncate(parsed).Equal(cycleUnit.truncate(shifted)), nil
}
