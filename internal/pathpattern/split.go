// Package pathpattern splits an origin pattern — a path expression mixing
// literal segments, glob wildcards, and date tokens — into the layered
// regex form the scanner and watcher need: a static root to walk from, an
// intermediate-directory regex, and a file-name regex.
package pathpattern

import (
	"fmt"
	"regexp"
	"strings"
)

// InvalidPatternError is returned when an origin pattern has no static root
// (the very first path segment is already dynamic).
type InvalidPatternError struct {
	Pattern string
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("pathpattern: no static root in pattern %q", e.Pattern)
}

// Layers is the derived, per-OriginPattern shape used by FileScanner and
// WatchEntity.
type Layers struct {
	Origin string

	// StaticRoot is the longest leading prefix with no wildcard/date token.
	StaticRoot string

	// IntermediateDirRegex matches the first dynamic directory segment
	// below StaticRoot; deeper dynamic directory segments get no regex of
	// their own. Equal to FileNameRegex when the pattern has only one
	// dynamic segment.
	IntermediateDirRegex *regexp.Regexp

	// FileNameRegex matches the final path segment.
	FileNameRegex *regexp.Regexp

	// LongestDatePattern is the longest contiguous run of date-token
	// characters (plus interleaved literal separators) found anywhere in
	// Origin; empty if Origin carries no date token at all.
	LongestDatePattern string

	// DirDepth is the number of dynamic directory segments between
	// StaticRoot and the file itself (e.g. 1 for ".../YYYYMMDDhh/*.log", 3
	// for ".../YYYY/MM/DD/*.log"). FileScanner uses this to size its walk
	// depth so a multi-segment date path isn't cut short by a fixed cap.
	DirDepth int
}

var tokenRe = regexp.MustCompile(`YYYY|MM|DD|hh|mm`)

// isDynamic reports whether a path segment contains a glob wildcard, a date
// token, or a bare regex metacharacter — any of which end the static root.
func isDynamic(segment string) bool {
	if tokenRe.MatchString(segment) {
		return true
	}
	return strings.ContainsAny(segment, "*?[]{}()+^$|")
}

// Split derives Layers from an origin pattern. Walks the pattern left to
// right; the static root ends at the last path separator before the first
// dynamic segment.
func Split(origin string) (*Layers, error) {
	segments := strings.Split(origin, "/")

	staticEnd := -1 // index of the last static segment
	for i, seg := range segments {
		if isDynamic(seg) {
			break
		}
		staticEnd = i
	}

	if staticEnd < 0 {
		return nil, &InvalidPatternError{Pattern: origin}
	}

	staticRoot := strings.Join(segments[:staticEnd+1], "/")
	if staticRoot == "" {
		staticRoot = "/"
	}

	dynamicSegments := segments[staticEnd+1:]
	if len(dynamicSegments) == 0 {
		return nil, &InvalidPatternError{Pattern: origin}
	}

	fileSeg := dynamicSegments[len(dynamicSegments)-1]
	fileRe, err := compileSegment(fileSeg)
	if err != nil {
		return nil, fmt.Errorf("pathpattern: file segment %q: %w", fileSeg, err)
	}

	var intermediateRe *regexp.Regexp
	if len(dynamicSegments) == 1 {
		// Only one dynamic segment: intermediate regex equals file regex.
		intermediateRe = fileRe
	} else {
		interSeg := dynamicSegments[0]
		intermediateRe, err = compileSegment(interSeg)
		if err != nil {
			return nil, fmt.Errorf("pathpattern: intermediate segment %q: %w", interSeg, err)
		}
	}

	return &Layers{
		Origin:               origin,
		StaticRoot:           staticRoot,
		IntermediateDirRegex: intermediateRe,
		FileNameRegex:        fileRe,
		LongestDatePattern:   longestDateRun(origin),
		DirDepth:             len(dynamicSegments) - 1,
	}, nil
}

// compileSegment converts one path segment (possibly with `*` wildcards and
// date tokens) into an anchored regex matching that segment in isolation.
func compileSegment(segment string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	i := 0
	for i < len(segment) {
		if m := tokenRe.FindStringIndex(segment[i:]); m != nil && m[0] == 0 {
			tok := segment[i : i+m[1]]
			b.WriteString(tokenWidthRegex(tok))
			i += len(tok)
			continue
		}
		switch segment[i] {
		case '*':
			b.WriteString(`[^/]*`)
		default:
			b.WriteString(regexp.QuoteMeta(string(segment[i])))
		}
		i++
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

func tokenWidthRegex(tok string) string {
	switch tok {
	case "YYYY":
		return `\d{4}`
	case "MM", "DD", "hh", "mm":
		return `\d{2}`
	default:
		return regexp.QuoteMeta(tok)
	}
}

// longestDateRun finds the longest contiguous run of date-token characters
// (plus any literal separators between tokens, but never crossing a glob
// wildcard) anywhere in pattern. Overlapping tokens are not supported.
func longestDateRun(pattern string) string {
	longest := ""
	cur := ""
	lastTokEnd := 0 // len(cur) just after its most recent token
	hasToken := false

	flush := func() {
		if hasToken && lastTokEnd > len(longest) {
			longest = cur[:lastTokEnd]
		}
		cur = ""
		lastTokEnd = 0
		hasToken = false
	}

	i := 0
	for i < len(pattern) {
		if m := tokenRe.FindStringIndex(pattern[i:]); m != nil && m[0] == 0 {
			tok := pattern[i : i+m[1]]
			cur += tok
			lastTokEnd = len(cur)
			hasToken = true
			i += len(tok)
			continue
		}
		switch pattern[i] {
		case '*':
			flush()
		default:
			if hasToken {
				cur += string(pattern[i])
			}
		}
		i++
	}
	flush()
	return longest
}
