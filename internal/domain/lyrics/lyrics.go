// Package lyrics parses timed-lyric (LRC) text into a time-ordered line
// sequence for progressive highlighting.
package lyrics

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Line is a single lyric entry anchored at a playback timestamp.
type Line struct {
	At   time.Duration
	Text string
}

var (
	// timeTag matches a leading [mm:ss] or [mm:ss.xx] timestamp tag.
	timeTag = regexp.MustCompile(`^\[(\d{1,3}):(\d{1,2})(?:\.(\d{1,3}))?\]`)
	// metaTag matches metadata tags like [ar:...], [ti:...], [offset:...].
	metaTag = regexp.MustCompile(`^\[[A-Za-z#][^\]]*\]$`)
)

// Parse converts raw LRC text into entries sorted ascending by timestamp.
//
// A line may carry multiple timestamp tags; the text is repeated once per
// tag. Pure metadata tag lines are dropped. A line with no timestamp but
// non-empty text inherits the timestamp of the previously parsed entry (0 if
// none yet), so malformed input loses no content. Tags with out-of-range
// seconds are treated as malformed and skipped. When several entries share a
// timestamp, the last one parsed sorts after the others (stable sort).
func Parse(raw string) []Line {
	var entries []Line
	var lastAt time.Duration

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")

		var times []time.Duration
		rest := line
		for {
			m := timeTag.FindStringSubmatch(rest)
			if m == nil {
				break
			}
			rest = rest[len(m[0]):]
			at, ok := tagTime(m)
			if !ok {
				continue
			}
			times = append(times, at)
		}

		text := strings.TrimSpace(rest)

		if len(times) == 0 {
			// Metadata tag lines carry no lyric content.
			if metaTag.MatchString(strings.TrimSpace(line)) {
				continue
			}
			if text == "" {
				continue
			}
			// Untimed content inherits the previous entry's timestamp.
			entries = append(entries, Line{At: lastAt, Text: text})
			continue
		}

		for _, at := range times {
			if text == "" {
				continue
			}
			entries = append(entries, Line{At: at, Text: text})
			lastAt = at
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].At < entries[j].At
	})
	return entries
}

// ActiveIndex returns the index of the last entry whose timestamp is <= t,
// or -1 when no entry is active yet. Ties resolve to the last entry parsed
// at that timestamp.
func ActiveIndex(lines []Line, t time.Duration) int {
	// First entry strictly after t; the active line sits just before it.
	i := sort.Search(len(lines), func(i int) bool {
		return lines[i].At > t
	})
	return i - 1
}

// tagTime converts a matched timestamp tag into a duration. Seconds of 60 or
// more mark the tag malformed.
func tagTime(m []string) (time.Duration, bool) {
	min, _ := strconv.Atoi(m[1])
	sec, _ := strconv.Atoi(m[2])
	if sec >= 60 {
		return 0, false
	}

	ms := 0
	switch len(m[3]) {
	case 0:
	case 1:
		ms, _ = strconv.Atoi(m[3])
		ms *= 100
	case 2:
		ms, _ = strconv.Atoi(m[3])
		ms *= 10
	default:
		ms, _ = strconv.Atoi(m[3])
	}

	at := time.Duration(min)*time.Minute +
		time.Duration(sec)*time.Second +
		time.Duration(ms)*time.Millisecond
	return at, true
}
