// Package timespec parses the --since/--until style time bounds used by the
// CLI's run listing.
package timespec

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// now is replaced in tests.
var now = time.Now

// Parse converts a time specification to a Unix timestamp in milliseconds.
// Accepted forms:
//   - RFC3339 timestamps: "2025-10-29T13:00:00Z"
//   - Go durations, relative to now: "90m", "1h30m"
//   - whole days, relative to now: "7d"
func Parse(spec string) (int64, error) {
	if spec == "" {
		return 0, fmt.Errorf("empty time specification")
	}

	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t.UnixMilli(), nil
	}

	if d, ok := parseDays(spec); ok {
		return now().Add(-d).UnixMilli(), nil
	}

	if d, err := time.ParseDuration(spec); err == nil {
		return now().Add(-d).UnixMilli(), nil
	}

	return 0, fmt.Errorf("invalid time specification: %s (use a duration like '1h30m' or '7d', or RFC3339 like '2025-10-29T13:00:00Z')", spec)
}

func parseDays(spec string) (time.Duration, bool) {
	n, ok := strings.CutSuffix(spec, "d")
	if !ok {
		return 0, false
	}
	days, err := strconv.Atoi(n)
	if err != nil || days < 0 {
		return 0, false
	}
	return time.Duration(days) * 24 * time.Hour, true
}

// ParseRange parses both bounds. Zero means unbounded on that side.
func ParseRange(since, until string) (int64, int64, error) {
	var sinceMs, untilMs int64
	var err error

	if since != "" {
		if sinceMs, err = Parse(since); err != nil {
			return 0, 0, fmt.Errorf("invalid --since: %w", err)
		}
	}
	if until != "" {
		if untilMs, err = Parse(until); err != nil {
			return 0, 0, fmt.Errorf("invalid --until: %w", err)
		}
	}

	if sinceMs > 0 && untilMs > 0 && sinceMs >= untilMs {
		return 0, 0, fmt.Errorf("--since must be before --until")
	}
	return sinceMs, untilMs, nil
}
