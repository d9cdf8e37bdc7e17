package streamcli

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/oremus-labs/lookout-stream/internal/lookout"
)

// streamFlags mirrors the stream command's request-shaping flags.
type streamFlags struct {
	Current     bool
	Historical  bool
	StartTime   string
	EventTypes  []string
	LastEventID string
}

var relativeStart = regexp.MustCompile(`(?i)^(\d+)\s*(d|days?|h|hours?)(\s+ago)?$`)

// buildRequest validates mode exclusivity and turns the flags into a request.
// In current mode --start-time is ignored.
func buildRequest(f streamFlags, now time.Time) (lookout.StreamRequest, error) {
	var req lookout.StreamRequest
	switch {
	case f.Current && f.Historical:
		return req, lookout.NewConfigError("--current and --historical are mutually exclusive")
	case !f.Current && !f.Historical:
		return req, lookout.NewConfigError("one of --current or --historical is required")
	case f.Historical && strings.TrimSpace(f.StartTime) == "":
		return req, lookout.NewConfigError("--historical mode requires --start-time")
	}

	if f.Historical {
		start, err := parseStartTime(f.StartTime, now)
		if err != nil {
			return req, err
		}
		req.StartTime = &start
	}

	types, err := parseEventTypes(f.EventTypes)
	if err != nil {
		return req, err
	}
	req.EventTypes = types
	req.LastEventID = strings.TrimSpace(f.LastEventID)
	return req, nil
}

// parseStartTime accepts RFC 3339, anything dateparse understands, or a
// relative "<n> days ago" / "<n>h" shorthand. Times without a zone are UTC.
// The result must fall within the replay window ending at now.
func parseStartTime(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, lookout.NewConfigError("start time must not be empty")
	}

	var start time.Time
	if m := relativeStart.FindStringSubmatch(raw); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, lookout.NewConfigError("invalid date format: %v", err)
		}
		unit := time.Hour
		if strings.HasPrefix(strings.ToLower(m[2]), "d") {
			unit = 24 * time.Hour
		}
		start = now.Add(-time.Duration(n) * unit)
	} else if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		start = t
	} else {
		t, err := dateparse.ParseIn(raw, time.UTC)
		if err != nil {
			return time.Time{}, lookout.NewConfigError("invalid date format: %v", err)
		}
		start = t
	}

	start = start.UTC()
	if start.Before(now.Add(-lookout.ResumeWindow)) {
		return time.Time{}, lookout.NewConfigError("date must be within the last 10 days")
	}
	if start.After(now) {
		return time.Time{}, lookout.NewConfigError("start time %s is in the future", start.Format(time.RFC3339))
	}
	return start, nil
}

// parseEventTypes upper-cases and de-duplicates types, rejecting unknown ones.
// Comma-separated values are split.
func parseEventTypes(values []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" || seen[part] {
				continue
			}
			if len(lookout.NormalizeEventTypes([]string{part})) == 0 {
				return nil, lookout.NewConfigError("invalid event type %q (choose from DEVICE, THREAT, AUDIT)", part)
			}
			seen[part] = true
			out = append(out, part)
		}
	}
	return out, nil
}
