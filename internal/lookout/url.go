package lookout

import (
	"net/url"
	"strings"
	"time"
)

// Event types accepted by the feed's types filter.
const (
	EventTypeDevice = "DEVICE"
	EventTypeThreat = "THREAT"
	EventTypeAudit  = "AUDIT"
)

var validEventTypes = map[string]struct{}{
	EventTypeDevice: {},
	EventTypeThreat: {},
	EventTypeAudit:  {},
}

// NormalizeEventTypes upper-cases types and keeps the recognised ones in
// their original order, dropping duplicates.
func NormalizeEventTypes(types []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(types))
	for _, t := range types {
		upper := strings.ToUpper(strings.TrimSpace(t))
		if _, ok := validEventTypes[upper]; !ok {
			continue
		}
		if _, dup := seen[upper]; dup {
			continue
		}
		seen[upper] = struct{}{}
		out = append(out, upper)
	}
	return out
}

// BuildURL appends the stream query parameters to base in the order
// start_time, id, types. Absent parameters are omitted, as is the whole
// query string when none survive.
func BuildURL(base string, startTime *time.Time, lastEventID string, eventTypes []string) string {
	var params []string
	if startTime != nil {
		params = append(params, "start_time="+url.QueryEscape(startTime.Format(time.RFC3339)))
	}
	if lastEventID != "" {
		params = append(params, "id="+lastEventID)
	}
	if types := NormalizeEventTypes(eventTypes); len(types) > 0 {
		params = append(params, "types="+strings.Join(types, ","))
	}
	if len(params) == 0 {
		return base
	}
	return base + "?" + strings.Join(params, "&")
}
