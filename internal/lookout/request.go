package lookout

import "time"

// ResumeWindow is how far back the feed can replay events.
const ResumeWindow = 10 * 24 * time.Hour

// StreamRequest holds the per-connection stream parameters.
type StreamRequest struct {
	StartTime   *time.Time
	LastEventID string
	EventTypes  []string
}

// Validate rejects start times outside the replay window.
func (r StreamRequest) Validate(now time.Time) error {
	if r.StartTime == nil {
		return nil
	}
	if r.StartTime.Before(now.Add(-ResumeWindow)) {
		return NewConfigError("start time %s must be within the last 10 days", r.StartTime.UTC().Format(time.RFC3339))
	}
	return nil
}
