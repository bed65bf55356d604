package session

import "time"

// DefaultThresholdSeconds is used when no positive threshold is configured.
const DefaultThresholdSeconds = 900

// Tracker derives online/offline from a session. The threshold is fixed at construction.
type Tracker struct {
	threshold time.Duration
}

// NewTracker builds a Tracker. Non-positive values select DefaultThresholdSeconds.
func NewTracker(thresholdSeconds int) *Tracker {
	if thresholdSeconds <= 0 {
		thresholdSeconds = DefaultThresholdSeconds
	}
	return &Tracker{threshold: time.Duration(thresholdSeconds) * time.Second}
}

// Threshold reports the inactivity window.
func (t *Tracker) Threshold() time.Duration {
	return t.threshold
}

// Status labels s at now. Expired sessions, sessions without recorded activity
// and sessions idle for longer than the threshold are offline.
func (t *Tracker) Status(s Session, now time.Time) Status {
	if !s.ExpiresAt.After(now) {
		return Offline
	}
	if s.LastActivityAt == nil {
		return Offline
	}
	if now.Sub(*s.LastActivityAt) > t.threshold {
		return Offline
	}
	return Online
}
