package session

import "time"

// Session is a login session row written by the authentication flow.
type Session struct {
	ID             string     `json:"id"`
	UserID         int64      `json:"user_id"`
	AccessToken    string     `json:"-"`
	RefreshToken   string     `json:"-"`
	ExpiresAt      time.Time  `json:"expires_at"`
	LastActivityAt *time.Time `json:"last_activity_at"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Status is the derived liveness label.
type Status string

const (
	Online  Status = "online"
	Offline Status = "offline"
)

// Presence is the liveness of one user.
type Presence struct {
	UserID         int64      `json:"user_id"`
	Status         Status     `json:"status"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
}
