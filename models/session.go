package models

import "time"

// Session is the singleton authenticated-user context shared across the
// four supervised processes via the Session Store.
type Session struct {
	Account      string    `json:"account"`
	LoggedIn     bool      `json:"logged_in"`
	ExpiresAt    time.Time `json:"expires_at"`
	OrderAccount string    `json:"order_account,omitempty"`
	ItemCode     string    `json:"item_code,omitempty"`
}

// Expired reports whether the session has passed its expiry relative to now.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
