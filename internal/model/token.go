package model

import "time"

// SessionData contains the data stored with a session token.
type SessionData struct {
	Username  string    `json:"username"`
	Network   string    `json:"network"`
	Device    string    `json:"device"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
