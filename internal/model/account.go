package model

import "time"

// Account is a registered user of the drawing tool.
type Account struct {
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	Tier         Tier   `json:"tier"`
	IsAdmin      bool   `json:"is_admin"`

	// Surrogates are bound at registration and never reassigned.
	NetworkSurrogate string `json:"network_surrogate"`
	DeviceSurrogate  string `json:"device_surrogate"`

	FailedKeyAttempts int        `json:"failed_key_attempts"`
	BannedUntil       *time.Time `json:"banned_until,omitempty"`
	BanReason         string     `json:"ban_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Version is bumped by the store on every write. An update carrying a
	// stale version is rejected.
	Version int64 `json:"version"`
}

// IsBannedAt reports whether the account's own ban is still running at now.
func (a *Account) IsBannedAt(now time.Time) bool {
	return a.BannedUntil != nil && a.BannedUntil.After(now)
}

// Identity returns the surrogates the account was registered with.
func (a *Account) Identity() Identity {
	return Identity{Network: a.NetworkSurrogate, Device: a.DeviceSurrogate}
}

// Clone returns a deep copy so callers can read-modify-write without aliasing.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.BannedUntil != nil {
		t := *a.BannedUntil
		c.BannedUntil = &t
	}
	return &c
}

// Identity is the pseudo-identity of a running instance: a network address
// surrogate and a device surrogate.
type Identity struct {
	Network string `json:"network"`
	Device  string `json:"device"`
}
