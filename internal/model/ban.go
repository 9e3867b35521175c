package model

import (
	"fmt"
	"time"
)

// BanKind selects one of the two hardware ledgers.
type BanKind string

const (
	BanKindNetwork BanKind = "network"
	BanKindDevice  BanKind = "device"
)

// ParseBanKind validates a stored ledger kind.
func ParseBanKind(s string) (BanKind, error) {
	switch BanKind(s) {
	case BanKindNetwork, BanKindDevice:
		return BanKind(s), nil
	}
	return "", fmt.Errorf("unknown ban kind %q", s)
}

// BanRecord is one append-only ledger entry. Several records may exist for the
// same surrogate; the surrogate is banned while any of them is active.
type BanRecord struct {
	Kind      BanKind   `json:"kind"`
	Surrogate string    `json:"surrogate"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// ActiveAt reports whether the record still applies at now.
func (r BanRecord) ActiveAt(now time.Time) bool {
	return r.ExpiresAt.After(now)
}

// BanScope tells the UI which condition produced a ban.
type BanScope string

const (
	BanScopeNone     BanScope = "none"
	BanScopeAccount  BanScope = "account"
	BanScopeHardware BanScope = "hardware"
)

// BanStatus is the result of ban evaluation for a session. It is a plain value:
// being banned is an expected outcome, not an error.
type BanStatus struct {
	Banned    bool       `json:"banned"`
	Scope     BanScope   `json:"scope"`
	Reason    string     `json:"reason,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// NotBanned is the zero-ban status.
func NotBanned() BanStatus {
	return BanStatus{Scope: BanScopeNone}
}

// AppliesTo reports whether the record targets one of the account's surrogates.
func (r BanRecord) AppliesTo(a *Account) bool {
	switch r.Kind {
	case BanKindNetwork:
		return a.NetworkSurrogate != "" && r.Surrogate == a.NetworkSurrogate
	case BanKindDevice:
		return a.DeviceSurrogate != "" && r.Surrogate == a.DeviceSurrogate
	}
	return false
}
