package model

import "time"

// LicenseKey is a single-use token that raises an account to Tier when redeemed.
type LicenseKey struct {
	Value         string    `json:"value"`
	Tier          Tier      `json:"tier"`
	BoundUsername string    `json:"bound_username,omitempty"` // empty = anyone may redeem
	CreatedAt     time.Time `json:"created_at"`
}

// RedeemableBy reports whether username is allowed to redeem the key.
func (k *LicenseKey) RedeemableBy(username string) bool {
	return k.BoundUsername == "" || k.BoundUsername == username
}
