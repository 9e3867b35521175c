package service

import "errors"

// Domain errors. All are recoverable and surface to the UI as user-facing
// messages. Denials (tool gating, ban status) are values, not errors.
var (
	ErrDuplicateUsername  = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrKeyNotFound        = errors.New("license key not found")
	ErrKeyWrongOwner      = errors.New("license key is bound to another user")
	ErrProtected          = errors.New("account is protected")
	ErrUnauthorized       = errors.New("admin privileges required")
	ErrAccountNotFound    = errors.New("account not found")
	ErrNotLoggedIn        = errors.New("no active session")
	ErrBanned             = errors.New("session is banned")
	ErrInvalidTier        = errors.New("invalid tier")
	ErrInvalidInput       = errors.New("invalid input")
	ErrConflict           = errors.New("account changed concurrently, try again")
)
