package repository

import (
	"context"
	"errors"
	"time"

	"magicart-access-api/internal/model"
)

// Repository errors. Callers test them with errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrDuplicate  = errors.New("duplicate")
	ErrWrongOwner = errors.New("license key bound to another user")
	// ErrConflict means the account changed since it was read. The caller
	// re-reads and retries.
	ErrConflict = errors.New("account modified concurrently")
)

// AccountRepository defines account data access methods.
type AccountRepository interface {
	// Create inserts a new account. Returns ErrDuplicate if the username exists.
	Create(ctx context.Context, account *model.Account) error

	// GetByUsername returns ErrNotFound if no account matches.
	GetByUsername(ctx context.Context, username string) (*model.Account, error)

	// Update replaces the whole stored record for account.Username if its
	// stored version still equals account.Version, then advances
	// account.Version. Returns ErrConflict when another writer got there first.
	Update(ctx context.Context, account *model.Account) error

	// FindBySurrogate returns accounts matching the network OR the device surrogate.
	// An empty surrogate matches nothing.
	FindBySurrogate(ctx context.Context, network, device string) ([]*model.Account, error)

	// List returns all accounts ordered by username.
	List(ctx context.Context) ([]*model.Account, error)
}

// LicenseKeyRepository defines access to the set of unredeemed keys.
type LicenseKeyRepository interface {
	// Insert adds a key. Returns ErrDuplicate if the value is already active.
	Insert(ctx context.Context, key *model.LicenseKey) error

	// Get returns ErrNotFound if the value is not active.
	Get(ctx context.Context, value string) (*model.LicenseKey, error)

	// Consume atomically removes the key if requester may redeem it.
	// Returns ErrNotFound if absent and ErrWrongOwner (key kept) if bound to someone else.
	Consume(ctx context.Context, value, requester string) (*model.LicenseKey, error)

	// List returns all active keys.
	List(ctx context.Context) ([]*model.LicenseKey, error)
}

// BanRepository is the append-only network and device ban ledger.
type BanRepository interface {
	// Append adds records. Existing records are never modified.
	Append(ctx context.Context, records ...model.BanRecord) error

	// Active returns the records for surrogate that are still running at now.
	Active(ctx context.Context, kind model.BanKind, surrogate string, now time.Time) ([]model.BanRecord, error)

	// List returns every record, newest first.
	List(ctx context.Context) ([]model.BanRecord, error)

	// DeleteExpiredBefore removes records that expired before cutoff.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SettingsRepository stores small process-local values such as the instance surrogates.
type SettingsRepository interface {
	// GetSetting returns ErrNotFound if the setting was never written.
	GetSetting(ctx context.Context, name string) (string, error)
	SetSetting(ctx context.Context, name, value string) error
}

// Store groups the repositories behind one backend.
type Store interface {
	Accounts() AccountRepository
	Keys() LicenseKeyRepository
	Bans() BanRepository
	Settings() SettingsRepository

	// ApplyBan persists the given accounts' ban fields and appends the ledger
	// records as one unit: either everything is visible or nothing is. Every
	// account is version-checked like Update; one stale account fails the
	// whole call with ErrConflict.
	ApplyBan(ctx context.Context, accounts []*model.Account, records []model.BanRecord) error

	// Stats returns backend statistics for the admin endpoint.
	Stats(ctx context.Context) (map[string]interface{}, error)

	// Close closes the store connection.
	Close() error
}
