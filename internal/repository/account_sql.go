package repository

import (
	"context"
	"database/sql"
	"fmt"

	"magicart-access-api/internal/model"
)

const accountColumns = `username, password_hash, tier, is_admin, network_surrogate, device_surrogate,
	failed_key_attempts, banned_until, ban_reason, created_at, updated_at, version`

// sqlAccountRepository implements AccountRepository on SQLStore.
type sqlAccountRepository struct {
	s *SQLStore
}

// Create inserts a new account at version 1.
func (r *sqlAccountRepository) Create(ctx context.Context, a *model.Account) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	_, err := r.s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Username, a.PasswordHash, int(a.Tier), a.IsAdmin, a.NetworkSurrogate, a.DeviceSurrogate,
		a.FailedKeyAttempts, nullableMillis(a), a.BanReason, toMillis(a.CreatedAt), toMillis(a.UpdatedAt), 1,
	)
	if r.s.d.isDuplicate(err) {
		return fmt.Errorf("account %s: %w", a.Username, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create account %s: %w", a.Username, err)
	}
	a.Version = 1
	return nil
}

// GetByUsername retrieves an account by exact username.
func (r *sqlAccountRepository) GetByUsername(ctx context.Context, username string) (*model.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	row := r.s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE username = ?`, username)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account %s: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", username, err)
	}
	return a, nil
}

// Update replaces the stored record if nobody wrote it since a was read.
func (r *sqlAccountRepository) Update(ctx context.Context, a *model.Account) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := updateAccount(ctx, r.s.db, a); err != nil {
		return err
	}
	a.Version++
	return nil
}

// FindBySurrogate returns accounts sharing either surrogate.
func (r *sqlAccountRepository) FindBySurrogate(ctx context.Context, network, device string) ([]*model.Account, error) {
	if network == "" && device == "" {
		return nil, nil
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rows, err := r.s.db.QueryContext(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE (network_surrogate = ? AND network_surrogate <> '')
		   OR (device_surrogate = ? AND device_surrogate <> '')
		ORDER BY username`, network, device)
	if err != nil {
		return nil, fmt.Errorf("failed to find accounts by surrogate: %w", err)
	}
	return collectAccounts(rows)
}

// List returns all accounts.
func (r *sqlAccountRepository) List(ctx context.Context) ([]*model.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rows, err := r.s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return collectAccounts(rows)
}

// updateAccount writes a at version a.Version+1, guarded by the version it was
// read at. The caller advances a.Version once the write is durable.
func updateAccount(ctx context.Context, q querier, a *model.Account) error {
	result, err := q.ExecContext(ctx, `
		UPDATE accounts SET
			password_hash = ?, tier = ?, is_admin = ?, failed_key_attempts = ?,
			banned_until = ?, ban_reason = ?, updated_at = ?, version = ?
		WHERE username = ? AND version = ?`,
		a.PasswordHash, int(a.Tier), a.IsAdmin, a.FailedKeyAttempts,
		nullableMillis(a), a.BanReason, toMillis(a.UpdatedAt), a.Version+1,
		a.Username, a.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update account %s: %w", a.Username, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update account %s: %w", a.Username, err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE username = ?`, a.Username).Scan(&exists); err != nil {
		return fmt.Errorf("failed to update account %s: %w", a.Username, err)
	}
	if exists == 0 {
		return fmt.Errorf("account %s: %w", a.Username, ErrNotFound)
	}
	return fmt.Errorf("account %s at version %d: %w", a.Username, a.Version, ErrConflict)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*model.Account, error) {
	var (
		a           model.Account
		tier        int
		bannedUntil sql.NullInt64
		created     int64
		updated     int64
	)
	err := row.Scan(
		&a.Username, &a.PasswordHash, &tier, &a.IsAdmin, &a.NetworkSurrogate, &a.DeviceSurrogate,
		&a.FailedKeyAttempts, &bannedUntil, &a.BanReason, &created, &updated, &a.Version,
	)
	if err != nil {
		return nil, err
	}
	a.Tier = model.Tier(tier)
	if bannedUntil.Valid {
		t := fromMillis(bannedUntil.Int64)
		a.BannedUntil = &t
	}
	a.CreatedAt = fromMillis(created)
	a.UpdatedAt = fromMillis(updated)
	return &a, nil
}

func collectAccounts(rows *sql.Rows) ([]*model.Account, error) {
	defer rows.Close()

	var accounts []*model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func nullableMillis(a *model.Account) sql.NullInt64 {
	if a.BannedUntil == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*a.BannedUntil), Valid: true}
}
