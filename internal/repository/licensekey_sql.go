package repository

import (
	"context"
	"database/sql"
	"fmt"

	"magicart-access-api/internal/model"
)

// sqlLicenseKeyRepository implements LicenseKeyRepository on SQLStore.
type sqlLicenseKeyRepository struct {
	s *SQLStore
}

// Insert adds an unredeemed key.
func (r *sqlLicenseKeyRepository) Insert(ctx context.Context, k *model.LicenseKey) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	_, err := r.s.db.ExecContext(ctx, `
		INSERT INTO license_keys (key_value, tier, bound_username, created_at)
		VALUES (?, ?, ?, ?)`,
		k.Value, int(k.Tier), k.BoundUsername, toMillis(k.CreatedAt),
	)
	if r.s.d.isDuplicate(err) {
		return fmt.Errorf("license key %s: %w", k.Value, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to insert license key: %w", err)
	}
	return nil
}

// Get retrieves an active key.
func (r *sqlLicenseKeyRepository) Get(ctx context.Context, value string) (*model.LicenseKey, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	k, err := getLicenseKey(ctx, r.s.db, value, "")
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("license key: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get license key: %w", err)
	}
	return k, nil
}

// Consume deletes the key inside a transaction after checking its owner binding.
// The DELETE row count is the final arbiter: only one caller can observe 1.
func (r *sqlLicenseKeyRepository) Consume(ctx context.Context, value, requester string) (*model.LicenseKey, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	k, err := getLicenseKey(ctx, tx, value, r.s.d.forUpdate)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("license key: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get license key: %w", err)
	}
	if !k.RedeemableBy(requester) {
		return nil, fmt.Errorf("license key: %w", ErrWrongOwner)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM license_keys WHERE key_value = ?`, value)
	if err != nil {
		return nil, fmt.Errorf("failed to consume license key: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil || n != 1 {
		return nil, fmt.Errorf("license key: %w", ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit license key consumption: %w", err)
	}
	return k, nil
}

// List returns all active keys, oldest first.
func (r *sqlLicenseKeyRepository) List(ctx context.Context) ([]*model.LicenseKey, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rows, err := r.s.db.QueryContext(ctx, `
		SELECT key_value, tier, bound_username, created_at
		FROM license_keys ORDER BY created_at, key_value`)
	if err != nil {
		return nil, fmt.Errorf("failed to list license keys: %w", err)
	}
	defer rows.Close()

	var keys []*model.LicenseKey
	for rows.Next() {
		k, err := scanLicenseKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan license key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func getLicenseKey(ctx context.Context, q querier, value, suffix string) (*model.LicenseKey, error) {
	row := q.QueryRowContext(ctx, `
		SELECT key_value, tier, bound_username, created_at
		FROM license_keys WHERE key_value = ?`+suffix, value)
	return scanLicenseKey(row)
}

func scanLicenseKey(row rowScanner) (*model.LicenseKey, error) {
	var (
		k       model.LicenseKey
		tier    int
		created int64
	)
	if err := row.Scan(&k.Value, &tier, &k.BoundUsername, &created); err != nil {
		return nil, err
	}
	k.Tier = model.Tier(tier)
	k.CreatedAt = fromMillis(created)
	return &k, nil
}
