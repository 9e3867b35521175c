package repository

import (
	"context"
	"fmt"
	"time"

	"magicart-access-api/internal/model"
)

// sqlBanRepository implements BanRepository on SQLStore.
type sqlBanRepository struct {
	s *SQLStore
}

// Append adds ledger records in one transaction.
func (r *sqlBanRepository) Append(ctx context.Context, records ...model.BanRecord) error {
	if len(records) == 0 {
		return nil
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := appendBans(ctx, tx, records); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ban records: %w", err)
	}
	return nil
}

// Active returns records for the surrogate expiring after now.
func (r *sqlBanRepository) Active(ctx context.Context, kind model.BanKind, surrogate string, now time.Time) ([]model.BanRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rows, err := r.s.db.QueryContext(ctx, `
		SELECT kind, surrogate, expires_at, created_at FROM ban_records
		WHERE kind = ? AND surrogate = ? AND expires_at > ?
		ORDER BY expires_at DESC`, string(kind), surrogate, toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("failed to query active bans: %w", err)
	}
	return r.collect(rows)
}

// List returns every record, newest first.
func (r *sqlBanRepository) List(ctx context.Context) ([]model.BanRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rows, err := r.s.db.QueryContext(ctx, `
		SELECT kind, surrogate, expires_at, created_at FROM ban_records ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list bans: %w", err)
	}
	return r.collect(rows)
}

// DeleteExpiredBefore prunes records that ended before cutoff.
func (r *sqlBanRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	result, err := r.s.db.ExecContext(ctx, `DELETE FROM ban_records WHERE expires_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired bans: %w", err)
	}
	return result.RowsAffected()
}

func (r *sqlBanRepository) collect(rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
	Close() error
}) ([]model.BanRecord, error) {
	defer rows.Close()

	var records []model.BanRecord
	for rows.Next() {
		var (
			rec     model.BanRecord
			kind    string
			expires int64
			created int64
		)
		if err := rows.Scan(&kind, &rec.Surrogate, &expires, &created); err != nil {
			return nil, fmt.Errorf("failed to scan ban record: %w", err)
		}
		k, err := model.ParseBanKind(kind)
		if err != nil {
			return nil, err
		}
		rec.Kind = k
		rec.ExpiresAt = fromMillis(expires)
		rec.CreatedAt = fromMillis(created)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func appendBans(ctx context.Context, q querier, records []model.BanRecord) error {
	for _, rec := range records {
		_, err := q.ExecContext(ctx, `
			INSERT INTO ban_records (kind, surrogate, expires_at, created_at)
			VALUES (?, ?, ?, ?)`,
			string(rec.Kind), rec.Surrogate, toMillis(rec.ExpiresAt), toMillis(rec.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to append %s ban for %s: %w", rec.Kind, rec.Surrogate, err)
		}
	}
	return nil
}
