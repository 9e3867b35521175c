package service

import (
	"context"
	"time"

	"magicart-access-api/internal/model"
	"magicart-access-api/internal/repository"
)

// BanLedger answers questions about the network and device ban logs. Records
// are append-only; a surrogate is banned while any of its records is active.
type BanLedger struct {
	bans repository.BanRepository
}

// NewBanLedger wraps a ban repository.
func NewBanLedger(bans repository.BanRepository) *BanLedger {
	return &BanLedger{bans: bans}
}

// IsNetworkBanned reports whether surrogate has an active network ban.
func (l *BanLedger) IsNetworkBanned(ctx context.Context, surrogate string, now time.Time) (bool, error) {
	return l.isBanned(ctx, model.BanKindNetwork, surrogate, now)
}

// IsDeviceBanned reports whether surrogate has an active device ban.
func (l *BanLedger) IsDeviceBanned(ctx context.Context, surrogate string, now time.Time) (bool, error) {
	return l.isBanned(ctx, model.BanKindDevice, surrogate, now)
}

func (l *BanLedger) isBanned(ctx context.Context, kind model.BanKind, surrogate string, now time.Time) (bool, error) {
	if surrogate == "" {
		return false, nil
	}
	records, err := l.bans.Active(ctx, kind, surrogate, now)
	if err != nil {
		return false, err
	}
	return len(records) > 0, nil
}

// NewRecord builds a record expiring duration after now.
func NewRecord(kind model.BanKind, surrogate string, duration time.Duration, now time.Time) model.BanRecord {
	return model.BanRecord{
		Kind:      kind,
		Surrogate: surrogate,
		ExpiresAt: now.Add(duration).UTC(),
		CreatedAt: now.UTC(),
	}
}

// RecordBan appends one record expiring duration after now.
func (l *BanLedger) RecordBan(ctx context.Context, kind model.BanKind, surrogate string, duration time.Duration, now time.Time) error {
	return l.bans.Append(ctx, NewRecord(kind, surrogate, duration, now))
}

// EffectiveExpiry returns the latest expiry among active records for either
// surrogate, or nil when neither is banned.
func (l *BanLedger) EffectiveExpiry(ctx context.Context, network, device string, now time.Time) (*time.Time, error) {
	var latest *time.Time
	for _, q := range []struct {
		kind      model.BanKind
		surrogate string
	}{
		{model.BanKindNetwork, network},
		{model.BanKindDevice, device},
	} {
		if q.surrogate == "" {
			continue
		}
		records, err := l.bans.Active(ctx, q.kind, q.surrogate, now)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if latest == nil || rec.ExpiresAt.After(*latest) {
				t := rec.ExpiresAt
				latest = &t
			}
		}
	}
	return latest, nil
}

// List returns the whole ledger, newest first.
func (l *BanLedger) List(ctx context.Context) ([]model.BanRecord, error) {
	return l.bans.List(ctx)
}
