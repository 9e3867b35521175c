package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"magicart-access-api/internal/metrics"
	"magicart-access-api/internal/model"
	"magicart-access-api/internal/repository"
)

// Ban reasons shown to the user.
const (
	ReasonSpam       = "SPAM KEY"
	ReasonEscalation = "SPAM KEY (CLONE ESCALATION)"
	ReasonAdmin      = "ADMIN BAN: VIOLATION"
	ReasonHardware   = "DEVICE BANNED: MULTIPLE ACCOUNTS SPAMMING KEYS"
)

// maxConflictRetries bounds how often one operation restarts after losing a
// version check to another process.
const maxConflictRetries = 5

// Policy holds the abuse thresholds.
type Policy struct {
	FailedAttemptLimit int
	TemporaryBan       time.Duration
	EscalatedBan       time.Duration
	AdminBan           time.Duration
}

// DefaultPolicy returns 3 attempts, a 10 minute cool-down and 365 day hardware bans.
func DefaultPolicy() Policy {
	return Policy{
		FailedAttemptLimit: 3,
		TemporaryBan:       10 * time.Minute,
		EscalatedBan:       365 * 24 * time.Hour,
		AdminBan:           365 * 24 * time.Hour,
	}
}

// EngineConfig configures an AccessEngine.
type EngineConfig struct {
	// ImmuneUsername is the reserved principal exempt from bans and demotion.
	ImmuneUsername string
	Policy         Policy
	Now            func() time.Time
	Metrics        *metrics.Recorder
	Logger         *slog.Logger
}

// AccessEngine applies the account, key and ban rules. Every mutating
// operation holds the locks of the affected username and surrogates for its
// whole read-modify-write sequence. The locks only order callers inside this
// process; writers in other processes sharing the store are caught by the
// store's account version check, and the operation is rerun from its first
// read.
type AccessEngine struct {
	store       repository.Store
	credentials *CredentialStore
	licenses    *LicenseRegistry
	ledger      *BanLedger

	immune  string
	policy  Policy
	now     func() time.Time
	locks   *keyLocker
	metrics *metrics.Recorder
	logger  *slog.Logger
}

// NewAccessEngine wires the engine over store.
func NewAccessEngine(store repository.Store, credentials *CredentialStore, licenses *LicenseRegistry, ledger *BanLedger, cfg EngineConfig) *AccessEngine {
	if cfg.Policy == (Policy{}) {
		cfg.Policy = DefaultPolicy()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &AccessEngine{
		store:       store,
		credentials: credentials,
		licenses:    licenses,
		ledger:      ledger,
		immune:      cfg.ImmuneUsername,
		policy:      cfg.Policy,
		now:         cfg.Now,
		locks:       newKeyLocker(),
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.With(slog.String("component", "access_engine")),
	}
}

// IsImmune reports whether username is the reserved principal.
func (e *AccessEngine) IsImmune(username string) bool {
	return e.immune != "" && username == e.immune
}

// Register creates a FREE account bound to id. Ban state is reported
// separately by BanStatus.
func (e *AccessEngine) Register(ctx context.Context, username, secret string, id model.Identity) (*model.Account, error) {
	unlock := e.locks.Lock(userLockKey(strings.TrimSpace(username)))
	defer unlock()

	return e.credentials.Register(ctx, username, secret, id)
}

// Login authenticates an account. A banned account still logs in; the caller
// evaluates BanStatus to decide what the session may do.
func (e *AccessEngine) Login(ctx context.Context, username, secret string) (*model.Account, error) {
	return e.credentials.Authenticate(ctx, username, secret)
}

// Account returns the stored account for username.
func (e *AccessEngine) Account(ctx context.Context, username string) (*model.Account, error) {
	return e.credentials.Get(ctx, username)
}

// IssueKey creates a license key on behalf of an admin actor.
func (e *AccessEngine) IssueKey(ctx context.Context, actor string, tier model.Tier, boundUsername string) (*model.LicenseKey, error) {
	if err := e.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}

	key, err := e.licenses.Issue(ctx, tier, boundUsername)
	if err != nil {
		return nil, err
	}
	e.metrics.KeyIssued(tier.String())
	return key, nil
}

// RedeemKey consumes value for username running on instance id and returns the
// new tier. NotFound and WrongOwner count as failed attempts and may ban the
// account; the failure is still returned to the caller.
func (e *AccessEngine) RedeemKey(ctx context.Context, username string, id model.Identity, value string) (model.Tier, error) {
	if e.IsImmune(username) {
		e.metrics.Redemption(metrics.RedeemProtected)
		return model.TierFree, ErrProtected
	}
	if strings.TrimSpace(value) == "" {
		return model.TierFree, fmt.Errorf("%w: license key must not be empty", ErrInvalidInput)
	}

	account, err := e.credentials.Get(ctx, username)
	if err != nil {
		return model.TierFree, err
	}
	unlock := e.locks.Lock(accountLockKeys(account)...)
	defer unlock()

	tier := model.TierFree
	err = e.retryOnConflict(ctx, "redeem key", func() error {
		var err error
		tier, err = e.redeemLocked(ctx, username, id, value)
		return err
	})
	return tier, err
}

// redeemLocked is one attempt of RedeemKey. Caller holds the account's locks.
// A repository.ErrConflict return means no state changed and the attempt may
// be repeated.
func (e *AccessEngine) redeemLocked(ctx context.Context, username string, id model.Identity, value string) (model.Tier, error) {
	// re-read under the lock: another operation may have changed the record
	account, err := e.credentials.Get(ctx, username)
	if err != nil {
		return model.TierFree, err
	}

	now := e.now()
	status, err := e.banStatus(ctx, account, id, now)
	if err != nil {
		return model.TierFree, err
	}
	if status.Banned {
		e.metrics.Redemption(metrics.RedeemBanned)
		return model.TierFree, ErrBanned
	}

	key, err := e.licenses.Redeem(ctx, value, username)
	switch {
	case err == nil:
		account.Tier = key.Tier
		account.FailedKeyAttempts = 0
		if uerr := e.credentials.Update(ctx, account); uerr != nil {
			if rerr := e.licenses.Restore(ctx, key); rerr != nil {
				e.logger.Error("failed to restore license key after update error",
					slog.String("username", username),
					slog.String("error", rerr.Error()),
				)
				// the key is gone, so a retry would count as a failed attempt
				return model.TierFree, fmt.Errorf("failed to update account %s: %v", username, uerr)
			}
			return model.TierFree, uerr
		}
		e.metrics.Redemption(metrics.RedeemSuccess)
		e.logger.Info("license key redeemed",
			slog.String("username", username),
			slog.String("tier", key.Tier.String()),
		)
		return key.Tier, nil

	case errors.Is(err, ErrKeyNotFound), errors.Is(err, ErrKeyWrongOwner):
		if ferr := e.recordFailure(ctx, account, now); ferr != nil {
			return model.TierFree, ferr
		}
		if errors.Is(err, ErrKeyNotFound) {
			e.metrics.Redemption(metrics.RedeemNotFound)
		} else {
			e.metrics.Redemption(metrics.RedeemWrongOwner)
		}
		return model.TierFree, err

	default:
		return model.TierFree, err
	}
}

// recordFailure counts a failed redemption and applies the two-tier penalty.
// Caller holds the account's locks.
func (e *AccessEngine) recordFailure(ctx context.Context, account *model.Account, now time.Time) error {
	account.FailedKeyAttempts++

	if account.FailedKeyAttempts < e.policy.FailedAttemptLimit {
		if err := e.credentials.Update(ctx, account); err != nil {
			return err
		}
		e.metrics.FailedAttempt()
		return nil
	}

	until := now.Add(e.policy.TemporaryBan).UTC()
	account.BannedUntil = &until
	account.BanReason = ReasonSpam
	account.UpdatedAt = now.UTC()

	correlated, err := e.correlated(ctx, account, now)
	if err != nil {
		return err
	}
	if len(correlated) == 0 {
		if err := e.store.ApplyBan(ctx, []*model.Account{account}, nil); err != nil {
			return fmt.Errorf("failed to apply temporary ban: %w", err)
		}
		e.metrics.FailedAttempt()
		e.metrics.Ban(string(model.BanScopeAccount), metrics.CauseSpam)
		e.logger.Warn("account temporarily banned",
			slog.String("username", account.Username),
			slog.Int("failed_attempts", account.FailedKeyAttempts),
			slog.Time("until", until),
		)
		return nil
	}

	if err := e.escalate(ctx, append([]*model.Account{account}, correlated...), now); err != nil {
		return err
	}
	e.metrics.FailedAttempt()
	return nil
}

// correlated returns other accounts sharing a surrogate with account whose own
// ban is still running.
func (e *AccessEngine) correlated(ctx context.Context, account *model.Account, now time.Time) ([]*model.Account, error) {
	candidates, err := e.credentials.FindBySurrogate(ctx, account.NetworkSurrogate, account.DeviceSurrogate)
	if err != nil {
		return nil, err
	}

	var out []*model.Account
	for _, c := range candidates {
		if c.Username == account.Username || e.IsImmune(c.Username) {
			continue
		}
		if c.IsBannedAt(now) {
			out = append(out, c)
		}
	}
	return out, nil
}

// escalate records long hardware bans for every surrogate of group and moves
// each account's ban to the ledger's effective expiry. A surrogate that already
// has an active record is not recorded again, so repeating an escalation does
// not extend it.
func (e *AccessEngine) escalate(ctx context.Context, group []*model.Account, now time.Time) error {
	var records []model.BanRecord
	added := make(map[string]bool)

	for _, a := range group {
		for _, target := range surrogatesOf(a) {
			k := string(target.kind) + ":" + target.surrogate
			if added[k] {
				continue
			}
			active, err := e.store.Bans().Active(ctx, target.kind, target.surrogate, now)
			if err != nil {
				return err
			}
			if len(active) == 0 {
				records = append(records, NewRecord(target.kind, target.surrogate, e.policy.EscalatedBan, now))
			}
			added[k] = true
		}
	}

	for _, a := range group {
		expiry, err := e.ledger.EffectiveExpiry(ctx, a.NetworkSurrogate, a.DeviceSurrogate, now)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if !rec.AppliesTo(a) {
				continue
			}
			if expiry == nil || rec.ExpiresAt.After(*expiry) {
				t := rec.ExpiresAt
				expiry = &t
			}
		}
		if expiry != nil && (a.BannedUntil == nil || expiry.After(*a.BannedUntil)) {
			a.BannedUntil = expiry
		}
		a.BanReason = ReasonEscalation
		a.UpdatedAt = now.UTC()
	}

	if err := e.store.ApplyBan(ctx, group, records); err != nil {
		return fmt.Errorf("failed to apply escalation: %w", err)
	}

	usernames := make([]string, len(group))
	for i, a := range group {
		usernames[i] = a.Username
	}
	e.metrics.Ban(string(model.BanScopeHardware), metrics.CauseEscalation)
	e.logger.Warn("clone escalation applied",
		slog.Any("usernames", usernames),
		slog.Int("ledger_records", len(records)),
	)
	return nil
}

// AdminBan bans target for the admin period and records both its surrogates.
func (e *AccessEngine) AdminBan(ctx context.Context, actor, target string) error {
	if err := e.requireAdmin(ctx, actor); err != nil {
		return err
	}
	if e.IsImmune(target) {
		return ErrProtected
	}

	account, err := e.credentials.Get(ctx, target)
	if err != nil {
		return err
	}
	unlock := e.locks.Lock(accountLockKeys(account)...)
	defer unlock()

	return e.retryOnConflict(ctx, "admin ban", func() error {
		return e.adminBanLocked(ctx, actor, target)
	})
}

func (e *AccessEngine) adminBanLocked(ctx context.Context, actor, target string) error {
	account, err := e.credentials.Get(ctx, target)
	if err != nil {
		return err
	}

	now := e.now()
	until := now.Add(e.policy.AdminBan).UTC()
	if account.BannedUntil == nil || until.After(*account.BannedUntil) {
		account.BannedUntil = &until
	}
	account.BanReason = ReasonAdmin
	account.UpdatedAt = now.UTC()

	var records []model.BanRecord
	for _, t := range surrogatesOf(account) {
		records = append(records, NewRecord(t.kind, t.surrogate, e.policy.AdminBan, now))
	}

	if err := e.store.ApplyBan(ctx, []*model.Account{account}, records); err != nil {
		return fmt.Errorf("failed to apply admin ban: %w", err)
	}

	e.metrics.Ban(string(model.BanScopeHardware), metrics.CauseAdmin)
	e.logger.Warn("account banned by admin",
		slog.String("actor", actor),
		slog.String("username", target),
		slog.Time("until", until),
	)
	return nil
}

// retryOnConflict repeats op while it fails with repository.ErrConflict, which
// means another process wrote one of op's accounts after op read it. Each
// attempt re-reads everything it decides on.
func (e *AccessEngine) retryOnConflict(ctx context.Context, name string, op func() error) error {
	for attempt := 1; ; attempt++ {
		err := op()
		if !errors.Is(err, repository.ErrConflict) {
			return err
		}
		if attempt >= maxConflictRetries {
			e.logger.Warn("giving up after repeated write conflicts",
				slog.String("operation", name),
				slog.Int("attempts", attempt),
			)
			return fmt.Errorf("%w: %s", ErrConflict, name)
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		e.logger.Debug("account changed concurrently, retrying",
			slog.String("operation", name),
			slog.Int("attempt", attempt),
		)
	}
}

// BanStatus evaluates the ban state of account (nil when anonymous) running on
// instance id. Hardware bans win over the account's own ban.
func (e *AccessEngine) BanStatus(ctx context.Context, account *model.Account, id model.Identity) (model.BanStatus, error) {
	return e.banStatus(ctx, account, id, e.now())
}

func (e *AccessEngine) banStatus(ctx context.Context, account *model.Account, id model.Identity, now time.Time) (model.BanStatus, error) {
	if account != nil && e.IsImmune(account.Username) {
		return model.NotBanned(), nil
	}

	networkBanned, err := e.ledger.IsNetworkBanned(ctx, id.Network, now)
	if err != nil {
		return model.BanStatus{}, err
	}
	deviceBanned, err := e.ledger.IsDeviceBanned(ctx, id.Device, now)
	if err != nil {
		return model.BanStatus{}, err
	}
	if networkBanned || deviceBanned {
		expiry, err := e.ledger.EffectiveExpiry(ctx, id.Network, id.Device, now)
		if err != nil {
			return model.BanStatus{}, err
		}
		return model.BanStatus{
			Banned:    true,
			Scope:     model.BanScopeHardware,
			Reason:    ReasonHardware,
			ExpiresAt: expiry,
		}, nil
	}

	if account != nil && account.IsBannedAt(now) {
		until := *account.BannedUntil
		reason := account.BanReason
		if reason == "" {
			reason = ReasonSpam
		}
		return model.BanStatus{
			Banned:    true,
			Scope:     model.BanScopeAccount,
			Reason:    reason,
			ExpiresAt: &until,
		}, nil
	}

	return model.NotBanned(), nil
}

// GateTool decides whether account (nil when anonymous) may use tool on
// instance id. Unknown tools and banned sessions are denied.
func (e *AccessEngine) GateTool(ctx context.Context, account *model.Account, id model.Identity, tool model.ToolID) (model.GateDecision, error) {
	status, err := e.BanStatus(ctx, account, id)
	if err != nil {
		return model.GateDenied, err
	}

	decision := model.GateDenied
	if !status.Banned {
		tier := model.TierFree
		if account != nil {
			tier = account.Tier
		}
		decision = DecideTool(tier, tool)
	}
	e.metrics.GateDecision(string(decision))
	return decision, nil
}

// DecideTool compares tier against the tool's required tier.
func DecideTool(tier model.Tier, tool model.ToolID) model.GateDecision {
	t, ok := model.LookupTool(tool)
	if !ok || !tier.AtLeast(t.RequiredTier) {
		return model.GateDenied
	}
	return model.GateAllowed
}

// Stats summarizes the store for the admin endpoint.
func (e *AccessEngine) Stats(ctx context.Context) (map[string]interface{}, error) {
	return e.store.Stats(ctx)
}

func (e *AccessEngine) requireAdmin(ctx context.Context, actor string) error {
	account, err := e.credentials.Get(ctx, actor)
	if errors.Is(err, ErrAccountNotFound) {
		return ErrUnauthorized
	}
	if err != nil {
		return err
	}
	if !account.IsAdmin {
		return ErrUnauthorized
	}
	return nil
}

type surrogateRef struct {
	kind      model.BanKind
	surrogate string
}

func surrogatesOf(a *model.Account) []surrogateRef {
	var out []surrogateRef
	if a.NetworkSurrogate != "" {
		out = append(out, surrogateRef{model.BanKindNetwork, a.NetworkSurrogate})
	}
	if a.DeviceSurrogate != "" {
		out = append(out, surrogateRef{model.BanKindDevice, a.DeviceSurrogate})
	}
	return out
}

func userLockKey(username string) string {
	return "user:" + username
}

func accountLockKeys(a *model.Account) []string {
	keys := []string{userLockKey(a.Username)}
	for _, s := range surrogatesOf(a) {
		keys = append(keys, string(s.kind)+":"+s.surrogate)
	}
	return keys
}
