package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"magicart-access-api/internal/model"
	"magicart-access-api/internal/repository"
	"magicart-access-api/pkg/uid"
)

// Surrogates bound to the immune principal.
const (
	ImmuneNetworkSurrogate = "127.0.0.1"
	ImmuneDeviceSurrogate  = "MASTER-SERVER"
)

const maxUsernameLength = 64

// CredentialStore registers and authenticates accounts. Secrets are stored as
// bcrypt hashes.
type CredentialStore struct {
	accounts repository.AccountRepository
	cost     int
	now      func() time.Time
	logger   *slog.Logger

	// dummyHash keeps unknown-user logins as slow as wrong-password logins.
	dummyHash []byte
}

// NewCredentialStore creates a credential store. cost 0 selects bcrypt.DefaultCost.
func NewCredentialStore(accounts repository.AccountRepository, cost int, now func() time.Time, logger *slog.Logger) *CredentialStore {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte(uid.New()), cost)
	return &CredentialStore{
		accounts:  accounts,
		cost:      cost,
		now:       now,
		logger:    logger.With(slog.String("component", "credentials")),
		dummyHash: dummy,
	}
}

// Register creates a FREE, non-admin account bound to id.
func (c *CredentialStore) Register(ctx context.Context, username, secret string, id model.Identity) (*model.Account, error) {
	username = strings.TrimSpace(username)
	if err := validateCredentials(username, secret); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), c.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash secret: %w", err)
	}

	now := c.now().UTC()
	account := &model.Account{
		Username:         username,
		PasswordHash:     string(hash),
		Tier:             model.TierFree,
		NetworkSurrogate: id.Network,
		DeviceSurrogate:  id.Device,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := c.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrDuplicateUsername
		}
		return nil, err
	}

	c.logger.Info("account registered",
		slog.String("username", username),
		slog.String("network", id.Network),
		slog.String("device", id.Device),
	)
	return account, nil
}

// Authenticate returns the account when username and secret both match.
func (c *CredentialStore) Authenticate(ctx context.Context, username, secret string) (*model.Account, error) {
	username = strings.TrimSpace(username)

	account, err := c.accounts.GetByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(c.dummyHash, []byte(secret))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(secret)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return account, nil
}

// Get returns the account stored under username.
func (c *CredentialStore) Get(ctx context.Context, username string) (*model.Account, error) {
	account, err := c.accounts.GetByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	return account, err
}

// Update replaces the whole stored record. It fails with
// repository.ErrConflict when the account was written since it was read.
func (c *CredentialStore) Update(ctx context.Context, account *model.Account) error {
	account.UpdatedAt = c.now().UTC()
	err := c.accounts.Update(ctx, account)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrAccountNotFound
	}
	return err
}

// FindBySurrogate returns accounts sharing either surrogate.
func (c *CredentialStore) FindBySurrogate(ctx context.Context, network, device string) ([]*model.Account, error) {
	return c.accounts.FindBySurrogate(ctx, network, device)
}

// List returns every account.
func (c *CredentialStore) List(ctx context.Context) ([]*model.Account, error) {
	return c.accounts.List(ctx)
}

// Seed creates the immune principal when it does not exist yet. An empty secret
// generates a random one, which is logged once so the operator can sign in.
func (c *CredentialStore) Seed(ctx context.Context, username, secret string) error {
	_, err := c.accounts.GetByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	generated := secret == ""
	if generated {
		secret = uid.Compact()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), c.cost)
	if err != nil {
		return fmt.Errorf("failed to hash secret: %w", err)
	}

	now := c.now().UTC()
	err = c.accounts.Create(ctx, &model.Account{
		Username:         username,
		PasswordHash:     string(hash),
		Tier:             model.TierInfinity,
		IsAdmin:          true,
		NetworkSurrogate: ImmuneNetworkSurrogate,
		DeviceSurrogate:  ImmuneDeviceSurrogate,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil && !errors.Is(err, repository.ErrDuplicate) {
		return fmt.Errorf("failed to seed %s: %w", username, err)
	}

	if generated {
		c.logger.Warn("immune principal created with a generated secret",
			slog.String("username", username),
			slog.String("secret", secret),
		)
	} else {
		c.logger.Info("immune principal created", slog.String("username", username))
	}
	return nil
}

func validateCredentials(username, secret string) error {
	if username == "" || len(username) > maxUsernameLength || strings.ContainsAny(username, " \t\r\n") {
		return fmt.Errorf("%w: username must be 1-%d characters without spaces", ErrInvalidInput, maxUsernameLength)
	}
	if secret == "" {
		return fmt.Errorf("%w: secret must not be empty", ErrInvalidInput)
	}
	// bcrypt ignores everything past 72 bytes
	if len(secret) > 72 {
		return fmt.Errorf("%w: secret must be at most 72 bytes", ErrInvalidInput)
	}
	return nil
}
