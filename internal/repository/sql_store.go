package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"magicart-access-api/internal/model"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// SQLStore implements Store on database/sql. The same code serves SQLite (the
// default local store) and MySQL; only the dialect differs.
type SQLStore struct {
	db     *sql.DB
	d      dialect
	mu     sync.RWMutex
	logger *slog.Logger

	accounts *sqlAccountRepository
	keys     *sqlLicenseKeyRepository
	bans     *sqlBanRepository
}

// NewSQLiteStore opens (or creates) the SQLite database at dbPath.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLStore, error) {
	// Open with WAL mode and a busy timeout so readers never block the writer
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)

	db, err := sql.Open(sqliteDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// SQLite only supports 1 writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s, err := newSQLStore(db, sqliteDialect, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Info("sqlite store initialized", slog.String("path", dbPath))
	return s, nil
}

// NewMySQLStore connects to MySQL using dsn.
func NewMySQLStore(dsn string, logger *slog.Logger) (*SQLStore, error) {
	db, err := sql.Open(mysqlDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s, err := newSQLStore(db, mysqlDialect, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Info("mysql store initialized")
	return s, nil
}

func newSQLStore(db *sql.DB, d dialect, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, stmt := range d.schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
	}

	s := &SQLStore{
		db:     db,
		d:      d,
		logger: logger.With(slog.String("component", "sql_store"), slog.String("dialect", d.name)),
	}
	s.accounts = &sqlAccountRepository{s: s}
	s.keys = &sqlLicenseKeyRepository{s: s}
	s.bans = &sqlBanRepository{s: s}
	return s, nil
}

func (s *SQLStore) Accounts() AccountRepository { return s.accounts }
func (s *SQLStore) Keys() LicenseKeyRepository { return s.keys }
func (s *SQLStore) Bans() BanRepository { return s.bans }
func (s *SQLStore) Settings() SettingsRepository { return s }

// ApplyBan writes account ban fields and ledger records in one transaction.
// A stale account version rolls the whole transaction back.
func (s *SQLStore) ApplyBan(ctx context.Context, accounts []*model.Account, records []model.BanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, a := range accounts {
		if err := updateAccount(ctx, tx, a); err != nil {
			return err
		}
	}
	if err := appendBans(ctx, tx, records); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ban: %w", err)
	}
	for _, a := range accounts {
		a.Version++
	}
	return nil
}

// GetSetting returns a stored setting.
func (s *SQLStore) GetSetting(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("setting %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", name, err)
	}
	return value, nil
}

// SetSetting inserts or replaces a setting.
func (s *SQLStore) SetSetting(ctx context.Context, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, s.d.upsertSetting, name, value); err != nil {
		return fmt.Errorf("failed to set setting %s: %w", name, err)
	}
	return nil
}

// Stats returns row counts per table.
func (s *SQLStore) Stats(ctx context.Context) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{"type": s.d.name}
	for _, table := range []string{"accounts", "license_keys", "ban_records"} {
		var count int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		stats[table] = count
	}
	return stats, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Ensure SQLStore implements Store
var _ Store = (*SQLStore)(nil)
