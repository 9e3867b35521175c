package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// dialect captures the few places where SQLite and MySQL disagree.
type dialect struct {
	name          string
	driver        string
	schema        []string
	forUpdate     string
	upsertSetting string
	isDuplicate   func(error) bool
}

var sqliteDialect = dialect{
	name:   "sqlite",
	driver: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			username TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL,
			tier INTEGER NOT NULL DEFAULT 0,
			is_admin INTEGER NOT NULL DEFAULT 0,
			network_surrogate TEXT NOT NULL,
			device_surrogate TEXT NOT NULL,
			failed_key_attempts INTEGER NOT NULL DEFAULT 0,
			banned_until INTEGER,
			ban_reason TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			version INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_network ON accounts(network_surrogate)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_device ON accounts(device_surrogate)`,
		`CREATE TABLE IF NOT EXISTS license_keys (
			key_value TEXT PRIMARY KEY,
			tier INTEGER NOT NULL,
			bound_username TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ban_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			surrogate TEXT NOT NULL,
			expires_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ban_records_surrogate ON ban_records(kind, surrogate)`,
		`CREATE TABLE IF NOT EXISTS settings (
			name TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	},
	upsertSetting: `INSERT INTO settings (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
	isDuplicate: func(err error) bool {
		return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
	},
}

var mysqlDialect = dialect{
	name:   "mysql",
	driver: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			username VARCHAR(64) COLLATE utf8mb4_bin PRIMARY KEY,
			password_hash VARCHAR(255) NOT NULL,
			tier TINYINT NOT NULL DEFAULT 0,
			is_admin TINYINT(1) NOT NULL DEFAULT 0,
			network_surrogate VARCHAR(128) NOT NULL,
			device_surrogate VARCHAR(128) NOT NULL,
			failed_key_attempts INT NOT NULL DEFAULT 0,
			banned_until BIGINT NULL,
			ban_reason VARCHAR(255) NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			version BIGINT NOT NULL DEFAULT 1,
			INDEX idx_accounts_network (network_surrogate),
			INDEX idx_accounts_device (device_surrogate)
		) DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS license_keys (
			key_value VARCHAR(64) COLLATE utf8mb4_bin PRIMARY KEY,
			tier TINYINT NOT NULL,
			bound_username VARCHAR(64) COLLATE utf8mb4_bin NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL
		) DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS ban_records (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			kind VARCHAR(16) NOT NULL,
			surrogate VARCHAR(128) NOT NULL,
			expires_at BIGINT NOT NULL,
			created_at BIGINT NOT NULL,
			INDEX idx_ban_records_surrogate (kind, surrogate)
		) DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS settings (
			name VARCHAR(64) PRIMARY KEY,
			value TEXT NOT NULL
		) DEFAULT CHARSET=utf8mb4`,
	},
	forUpdate: " FOR UPDATE",
	upsertSetting: `INSERT INTO settings (name, value) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE value = VALUES(value)`,
	isDuplicate: func(err error) bool {
		var mysqlErr *mysql.MySQLError
		return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
	},
}
