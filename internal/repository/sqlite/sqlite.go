// Package sqlite implements repository.ConnectionStore using SQLite as the
// storage backend.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so the binary needs
// no C toolchain. sqlx sits on top of database/sql to scan rows straight into
// model.UserConnection through its `db` struct tags.
//
// Use ":memory:" for a throwaway database in tests.
package sqlite

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

func init() {
	// sqlx only knows "sqlite3" out of the box; modernc registers "sqlite".
	sqlx.BindDriver(driverName, sqlx.QUESTION)
}

// DB wraps an sqlx connection pool and implements repository.ConnectionStore.
type DB struct {
	conn *sqlx.DB
}

// New opens the SQLite database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/connections.db" → file-based database (persistent)
//   - ":memory:"            → in-memory database (tests, lost on close)
func New(dbPath string) (*DB, error) {
	conn, err := sqlx.Open(driverName, dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every pooled connection to ":memory:" would get its own empty database.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in progress.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Wait for a competing writer instead of failing with SQLITE_BUSY.
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting busy timeout: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates or upgrades the schema. Every step is idempotent, so it
// runs on each start.
func (db *DB) migrate() error {
	// v1: user_connections. The composite primary key is what turns a
	// concurrent duplicate add into a constraint violation.
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS user_connections (
			user_id          TEXT NOT NULL,
			provider_id      TEXT NOT NULL,
			provider_user_id TEXT NOT NULL,
			rank             INTEGER NOT NULL,
			display_name     TEXT,
			profile_url      TEXT,
			image_url        TEXT,
			access_token     TEXT,
			secret           TEXT,
			refresh_token    TEXT,
			expire_time      INTEGER,
			created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, provider_id, provider_user_id)
		);
		CREATE UNIQUE INDEX IF NOT EXISTS ux_user_connections_rank
			ON user_connections(user_id, provider_id, rank);
		CREATE INDEX IF NOT EXISTS idx_user_connections_provider_key
			ON user_connections(provider_id, provider_user_id);
	`)
	if err != nil {
		return fmt.Errorf("creating user_connections table: %w", err)
	}

	// v2: updated_at. SQLite refuses a non-constant default in ALTER TABLE,
	// so existing rows get the epoch.
	if err := db.addColumnIfNotExists("user_connections", "updated_at",
		"DATETIME NOT NULL DEFAULT '1970-01-01 00:00:00'"); err != nil {
		return fmt.Errorf("adding updated_at to user_connections: %w", err)
	}

	return nil
}

// addColumnIfNotExists adds a column to a table only if it doesn't already exist.
// Running it again is a no-op, which keeps migrate idempotent.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil // column already exists
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}
