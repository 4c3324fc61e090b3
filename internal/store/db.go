// Package store persists accounts and messages in SQLite and rebuilds
// ordered conversations between two users.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS users (
  username      TEXT NOT NULL PRIMARY KEY,
  password_hash BLOB NOT NULL,
  public_key    TEXT,
  created_at    INTEGER NOT NULL
);
`,
	`
CREATE TABLE IF NOT EXISTS messages (
  seq                INTEGER PRIMARY KEY AUTOINCREMENT,
  id                 TEXT NOT NULL UNIQUE,
  sender             TEXT NOT NULL REFERENCES users(username),
  receiver           TEXT NOT NULL REFERENCES users(username),
  encrypted_aes_key  TEXT NOT NULL CHECK(length(encrypted_aes_key) <= 1000),
  encrypted_message  TEXT NOT NULL CHECK(length(encrypted_message) <= 8000),
  iv                 TEXT NOT NULL CHECK(length(iv) <= 1000),
  timestamp          INTEGER NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_pair_time
ON messages (sender, receiver, timestamp, seq);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_receiver_time
ON messages (receiver, timestamp, seq);
`,
}

// DB is the shared SQLite handle.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the database at path and runs migrations.
// ":memory:" is not supported because every pooled connection would see its
// own empty database; use a file under t.TempDir() in tests.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, errors.Wrap(err, "create database directory")
		}
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", filepath.ToSlash(path))
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite database")
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "ping sqlite database")
	}

	db := &DB{DB: sqlDB}
	if err := db.enableWALMode(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// SchemaVersion returns the number of applied migrations.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, errors.Wrap(err, "read schema version")
	}
	return version, nil
}

func (db *DB) migrate() error {
	version, err := db.SchemaVersion()
	if err != nil {
		return err
	}
	if version >= len(migrations) {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin migration transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return errors.Wrapf(err, "apply migration %d", i+1)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return errors.Wrapf(err, "set schema version %d", i+1)
		}
	}

	return errors.Wrap(tx.Commit(), "commit migration transaction")
}

func (db *DB) enableWALMode() error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return errors.Wrap(err, "enable WAL mode")
	}
	if !strings.EqualFold(journalMode, "wal") {
		return errors.Errorf("enable WAL mode: unexpected journal mode %q", journalMode)
	}
	return nil
}
