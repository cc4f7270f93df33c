package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// Open opens a SQLite database with the given DSN.
//
// The pool is limited to one connection: SQLite serializes writers anyway
// and a single connection avoids SQLITE_BUSY between pooled connections.
func Open(dsn string) (*sql.DB, error) {
	if !strings.Contains(dsn, "?") {
		// Store timestamps in a fixed, lexically ordered layout.
		dsn += "?_time_format=sqlite"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA foreign_keys = ON;`,
		`PRAGMA busy_timeout = 5000;`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return db, nil
}

// Migrate runs idempotent CREATE TABLE / CREATE INDEX statements.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id                   TEXT PRIMARY KEY,
			name                 VARCHAR(100) NOT NULL,
			email                VARCHAR(255) UNIQUE NOT NULL,
			hashed_password      VARCHAR(255) NOT NULL,
			avatar               TEXT,
			is_admin             BOOLEAN NOT NULL DEFAULT 0,
			security_question    TEXT,
			security_answer_hash VARCHAR(255) NOT NULL DEFAULT '',
			created_at           DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq              INTEGER PRIMARY KEY AUTOINCREMENT,
			id               TEXT UNIQUE NOT NULL,
			conversation_key TEXT NOT NULL,
			sender_id        TEXT NOT NULL,
			recipient_id     TEXT NOT NULL,
			content          TEXT NOT NULL,
			type             VARCHAR(10) NOT NULL DEFAULT 'text',
			file_url         TEXT,
			is_read          BOOLEAN NOT NULL DEFAULT 0,
			created_at       DATETIME NOT NULL,
			FOREIGN KEY (sender_id) REFERENCES users(id),
			FOREIGN KEY (recipient_id) REFERENCES users(id)
		);`,
		// At most one admin row may ever exist.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_single_admin ON users(is_admin) WHERE is_admin = 1;`,
		`CREATE INDEX IF NOT EXISTS idx_users_created_at ON users(created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_key, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient_id, is_read);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
