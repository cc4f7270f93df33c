package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations on PostgreSQL.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id                   TEXT         PRIMARY KEY,
			name                 VARCHAR(100) NOT NULL,
			email                VARCHAR(255) UNIQUE NOT NULL,
			hashed_password      VARCHAR(255) NOT NULL,
			avatar               TEXT,
			is_admin             BOOLEAN      NOT NULL DEFAULT FALSE,
			security_question    TEXT,
			security_answer_hash VARCHAR(255) NOT NULL DEFAULT '',
			created_at           TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			seq              BIGSERIAL   PRIMARY KEY,
			id               TEXT        UNIQUE NOT NULL,
			conversation_key TEXT        NOT NULL,
			sender_id        TEXT        NOT NULL REFERENCES users(id),
			recipient_id     TEXT        NOT NULL REFERENCES users(id),
			content          TEXT        NOT NULL,
			type             VARCHAR(10) NOT NULL DEFAULT 'text',
			file_url         TEXT,
			is_read          BOOLEAN     NOT NULL DEFAULT FALSE,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_single_admin ON users(is_admin) WHERE is_admin`,
		`CREATE INDEX IF NOT EXISTS idx_users_created_at ON users(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_key, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient_id, is_read)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}

const uniqueViolation = "23505"

func constraintViolated(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == constraint
}
