// Package store selects and opens the SQL backend for the repositories.
package store

import (
	"database/sql"
	"fmt"

	"github.com/saurabhrjk/admin-connect-chat/internal/domain"
	"github.com/saurabhrjk/admin-connect-chat/internal/store/postgres"
	"github.com/saurabhrjk/admin-connect-chat/internal/store/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Repositories bundles the repositories backed by one database handle.
type Repositories struct {
	DB       *sql.DB
	Users    domain.UserRepository
	Messages domain.MessageRepository
}

// Open connects to the database for driver, runs migrations and builds the
// repositories.
func Open(driver, dsn string) (*Repositories, error) {
	switch driver {
	case DriverSQLite, "":
		db, err := sqlite.Open(dsn)
		if err != nil {
			return nil, err
		}
		if err := sqlite.Migrate(db); err != nil {
			db.Close()
			return nil, err
		}
		return &Repositories{DB: db, Users: sqlite.NewUserRepo(db), Messages: sqlite.NewMessageRepo(db)}, nil
	case DriverPostgres:
		db, err := postgres.Open(dsn)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, err
		}
		return &Repositories{DB: db, Users: postgres.NewUserRepo(db), Messages: postgres.NewMessageRepo(db)}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Close releases the database handle.
func (r *Repositories) Close() error {
	return r.DB.Close()
}
