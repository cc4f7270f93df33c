package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/saurabhrjk/admin-connect-chat/internal/domain"
)

const userColumns = `id, name, email, hashed_password, avatar, is_admin, security_question, security_answer_hash, created_at`

type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

var _ domain.UserRepository = (*UserRepo)(nil)

// Create inserts u. Concurrent first registrations race on the
// single-admin index; the losing insert is retried as a standard user.
func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	err := r.insert(ctx, u, `NOT EXISTS (SELECT 1 FROM users WHERE is_admin)`)
	if constraintViolated(err, "idx_users_single_admin") {
		err = r.insert(ctx, u, `FALSE`)
	}
	if constraintViolated(err, "users_email_key") {
		return domain.ErrDuplicateAccount
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepo) insert(ctx context.Context, u *domain.User, adminExpr string) error {
	query := `
		INSERT INTO users (id, name, email, hashed_password, avatar, is_admin, security_question, security_answer_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, ` + adminExpr + `, $6, $7, $8)
		RETURNING is_admin
	`
	return r.db.QueryRowContext(ctx, query,
		u.ID,
		u.Name,
		u.Email,
		u.HashedPassword,
		u.Avatar,
		u.SecurityQuestion,
		u.SecurityAnswerHash,
		u.CreatedAt,
	).Scan(&u.IsAdmin)
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *UserRepo) GetAdmin(ctx context.Context) (*domain.User, error) {
	return r.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE is_admin LIMIT 1`)
}

func (r *UserRepo) List(ctx context.Context) ([]*domain.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *UserRepo) UpdatePassword(ctx context.Context, id, hashedPassword string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET hashed_password = $1 WHERE id = $2`, hashedPassword, id)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *UserRepo) scanOne(ctx context.Context, query string, args ...any) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*domain.User, error) {
	u := &domain.User{}
	if err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.HashedPassword,
		&u.Avatar,
		&u.IsAdmin,
		&u.SecurityQuestion,
		&u.SecurityAnswerHash,
		&u.CreatedAt,
	); err != nil {
		return nil, err
	}
	return u, nil
}
