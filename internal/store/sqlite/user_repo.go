package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

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

// Create inserts u. The row becomes the admin only when no admin exists
// yet; the single-admin unique index settles concurrent first inserts and
// the loser is stored as a standard user.
func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	err := r.insert(ctx, u, `(SELECT NOT EXISTS (SELECT 1 FROM users WHERE is_admin = 1))`)
	if isAdminConflict(err) {
		err = r.insert(ctx, u, `0`)
	}
	if isUniqueViolation(err, "users.email") {
		return domain.ErrDuplicateAccount
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	isAdmin := false
	if err := r.db.QueryRowContext(ctx, `SELECT is_admin FROM users WHERE id = ?`, u.ID).Scan(&isAdmin); err != nil {
		return fmt.Errorf("read admin flag: %w", err)
	}
	u.IsAdmin = isAdmin
	return nil
}

func (r *UserRepo) insert(ctx context.Context, u *domain.User, adminExpr string) error {
	query := `
		INSERT INTO users (id, name, email, hashed_password, avatar, is_admin, security_question, security_answer_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ` + adminExpr + `, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		u.ID,
		u.Name,
		u.Email,
		u.HashedPassword,
		u.Avatar,
		u.SecurityQuestion,
		u.SecurityAnswerHash,
		u.CreatedAt,
	)
	return err
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

func (r *UserRepo) GetAdmin(ctx context.Context) (*domain.User, error) {
	return r.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE is_admin = 1 LIMIT 1`)
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
	res, err := r.db.ExecContext(ctx, `UPDATE users SET hashed_password = ? WHERE id = ?`, hashedPassword, id)
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
	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.HashedPassword,
		&u.Avatar,
		&u.IsAdmin,
		&u.SecurityQuestion,
		&u.SecurityAnswerHash,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func isUniqueViolation(err error, target string) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: "+target)
}

func isAdminConflict(err error) bool {
	return isUniqueViolation(err, "users.is_admin") || isUniqueViolation(err, "index 'idx_users_single_admin'")
}
