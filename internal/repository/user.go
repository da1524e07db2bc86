package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bookstore/internal/domain/auth"
)

const (
	insertUserSQL = `INSERT INTO users (username, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	userSelect = `SELECT id, username, email, password_hash, created_at FROM users`

	getUserByIDSQL = userSelect + ` WHERE id = $1`

	getUserByUsernameSQL = userSelect + ` WHERE username = $1`

	findUsersByEmailSQL = userSelect + ` WHERE LOWER(email) = LOWER($1) ORDER BY id`

	updatePasswordSQL = `UPDATE users SET password_hash = $2 WHERE id = $1`
)

var _ auth.UserRepository = (*UserRepository)(nil)

// UserRepository implements auth.UserRepository backed by PostgreSQL.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create inserts a user.
func (r *UserRepository) Create(ctx context.Context, u *auth.User) error {
	err := r.pool.QueryRow(ctx, insertUserSQL, u.Username, u.Email, u.PasswordHash).
		Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.ErrUsernameTaken
		}
		return fmt.Errorf("inserting user %q: %w", u.Username, err)
	}
	return nil
}

// GetByID returns a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*auth.User, error) {
	return r.getOne(ctx, getUserByIDSQL, id)
}

// GetByUsername returns a user by exact username.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	return r.getOne(ctx, getUserByUsernameSQL, username)
}

// FindByEmail returns every user registered with email, ignoring case.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) ([]auth.User, error) {
	rows, err := r.pool.Query(ctx, findUsersByEmailSQL, email)
	if err != nil {
		return nil, fmt.Errorf("finding users by email: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[auth.User])
}

// UpdatePassword replaces the stored password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id int64, hash string) error {
	tag, err := r.pool.Exec(ctx, updatePasswordSQL, id, hash)
	if err != nil {
		return fmt.Errorf("updating password of user %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) getOne(ctx context.Context, sql string, arg any) (*auth.User, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting user %v: %w", arg, err)
	}
	u, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[auth.User])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrUserNotFound
		}
		return nil, fmt.Errorf("getting user %v: %w", arg, err)
	}
	return &u, nil
}
