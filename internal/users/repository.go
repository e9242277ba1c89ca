package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a user lookup finds no matching record.
var ErrNotFound = errors.New("user not found")

// ErrDuplicateLogin is returned when an account with the same login exists.
var ErrDuplicateLogin = errors.New("login already taken")

// UserRepository provides CRUD operations for users against PostgreSQL.
type UserRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user record. Sets ID, CreatedAt, UpdatedAt on the user.
func (r *UserRepository) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	q := `
		INSERT INTO users (id, login, password_hash, role, disabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.Exec(ctx, q,
		u.ID, u.Login, u.PasswordHash, u.Role, u.Disabled, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateLogin
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetByLogin retrieves a user by login name.
func (r *UserRepository) GetByLogin(ctx context.Context, login string) (*User, error) {
	return r.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE login = $1`, login)
}

// SetPasswordHash updates a user's password hash.
func (r *UserRepository) SetPasswordHash(ctx context.Context, userID uuid.UUID, hash string) error {
	q := `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`
	tag, err := r.db.Exec(ctx, q, userID, hash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRole changes a user's role.
func (r *UserRepository) SetRole(ctx context.Context, userID uuid.UUID, role string) error {
	q := `UPDATE users SET role = $2, updated_at = $3 WHERE id = $1`
	tag, err := r.db.Exec(ctx, q, userID, role, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const userColumns = `id, login, password_hash, role, disabled, created_at, updated_at`

// scanOne executes a single-row query and scans the result into a User.
func (r *UserRepository) scanOne(ctx context.Context, q string, args ...any) (*User, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	var u User
	if err := rows.Scan(
		&u.ID, &u.Login, &u.PasswordHash, &u.Role, &u.Disabled, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, rows.Err()
}
