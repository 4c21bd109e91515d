package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockroom/stockroom/internal/platform/db"
	"github.com/stockroom/stockroom/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, username, password_hash, type, disabled, create_date, created_by, update_date, updated_by`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Type, &u.Disabled,
		&u.CreateDate, &u.CreatedBy, &u.UpdateDate, &u.UpdatedBy)
	return u, err
}

// GetByUsername loads an account by its normalized username.
func (r *Repository) GetByUsername(ctx context.Context, username string) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, shared.NotFoundf("user %s not found", username)
	}
	return u, err
}

// List returns all users ordered by username.
func (r *Repository) List(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Insert stores a new account.
func (r *Repository) Insert(ctx context.Context, u User) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.Username, u.PasswordHash, u.Type, u.Disabled, u.CreateDate, u.CreatedBy, u.UpdateDate, u.UpdatedBy)
	if db.IsUniqueViolation(err) {
		return ErrUsernameTaken(u.Username)
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// Update persists the mutable fields of an account.
func (r *Repository) Update(ctx context.Context, u User) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $2, disabled = $3, update_date = $4, updated_by = $5 WHERE username = $1`,
		u.Username, u.PasswordHash, u.Disabled, u.UpdateDate, u.UpdatedBy)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("user %s not found", u.Username)
	}
	return nil
}

// Delete removes an account.
func (r *Repository) Delete(ctx context.Context, username string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE username = $1`, username)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("user %s not found", username)
	}
	return nil
}
