package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"auth-backend/internal/domain"
	"auth-backend/internal/repository"
)

var createUsersTable = []string{`
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE,
	first_name TEXT NOT NULL,
	last_name TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	refresh_token TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_users_refresh_token ON users(refresh_token)`,
}

// SQLSTATE unique_violation
const pgUniqueViolation = "23505"

const userColumns = `id, username, email, first_name, last_name, password_hash, refresh_token, created_at, updated_at`

type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) repository.UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Init(ctx context.Context) error {
	for _, stmt := range createUsersTable {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create users table: %w", err)
		}
	}
	return nil
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	now := time.Now().UTC()
	id := uuid.NewString()

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
INSERT INTO users (id, username, email, first_name, last_name, password_hash, refresh_token, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		id,
		user.Username,
		user.Email,
		user.FirstName,
		user.LastName,
		user.PasswordHash,
		nullString(user.RefreshToken),
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicateEmail
		}
		return fmt.Errorf("insert user: %w", err)
	}

	user.ID = id
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

func (r *UserRepository) Exists(ctx context.Context, email string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT 1 FROM users WHERE email = ?`), email).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check user exists: %w", err)
	}
	return true, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(`
SELECT `+userColumns+`
FROM users
WHERE email = ?`),
		email,
	)
	return scanUser(row)
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(`
SELECT `+userColumns+`
FROM users
WHERE id = ?`),
		id,
	)
	return scanUser(row)
}

func (r *UserRepository) GetByRefreshToken(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, repository.ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, r.db.Rebind(`
SELECT `+userColumns+`
FROM users
WHERE refresh_token = ?`),
		token,
	)
	return scanUser(row)
}

func (r *UserRepository) SetRefreshToken(ctx context.Context, id string, token string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
UPDATE users
SET refresh_token = ?, updated_at = ?
WHERE id = ?`),
		nullString(token),
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update refresh token: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("refresh token rows affected: %w", err)
	}
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *UserRepository) RevokeRefreshToken(ctx context.Context, id string, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
UPDATE users
SET refresh_token = NULL, updated_at = ?
WHERE id = ? AND refresh_token = ?`),
		time.Now().UTC(),
		id,
		token,
	)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *UserRepository) ListRefreshTokens(ctx context.Context) ([]repository.StoredRefreshToken, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, refresh_token
FROM users
WHERE refresh_token IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("list refresh tokens: %w", err)
	}
	defer rows.Close()

	var tokens []repository.StoredRefreshToken
	for rows.Next() {
		var t repository.StoredRefreshToken
		if err := rows.Scan(&t.UserID, &t.Token); err != nil {
			return nil, fmt.Errorf("scan refresh token: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refresh tokens: %w", err)
	}
	return tokens, nil
}

func scanUser(row interface {
	Scan(dest ...any) error
}) (*domain.User, error) {
	var (
		user         domain.User
		refreshToken sql.NullString
	)
	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.PasswordHash,
		&refreshToken,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	user.RefreshToken = refreshToken.String
	return &user, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
