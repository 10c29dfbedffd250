package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/medpoint/loyalty/internal/apperrors"
	"github.com/medpoint/loyalty/internal/models"
)

type UserRepo struct {
	DB DBTX
}

const createUser = `-- name: CreateUser
INSERT INTO users (id, created_at, email, full_name, password_hash, role, external_id, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, created_at, email, full_name, password_hash, role, external_id, is_active
`

func (r *UserRepo) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	rows, _ := r.DB.Query(ctx, createUser,
		u.ID, u.CreatedAt, u.Email, u.FullName, u.PasswordHash, u.Role, u.ExternalID, u.IsActive,
	)
	u, err := pgx.CollectOneRow(rows, rowToUser)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return u, apperrors.ErrUserAlreadyExists
		}

		return u, fmt.Errorf("db error: %w", err)
	}

	return u, nil
}

const getUserByID = `-- name: GetUserByID
SELECT id, created_at, email, full_name, password_hash, role, external_id, is_active
FROM users
WHERE id = $1
`

func (r *UserRepo) GetUserByID(ctx context.Context, id uuid.UUID) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByID, id)
	return collectUser(rows)
}

const getUserByEmail = `-- name: GetUserByEmail
SELECT id, created_at, email, full_name, password_hash, role, external_id, is_active
FROM users
WHERE email = $1
`

func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByEmail, email)
	return collectUser(rows)
}

const getUserByExternalID = `-- name: GetUserByExternalID
SELECT id, created_at, email, full_name, password_hash, role, external_id, is_active
FROM users
WHERE external_id = $1
`

func (r *UserRepo) GetUserByExternalID(ctx context.Context, externalID string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByExternalID, externalID)
	return collectUser(rows)
}

func collectUser(rows pgx.Rows) (models.User, error) {
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		return user, apperrors.ErrUserNotFound
	default:
		return user, fmt.Errorf("db error: %w", err)
	}
}

func rowToUser(row pgx.CollectableRow) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.CreatedAt, &u.Email, &u.FullName, &u.PasswordHash, &u.Role, &u.ExternalID, &u.IsActive)
	return u, err
}
