package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/medpoint/loyalty/internal/apperrors"
	"github.com/medpoint/loyalty/internal/models"
)

type AccountRepo struct {
	DB DBTX
}

const accountColumns = `id, user_id, points_balance, cashback_balance,
total_points_earned, total_points_spent, total_cashback_earned, total_cashback_spent,
card_tier, created_at, updated_at`

const createAccount = `-- name: CreateAccount
INSERT INTO accounts (id, user_id)
VALUES ($1, $2)
RETURNING ` + accountColumns

func (r *AccountRepo) CreateAccount(ctx context.Context, userID uuid.UUID) (models.Account, error) {
	rows, _ := r.DB.Query(ctx, createAccount, uuid.New(), userID)
	account, err := pgx.CollectOneRow(rows, rowToAccount)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return account, fmt.Errorf("user account already exists: %w", err)
		}

		return account, fmt.Errorf("db error: %w", err)
	}

	return account, nil
}

const getAccount = `-- name: GetAccount
SELECT ` + accountColumns + `
FROM accounts
WHERE id = $1
`

func (r *AccountRepo) GetAccount(ctx context.Context, id uuid.UUID) (models.Account, error) {
	rows, _ := r.DB.Query(ctx, getAccount, id)
	return collectAccount(rows)
}

const getAccountByUserID = `-- name: GetAccountByUserID
SELECT ` + accountColumns + `
FROM accounts
WHERE user_id = $1
`

func (r *AccountRepo) GetAccountByUserID(ctx context.Context, userID uuid.UUID) (models.Account, error) {
	rows, _ := r.DB.Query(ctx, getAccountByUserID, userID)
	return collectAccount(rows)
}

// Credit postings add to the balance and the earned counter, debit postings
// subtract from the balance and add to the spent counter. The conditional
// WHERE keeps the balance non-negative: zero rows updated on a debit means
// the funds are insufficient (or the account is gone, checked after).
const applyCredit = `-- name: ApplyCredit
UPDATE accounts SET
	points_balance = points_balance + CASE WHEN $2 = 'points' THEN $3::numeric ELSE 0 END,
	cashback_balance = cashback_balance + CASE WHEN $2 = 'cashback' THEN $3::numeric ELSE 0 END,
	total_points_earned = total_points_earned + CASE WHEN $2 = 'points' THEN $3::numeric ELSE 0 END,
	total_cashback_earned = total_cashback_earned + CASE WHEN $2 = 'cashback' THEN $3::numeric ELSE 0 END,
	updated_at = $4
WHERE id = $1
RETURNING ` + accountColumns

const applyDebit = `-- name: ApplyDebit
UPDATE accounts SET
	points_balance = points_balance - CASE WHEN $2 = 'points' THEN $3::numeric ELSE 0 END,
	cashback_balance = cashback_balance - CASE WHEN $2 = 'cashback' THEN $3::numeric ELSE 0 END,
	total_points_spent = total_points_spent + CASE WHEN $2 = 'points' THEN $3::numeric ELSE 0 END,
	total_cashback_spent = total_cashback_spent + CASE WHEN $2 = 'cashback' THEN $3::numeric ELSE 0 END,
	updated_at = $4
WHERE id = $1
  AND (($2 = 'points' AND points_balance >= $3::numeric) OR ($2 = 'cashback' AND cashback_balance >= $3::numeric))
RETURNING ` + accountColumns

func (r *AccountRepo) ApplyPosting(ctx context.Context, accountID uuid.UUID, kind models.PostingKind, currency models.Currency, amount decimal.Decimal) (models.Account, error) {
	query := applyDebit
	if kind.Credit() {
		query = applyCredit
	}

	rows, _ := r.DB.Query(ctx, query, accountID, string(currency), amount, time.Now())
	account, err := pgx.CollectOneRow(rows, rowToAccount)

	switch {
	case err == nil:
		return account, nil
	case errors.Is(err, pgx.ErrNoRows) && kind.Credit():
		return account, apperrors.ErrAccountNotFound
	case errors.Is(err, pgx.ErrNoRows):
		// Debit matched no row: either the account is missing or the
		// balance is short. Look the account up to tell them apart.
		if _, getErr := r.GetAccount(ctx, accountID); getErr != nil {
			return account, getErr
		}
		return account, apperrors.ErrInsufficientBalance
	default:
		return account, fmt.Errorf("db error: %w", err)
	}
}

func collectAccount(rows pgx.Rows) (models.Account, error) {
	account, err := pgx.CollectOneRow(rows, rowToAccount)

	switch {
	case err == nil:
		return account, nil
	case errors.Is(err, pgx.ErrNoRows):
		return account, apperrors.ErrAccountNotFound
	default:
		return account, fmt.Errorf("db error: %w", err)
	}
}

func rowToAccount(row pgx.CollectableRow) (models.Account, error) {
	var a models.Account
	err := row.Scan(
		&a.ID, &a.UserID, &a.PointsBalance, &a.CashbackBalance,
		&a.TotalPointsEarned, &a.TotalPointsSpent, &a.TotalCashbackEarned, &a.TotalCashbackSpent,
		&a.CardTier, &a.CreatedAt, &a.UpdatedAt,
	)
	return a, err
}
