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

type CertificateRepo struct {
	DB DBTX
}

const certificateColumns = `id, code, initial_amount, current_amount, currency, status,
owner_id, issued_by, issued_at, valid_from, valid_until, used_at, design_template, message, metadata`

const createCertificate = `-- name: CreateCertificate
INSERT INTO certificates (id, code, initial_amount, current_amount, currency, status,
	owner_id, issued_by, issued_at, valid_from, valid_until, design_template, message, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING ` + certificateColumns

func (r *CertificateRepo) CreateCertificate(ctx context.Context, c models.Certificate) (models.Certificate, error) {
	rows, _ := r.DB.Query(ctx, createCertificate,
		c.ID, c.Code, c.InitialAmount, c.CurrentAmount, c.Currency, string(c.Status),
		c.OwnerID, c.IssuedBy, c.IssuedAt, c.ValidFrom, c.ValidUntil,
		c.DesignTemplate, c.Message, c.Metadata,
	)
	cert, err := pgx.CollectOneRow(rows, rowToCertificate)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return cert, apperrors.ErrCertificateCodeTaken
		}

		return cert, fmt.Errorf("db error: %w", err)
	}

	return cert, nil
}

const getByCode = `-- name: GetByCode
SELECT ` + certificateColumns + `
FROM certificates
WHERE code = $1
`

func (r *CertificateRepo) GetByCode(ctx context.Context, code string, forUpdate bool) (models.Certificate, error) {
	query := getByCode
	if forUpdate {
		query += " FOR UPDATE"
	}

	rows, _ := r.DB.Query(ctx, query, code)
	cert, err := pgx.CollectOneRow(rows, rowToCertificate)

	switch {
	case err == nil:
		return cert, nil
	case errors.Is(err, pgx.ErrNoRows):
		return cert, apperrors.ErrCertificateNotFound
	default:
		return cert, fmt.Errorf("db error: %w", err)
	}
}

const setStatus = `-- name: SetStatus
UPDATE certificates SET status = $2
WHERE id = $1
`

func (r *CertificateRepo) SetStatus(ctx context.Context, id uuid.UUID, status models.CertificateStatus) error {
	tag, err := r.DB.Exec(ctx, setStatus, id, string(status))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrCertificateNotFound
	}

	return nil
}

const setUsed = `-- name: SetUsed
UPDATE certificates SET status = 'used', used_at = $2
WHERE id = $1
`

func (r *CertificateRepo) SetUsed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.DB.Exec(ctx, setUsed, id, time.Now())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrCertificateNotFound
	}

	return nil
}

// Conditional decrement keeps current_amount non-negative under concurrent
// redemptions: the losing request matches no row.
const applyRedemption = `-- name: ApplyRedemption
UPDATE certificates SET current_amount = current_amount - $2
WHERE id = $1 AND current_amount >= $2
RETURNING current_amount
`

func (r *CertificateRepo) ApplyRedemption(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	var remaining decimal.Decimal
	err := r.DB.QueryRow(ctx, applyRedemption, id, amount).Scan(&remaining)

	switch {
	case err == nil:
		return remaining, nil
	case errors.Is(err, pgx.ErrNoRows):
		return remaining, apperrors.ErrCertificateInsufficient
	default:
		return remaining, fmt.Errorf("db error: %w", err)
	}
}

const setOwner = `-- name: SetOwner
UPDATE certificates SET owner_id = $2
WHERE id = $1
`

func (r *CertificateRepo) SetOwner(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) error {
	tag, err := r.DB.Exec(ctx, setOwner, id, ownerID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrCertificateNotFound
	}

	return nil
}

const createRedemption = `-- name: CreateRedemption
INSERT INTO certificate_redemptions (id, certificate_id, amount_used, remaining_amount,
	external_doc_id, redeemed_by, redeemed_at, notes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, certificate_id, amount_used, remaining_amount, external_doc_id, redeemed_by, redeemed_at, notes
`

func (r *CertificateRepo) CreateRedemption(ctx context.Context, red models.CertificateRedemption) (models.CertificateRedemption, error) {
	rows, _ := r.DB.Query(ctx, createRedemption,
		red.ID, red.CertificateID, red.AmountUsed, red.RemainingAmount,
		red.ExternalDocID, red.RedeemedBy, red.RedeemedAt, red.Notes,
	)
	red, err := pgx.CollectOneRow(rows, rowToRedemption)
	if err != nil {
		return red, fmt.Errorf("db error: %w", err)
	}

	return red, nil
}

const createTransfer = `-- name: CreateTransfer
INSERT INTO certificate_transfers (id, certificate_id, from_user_id, to_user_id, message, transferred_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, certificate_id, from_user_id, to_user_id, message, transferred_at
`

func (r *CertificateRepo) CreateTransfer(ctx context.Context, t models.CertificateTransfer) (models.CertificateTransfer, error) {
	rows, _ := r.DB.Query(ctx, createTransfer,
		t.ID, t.CertificateID, t.FromUserID, t.ToUserID, t.Message, t.TransferredAt,
	)
	t, err := pgx.CollectOneRow(rows, rowToTransfer)
	if err != nil {
		return t, fmt.Errorf("db error: %w", err)
	}

	return t, nil
}

const listByOwner = `-- name: ListByOwner
SELECT ` + certificateColumns + `
FROM certificates
WHERE owner_id = $1
ORDER BY issued_at DESC
`

func (r *CertificateRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Certificate, error) {
	rows, _ := r.DB.Query(ctx, listByOwner, ownerID)
	certs, err := pgx.CollectRows(rows, rowToCertificate)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return certs, nil
}

const listRedemptions = `-- name: ListRedemptions
SELECT id, certificate_id, amount_used, remaining_amount, external_doc_id, redeemed_by, redeemed_at, notes
FROM certificate_redemptions
WHERE certificate_id = $1
ORDER BY redeemed_at
`

func (r *CertificateRepo) ListRedemptions(ctx context.Context, certificateID uuid.UUID) ([]models.CertificateRedemption, error) {
	rows, _ := r.DB.Query(ctx, listRedemptions, certificateID)
	reds, err := pgx.CollectRows(rows, rowToRedemption)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return reds, nil
}

const listTransfers = `-- name: ListTransfers
SELECT id, certificate_id, from_user_id, to_user_id, message, transferred_at
FROM certificate_transfers
WHERE certificate_id = $1
ORDER BY transferred_at
`

func (r *CertificateRepo) ListTransfers(ctx context.Context, certificateID uuid.UUID) ([]models.CertificateTransfer, error) {
	rows, _ := r.DB.Query(ctx, listTransfers, certificateID)
	transfers, err := pgx.CollectRows(rows, rowToTransfer)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return transfers, nil
}

func rowToCertificate(row pgx.CollectableRow) (models.Certificate, error) {
	var c models.Certificate
	err := row.Scan(
		&c.ID, &c.Code, &c.InitialAmount, &c.CurrentAmount, &c.Currency, &c.Status,
		&c.OwnerID, &c.IssuedBy, &c.IssuedAt, &c.ValidFrom, &c.ValidUntil, &c.UsedAt,
		&c.DesignTemplate, &c.Message, &c.Metadata,
	)
	return c, err
}

func rowToRedemption(row pgx.CollectableRow) (models.CertificateRedemption, error) {
	var r models.CertificateRedemption
	err := row.Scan(
		&r.ID, &r.CertificateID, &r.AmountUsed, &r.RemainingAmount,
		&r.ExternalDocID, &r.RedeemedBy, &r.RedeemedAt, &r.Notes,
	)
	return r, err
}

func rowToTransfer(row pgx.CollectableRow) (models.CertificateTransfer, error) {
	var t models.CertificateTransfer
	err := row.Scan(&t.ID, &t.CertificateID, &t.FromUserID, &t.ToUserID, &t.Message, &t.TransferredAt)
	return t, err
}
