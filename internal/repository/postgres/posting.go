package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/medpoint/loyalty/internal/apperrors"
	"github.com/medpoint/loyalty/internal/models"
	"github.com/medpoint/loyalty/internal/repository"
)

type PostingRepo struct {
	DB DBTX
}

const postingColumns = `id, created_at, account_id, kind, amount, currency,
source, source_id, description, metadata, idempotency_key, reversed_by, reverses, created_by`

// Insert the posting unless its idempotency key is already taken; in that
// case return the stored posting as is. Check and insert are one statement,
// so two concurrent replays can't both write.
const createPosting = `-- name: CreatePosting
WITH insert_posting AS (
	INSERT INTO postings (id, created_at, account_id, kind, amount, currency,
		source, source_id, description, metadata, idempotency_key, reverses, created_by)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (idempotency_key) DO NOTHING
	RETURNING ` + postingColumns + `
)
SELECT ` + postingColumns + ` FROM insert_posting
UNION ALL
SELECT ` + postingColumns + ` FROM postings WHERE idempotency_key = $11
`

func (r *PostingRepo) CreatePosting(ctx context.Context, p models.Posting) (models.Posting, bool, error) {
	rows, _ := r.DB.Query(ctx, createPosting,
		p.ID, p.CreatedAt, p.AccountID, string(p.Kind), p.Amount, string(p.Currency),
		p.Source, p.SourceID, p.Description, p.Metadata, p.IdempotencyKey, p.Reverses, p.CreatedBy,
	)
	stored, err := pgx.CollectOneRow(rows, rowToPosting)

	if err != nil {
		return stored, false, fmt.Errorf("db error: %w", err)
	}

	return stored, stored.ID == p.ID, nil
}

const getPosting = `-- name: GetPosting
SELECT ` + postingColumns + `
FROM postings
WHERE id = $1
`

func (r *PostingRepo) GetPosting(ctx context.Context, id uuid.UUID) (models.Posting, error) {
	rows, _ := r.DB.Query(ctx, getPosting, id)
	posting, err := pgx.CollectOneRow(rows, rowToPosting)

	switch {
	case err == nil:
		return posting, nil
	case errors.Is(err, pgx.ErrNoRows):
		return posting, apperrors.ErrPostingNotFound
	default:
		return posting, fmt.Errorf("db error: %w", err)
	}
}

// Conditional update: only an unreversed posting may be linked, so a second
// concurrent reversal loses and gets ErrPostingAlreadyReversed.
const markReversed = `-- name: MarkReversed
UPDATE postings SET reversed_by = $2
WHERE id = $1 AND reversed_by IS NULL
`

func (r *PostingRepo) MarkReversed(ctx context.Context, postingID uuid.UUID, reversalID uuid.UUID) error {
	tag, err := r.DB.Exec(ctx, markReversed, postingID, reversalID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	if tag.RowsAffected() == 0 {
		if _, err := r.GetPosting(ctx, postingID); err != nil {
			return err
		}
		return apperrors.ErrPostingAlreadyReversed
	}

	return nil
}

const listPostings = `-- name: ListPostings
SELECT ` + postingColumns + `
FROM postings
WHERE account_id = $1 AND ($2::text[] IS NULL OR kind = ANY($2))
ORDER BY created_at DESC, id
LIMIT $3 OFFSET $4
`

func (r *PostingRepo) ListPostings(ctx context.Context, accountID uuid.UUID, opts repository.ListPostingsOpts) ([]models.Posting, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	var kinds []string
	for _, k := range opts.Kinds {
		kinds = append(kinds, string(k))
	}

	rows, _ := r.DB.Query(ctx, listPostings, accountID, kinds, limit, opts.Offset)
	postings, err := pgx.CollectRows(rows, rowToPosting)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return postings, nil
}

const countPostings = `-- name: CountPostings
SELECT count(*) FROM postings WHERE account_id = $1
`

func (r *PostingRepo) CountPostings(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var count int64
	err := r.DB.QueryRow(ctx, countPostings, accountID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return count, nil
}

func rowToPosting(row pgx.CollectableRow) (models.Posting, error) {
	var p models.Posting
	err := row.Scan(
		&p.ID, &p.CreatedAt, &p.AccountID, &p.Kind, &p.Amount, &p.Currency,
		&p.Source, &p.SourceID, &p.Description, &p.Metadata, &p.IdempotencyKey,
		&p.ReversedBy, &p.Reverses, &p.CreatedBy,
	)
	return p, err
}
