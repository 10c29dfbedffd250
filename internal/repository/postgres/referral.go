package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/medpoint/loyalty/internal/apperrors"
	"github.com/medpoint/loyalty/internal/models"
)

type ReferralRepo struct {
	DB DBTX
}

const referralCodeColumns = `id, user_id, code, referrer_type,
total_referrals, successful_referrals, total_revenue, is_active, created_at`

const createReferralCode = `-- name: CreateCode
INSERT INTO referral_codes (id, user_id, code, referrer_type, is_active, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + referralCodeColumns

func (r *ReferralRepo) CreateCode(ctx context.Context, c models.ReferralCode) (models.ReferralCode, error) {
	rows, _ := r.DB.Query(ctx, createReferralCode,
		c.ID, c.UserID, c.Code, c.ReferrerType, c.IsActive, c.CreatedAt,
	)
	c, err := pgx.CollectOneRow(rows, rowToReferralCode)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return c, apperrors.ErrReferralCodeTaken
		}

		return c, fmt.Errorf("db error: %w", err)
	}

	return c, nil
}

const getActiveCode = `-- name: GetActiveCode
SELECT ` + referralCodeColumns + `
FROM referral_codes
WHERE code = $1 AND is_active
`

func (r *ReferralRepo) GetActiveCode(ctx context.Context, code string) (models.ReferralCode, error) {
	rows, _ := r.DB.Query(ctx, getActiveCode, code)
	return collectReferralCode(rows)
}

const getActiveCodeByUserID = `-- name: GetActiveCodeByUserID
SELECT ` + referralCodeColumns + `
FROM referral_codes
WHERE user_id = $1 AND is_active
`

func (r *ReferralRepo) GetActiveCodeByUserID(ctx context.Context, userID uuid.UUID) (models.ReferralCode, error) {
	rows, _ := r.DB.Query(ctx, getActiveCodeByUserID, userID)
	return collectReferralCode(rows)
}

const deactivateCode = `-- name: DeactivateCode
UPDATE referral_codes SET is_active = false
WHERE id = $1
`

func (r *ReferralRepo) DeactivateCode(ctx context.Context, id uuid.UUID) error {
	tag, err := r.DB.Exec(ctx, deactivateCode, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrReferralCodeNotFound
	}

	return nil
}

const bumpCounters = `-- name: BumpCounters
UPDATE referral_codes SET
	total_referrals = total_referrals + 1,
	successful_referrals = successful_referrals + CASE WHEN $2 THEN 1 ELSE 0 END,
	total_revenue = total_revenue + $3
WHERE id = $1
`

func (r *ReferralRepo) BumpCounters(ctx context.Context, codeID uuid.UUID, successful bool, revenue decimal.Decimal) error {
	tag, err := r.DB.Exec(ctx, bumpCounters, codeID, successful, revenue)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrReferralCodeNotFound
	}

	return nil
}

const referralEventColumns = `id, referral_code_id, referred_user_id, event_type,
transaction_amount, external_doc_id, processed, occurred_at, metadata`

// Same trick the posting insert uses: a replay of an already registered ERP
// document returns the stored event without writing anything.
const createEvent = `-- name: CreateEvent
WITH insert_event AS (
	INSERT INTO referral_events (id, referral_code_id, referred_user_id, event_type,
		transaction_amount, external_doc_id, processed, occurred_at, metadata)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (event_type, external_doc_id) WHERE external_doc_id IS NOT NULL DO NOTHING
	RETURNING ` + referralEventColumns + `
)
SELECT ` + referralEventColumns + ` FROM insert_event
UNION ALL
SELECT ` + referralEventColumns + ` FROM referral_events
WHERE event_type = $4 AND external_doc_id = $6
`

func (r *ReferralRepo) CreateEvent(ctx context.Context, e models.ReferralEvent) (models.ReferralEvent, bool, error) {
	rows, _ := r.DB.Query(ctx, createEvent,
		e.ID, e.ReferralCodeID, e.ReferredUserID, string(e.EventType),
		e.TransactionAmount, e.ExternalDocID, e.Processed, e.OccurredAt, e.Metadata,
	)
	stored, err := pgx.CollectOneRow(rows, rowToReferralEvent)

	if err != nil {
		return stored, false, fmt.Errorf("db error: %w", err)
	}

	return stored, stored.ID == e.ID, nil
}

const markEventProcessed = `-- name: MarkEventProcessed
UPDATE referral_events SET processed = true
WHERE id = $1
`

func (r *ReferralRepo) MarkEventProcessed(ctx context.Context, eventID uuid.UUID) error {
	_, err := r.DB.Exec(ctx, markEventProcessed, eventID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

const countEvents = `-- name: CountEvents
SELECT count(*) FROM referral_events
WHERE referral_code_id = $1 AND event_type = $2
`

func (r *ReferralRepo) CountEvents(ctx context.Context, codeID uuid.UUID, eventType models.ReferralEventType) (int64, error) {
	var count int64
	err := r.DB.QueryRow(ctx, countEvents, codeID, string(eventType)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return count, nil
}

const createReward = `-- name: CreateReward
INSERT INTO referral_rewards (id, event_id, recipient_user_id, reward_type, reward_amount,
	referral_level, posting_id, awarded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, event_id, recipient_user_id, reward_type, reward_amount, referral_level, posting_id, awarded_at
`

func (r *ReferralRepo) CreateReward(ctx context.Context, reward models.ReferralReward) (models.ReferralReward, error) {
	rows, _ := r.DB.Query(ctx, createReward,
		reward.ID, reward.EventID, reward.RecipientUserID, string(reward.RewardType),
		reward.RewardAmount, reward.ReferralLevel, reward.PostingID, reward.AwardedAt,
	)
	reward, err := pgx.CollectOneRow(rows, rowToReferralReward)
	if err != nil {
		return reward, fmt.Errorf("db error: %w", err)
	}

	return reward, nil
}

const listRewardsByRecipient = `-- name: ListRewardsByRecipient
SELECT id, event_id, recipient_user_id, reward_type, reward_amount, referral_level, posting_id, awarded_at
FROM referral_rewards
WHERE recipient_user_id = $1
ORDER BY awarded_at DESC
`

func (r *ReferralRepo) ListRewardsByRecipient(ctx context.Context, userID uuid.UUID) ([]models.ReferralReward, error) {
	rows, _ := r.DB.Query(ctx, listRewardsByRecipient, userID)
	rewards, err := pgx.CollectRows(rows, rowToReferralReward)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return rewards, nil
}

const sumRewards = `-- name: SumRewards
SELECT coalesce(sum(r.reward_amount), 0)
FROM referral_rewards r
JOIN referral_events e ON e.id = r.event_id
WHERE e.referral_code_id = $1
`

func (r *ReferralRepo) SumRewards(ctx context.Context, codeID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.DB.QueryRow(ctx, sumRewards, codeID).Scan(&total)
	if err != nil {
		return total, fmt.Errorf("db error: %w", err)
	}

	return total, nil
}

func collectReferralCode(rows pgx.Rows) (models.ReferralCode, error) {
	code, err := pgx.CollectOneRow(rows, rowToReferralCode)

	switch {
	case err == nil:
		return code, nil
	case errors.Is(err, pgx.ErrNoRows):
		return code, apperrors.ErrReferralCodeNotFound
	default:
		return code, fmt.Errorf("db error: %w", err)
	}
}

func rowToReferralCode(row pgx.CollectableRow) (models.ReferralCode, error) {
	var c models.ReferralCode
	err := row.Scan(
		&c.ID, &c.UserID, &c.Code, &c.ReferrerType,
		&c.TotalReferrals, &c.SuccessfulReferrals, &c.TotalRevenue, &c.IsActive, &c.CreatedAt,
	)
	return c, err
}

func rowToReferralEvent(row pgx.CollectableRow) (models.ReferralEvent, error) {
	var e models.ReferralEvent
	err := row.Scan(
		&e.ID, &e.ReferralCodeID, &e.ReferredUserID, &e.EventType,
		&e.TransactionAmount, &e.ExternalDocID, &e.Processed, &e.OccurredAt, &e.Metadata,
	)
	return e, err
}

func rowToReferralReward(row pgx.CollectableRow) (models.ReferralReward, error) {
	var r models.ReferralReward
	err := row.Scan(
		&r.ID, &r.EventID, &r.RecipientUserID, &r.RewardType, &r.RewardAmount,
		&r.ReferralLevel, &r.PostingID, &r.AwardedAt,
	)
	return r, err
}
